package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fable/internal/model/pipeline"
)

// SegmentRepository 场景视频片段仓库接口
type SegmentRepository interface {
	Upsert(ctx context.Context, seg *pipeline.SceneVideoSegment) error
	FindByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error)
	FindByJobAndScene(ctx context.Context, jobID, sceneID string) (*pipeline.SceneVideoSegment, error)
	FindCompletedByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error)
	DeleteByJobID(ctx context.Context, jobID string) error
}

// SegmentRepo 场景视频片段仓库实现
type SegmentRepo struct {
	coll *mongo.Collection
}

// NewSegmentRepo 创建场景视频片段仓库
func NewSegmentRepo(db *mongo.Database) *SegmentRepo {
	var s pipeline.SceneVideoSegment
	return &SegmentRepo{coll: db.Collection(s.Collection())}
}

// Upsert 按 (job_id, scene_id) 写入片段
// 片段写入后不可变，只有重试会用新结果整条覆盖
func (r *SegmentRepo) Upsert(ctx context.Context, seg *pipeline.SceneVideoSegment) error {
	now := time.Now()
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = now
	}
	seg.UpdatedAt = now

	filter := bson.M{"job_id": seg.JobID, "scene_id": seg.SceneID}
	opts := options.Replace().SetUpsert(true)
	_, err := r.coll.ReplaceOne(ctx, filter, seg, opts)
	return err
}

// FindByJobID 查询任务的全部片段，按片段序号升序
func (r *SegmentRepo) FindByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error) {
	filter := bson.M{"job_id": jobID}
	opts := options.Find().SetSort(bson.M{"segment_index": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var segments []*pipeline.SceneVideoSegment
	if err := cursor.All(ctx, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// FindByJobAndScene 查询任务中指定场景的片段
func (r *SegmentRepo) FindByJobAndScene(ctx context.Context, jobID, sceneID string) (*pipeline.SceneVideoSegment, error) {
	var seg pipeline.SceneVideoSegment
	if err := r.coll.FindOne(ctx, bson.M{"job_id": jobID, "scene_id": sceneID}).Decode(&seg); err != nil {
		return nil, err
	}
	return &seg, nil
}

// FindCompletedByJobID 查询任务中已成功的片段，按片段序号升序（供合并阶段消费）
func (r *SegmentRepo) FindCompletedByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error) {
	filter := bson.M{"job_id": jobID, "status": pipeline.SegmentStatusCompleted}
	opts := options.Find().SetSort(bson.M{"segment_index": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var segments []*pipeline.SceneVideoSegment
	if err := cursor.All(ctx, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// DeleteByJobID 删除任务的全部片段（任务级硬重试前的清理）
func (r *SegmentRepo) DeleteByJobID(ctx context.Context, jobID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"job_id": jobID})
	return err
}
