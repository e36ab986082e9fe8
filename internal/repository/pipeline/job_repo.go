package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fable/internal/model/pipeline"
)

// JobRepository 生成任务仓库接口
type JobRepository interface {
	Create(ctx context.Context, job *pipeline.GenerationJob) error
	FindByID(ctx context.Context, id string) (*pipeline.GenerationJob, error)
	FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.GenerationJob, error)
	FindByChapterID(ctx context.Context, chapterID string) ([]*pipeline.GenerationJob, error)
	FindByStatus(ctx context.Context, status pipeline.GenerationStatus) ([]*pipeline.GenerationJob, error) // 用于恢复扫描
	UpdateStatus(ctx context.Context, id string, status pipeline.GenerationStatus, errorMsg string) error
	UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error
	UpdateScriptData(ctx context.Context, id string, data *pipeline.ScriptData) error
	UpdateImageData(ctx context.Context, id string, data *pipeline.ImageData) error
	UpdateVideoData(ctx context.Context, id string, data *pipeline.VideoData) error
	UpdateMergeData(ctx context.Context, id string, data *pipeline.MergeData, finalVideoURL string) error
	UpdateRetryState(ctx context.Context, id string, retryCount int, canResume bool) error
	Delete(ctx context.Context, id string) error
}

// JobRepo 生成任务仓库实现
type JobRepo struct {
	coll *mongo.Collection
}

// NewJobRepo 创建生成任务仓库
func NewJobRepo(db *mongo.Database) *JobRepo {
	var j pipeline.GenerationJob
	return &JobRepo{coll: db.Collection(j.Collection())}
}

// Create 创建生成任务
func (r *JobRepo) Create(ctx context.Context, job *pipeline.GenerationJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.GenerationStatus == "" {
		job.GenerationStatus = pipeline.GenerationStatusQueued // 默认已入队
	}
	job.CanResume = true
	_, err := r.coll.InsertOne(ctx, job)
	return err
}

// FindByID 根据ID查询生成任务
func (r *JobRepo) FindByID(ctx context.Context, id string) (*pipeline.GenerationJob, error) {
	var job pipeline.GenerationJob
	if err := r.coll.FindOne(ctx, bson.M{"id": id, "deleted_at": nil}).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByUserID 查询用户的生成任务，按创建时间倒序
func (r *JobRepo) FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.GenerationJob, error) {
	filter := bson.M{"user_id": userID, "deleted_at": nil}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*pipeline.GenerationJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindByChapterID 根据章节ID查询生成任务
func (r *JobRepo) FindByChapterID(ctx context.Context, chapterID string) ([]*pipeline.GenerationJob, error) {
	filter := bson.M{"chapter_id": chapterID, "deleted_at": nil}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*pipeline.GenerationJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindByStatus 根据状态查询生成任务（用于恢复扫描）
func (r *JobRepo) FindByStatus(ctx context.Context, status pipeline.GenerationStatus) ([]*pipeline.GenerationJob, error) {
	filter := bson.M{"generation_status": status, "deleted_at": nil}
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*pipeline.GenerationJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateStatus 更新生成状态和错误信息
func (r *JobRepo) UpdateStatus(ctx context.Context, id string, status pipeline.GenerationStatus, errorMsg string) error {
	update := bson.M{
		"generation_status": status,
		"error_message":     errorMsg,
		"updated_at":        time.Now(),
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateProgress 更新进度百分比和当前步骤
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error {
	update := bson.M{
		"progress":     progress,
		"current_step": currentStep,
		"updated_at":   time.Now(),
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateScriptData 写入解析后的剧本数据
func (r *JobRepo) UpdateScriptData(ctx context.Context, id string, data *pipeline.ScriptData) error {
	update := bson.M{"script_data": data, "updated_at": time.Now()}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateImageData 写入图片清单
func (r *JobRepo) UpdateImageData(ctx context.Context, id string, data *pipeline.ImageData) error {
	update := bson.M{"image_data": data, "updated_at": time.Now()}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateVideoData 写入视频清单
func (r *JobRepo) UpdateVideoData(ctx context.Context, id string, data *pipeline.VideoData) error {
	update := bson.M{"video_data": data, "updated_at": time.Now()}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateMergeData 写入合并结果和最终视频URL
func (r *JobRepo) UpdateMergeData(ctx context.Context, id string, data *pipeline.MergeData, finalVideoURL string) error {
	update := bson.M{
		"merge_data":      data,
		"final_video_url": finalVideoURL,
		"updated_at":      time.Now(),
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// UpdateRetryState 更新重试计数和可恢复标记，并记录重试时间
func (r *JobRepo) UpdateRetryState(ctx context.Context, id string, retryCount int, canResume bool) error {
	now := time.Now()
	update := bson.M{
		"retry_count":   retryCount,
		"can_resume":    canResume,
		"last_retry_at": now,
		"updated_at":    now,
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}

// Delete 软删除生成任务
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	update := bson.M{"deleted_at": time.Now(), "updated_at": time.Now()}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id, "deleted_at": nil}, bson.M{"$set": update})
	return err
}
