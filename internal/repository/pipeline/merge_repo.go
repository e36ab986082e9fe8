package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fable/internal/model/pipeline"
)

// MergeRepository 手动合并操作仓库接口
type MergeRepository interface {
	Create(ctx context.Context, op *pipeline.MergeOperation) error
	FindByID(ctx context.Context, id string) (*pipeline.MergeOperation, error)
	FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.MergeOperation, error)
	UpdateStatus(ctx context.Context, id string, status pipeline.MergeStatus, errorMsg string) error
	UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error
	Complete(ctx context.Context, id string, outputFileURL, previewURL string, stats map[string]string) error
}

// MergeRepo 手动合并操作仓库实现
type MergeRepo struct {
	coll *mongo.Collection
}

// NewMergeRepo 创建手动合并操作仓库
func NewMergeRepo(db *mongo.Database) *MergeRepo {
	var m pipeline.MergeOperation
	return &MergeRepo{coll: db.Collection(m.Collection())}
}

// Create 创建手动合并操作
func (r *MergeRepo) Create(ctx context.Context, op *pipeline.MergeOperation) error {
	now := time.Now()
	op.CreatedAt = now
	op.UpdatedAt = now
	if op.MergeStatus == "" {
		op.MergeStatus = pipeline.MergeStatusQueued // 默认已入队
	}
	_, err := r.coll.InsertOne(ctx, op)
	return err
}

// FindByID 根据ID查询合并操作
func (r *MergeRepo) FindByID(ctx context.Context, id string) (*pipeline.MergeOperation, error) {
	var op pipeline.MergeOperation
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&op); err != nil {
		return nil, err
	}
	return &op, nil
}

// FindByUserID 查询用户的合并操作，按创建时间倒序
func (r *MergeRepo) FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.MergeOperation, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ops []*pipeline.MergeOperation
	if err := cursor.All(ctx, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// UpdateStatus 更新合并状态和错误信息
func (r *MergeRepo) UpdateStatus(ctx context.Context, id string, status pipeline.MergeStatus, errorMsg string) error {
	update := bson.M{
		"merge_status":  status,
		"error_message": errorMsg,
		"updated_at":    time.Now(),
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}

// UpdateProgress 更新进度百分比和当前步骤
func (r *MergeRepo) UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error {
	update := bson.M{
		"progress":     progress,
		"current_step": currentStep,
		"updated_at":   time.Now(),
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}

// Complete 写入产物并置为终态 COMPLETED
func (r *MergeRepo) Complete(ctx context.Context, id string, outputFileURL, previewURL string, stats map[string]string) error {
	now := time.Now()
	update := bson.M{
		"merge_status":     pipeline.MergeStatusCompleted,
		"progress":         100,
		"output_file_url":  outputFileURL,
		"preview_url":      previewURL,
		"processing_stats": stats,
		"completed_at":     now,
		"updated_at":       now,
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}
