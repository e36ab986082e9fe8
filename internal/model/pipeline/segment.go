package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SceneVideoSegment 场景视频片段实体
// 每个 GenerationJob 中的每个场景对应一条记录，无论成功失败都会写入，
// 保证部分进度永不丢失，合并阶段可以用已成功的片段继续推进。
// 写入后不可变，只有重试时才会被覆盖。
type SceneVideoSegment struct {
	ID                string            `bson:"id" json:"id"`                                                   // 片段ID（UUID）
	JobID             string            `bson:"job_id" json:"job_id"`                                           // 所属任务ID
	SceneID           string            `bson:"scene_id" json:"scene_id"`                                       // 场景ID（scene_N）
	SegmentIndex      int               `bson:"segment_index" json:"segment_index"`                             // 片段序号（从1开始）
	SceneDescription  string            `bson:"scene_description" json:"scene_description"`                     // 场景描述
	SourceImageURL    string            `bson:"source_image_url,omitempty" json:"source_image_url,omitempty"`   // 生成时的起始图片URL
	VideoURL          string            `bson:"video_url,omitempty" json:"video_url,omitempty"`                 // 生成的视频URL
	KeySceneShotURL   string            `bson:"key_scene_shot_url,omitempty" json:"key_scene_shot_url,omitempty"` // 关键帧URL（末帧，供下一场景续接）
	Duration          float64           `bson:"duration" json:"duration"`                                       // 视频时长（秒）
	GenerationMethod  string            `bson:"generation_method" json:"generation_method"`                     // 生成方式（image_to_video 等）
	Status            SegmentStatus     `bson:"status" json:"status"`                                           // completed / failed
	ProcessingService string            `bson:"processing_service,omitempty" json:"processing_service,omitempty"` // 处理服务（modelslab）
	Model             string            `bson:"model,omitempty" json:"model,omitempty"`                         // 模型ID
	Metadata          map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`                   // 附加元数据（lip_sync、dialogue_count 等）
	ErrorMessage      string            `bson:"error_message,omitempty" json:"error_message,omitempty"`         // 失败原因
	CreatedAt         time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (s *SceneVideoSegment) Collection() string {
	return "scene_video_segments"
}

// EnsureIndexes 创建和维护索引
func (s *SceneVideoSegment) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "segment_index", Value: 1}},
			Options: options.Index().SetName("idx_job_segment"),
		},
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "scene_id", Value: 1}},
			Options: options.Index().SetName("idx_job_scene"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
