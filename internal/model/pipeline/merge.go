package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MergeOperation 手动合并操作实体
// 用户自定义输入源的合并路径，与主流水线共享同一套进度上报契约
type MergeOperation struct {
	ID              string            `bson:"id" json:"id"`                                               // 操作ID（UUID）
	UserID          string            `bson:"user_id" json:"user_id"`                                     // 用户ID
	Inputs          []InputSource     `bson:"inputs" json:"inputs"`                                       // 输入源列表
	Quality         QualityTier       `bson:"quality" json:"quality"`                                     // 输出质量档位
	OutputFormat    string            `bson:"output_format" json:"output_format"`                         // 输出格式（mp4 等）
	CustomParams    *CustomEncode     `bson:"custom_params,omitempty" json:"custom_params,omitempty"`     // 自定义编码参数（quality=custom 时）
	IsPreview       bool              `bson:"is_preview" json:"is_preview"`                               // 是否预览模式（快速、低保真）
	MergeStatus     MergeStatus       `bson:"merge_status" json:"merge_status"`                           // 状态：QUEUED/IN_PROGRESS/COMPLETED/FAILED
	Progress        int               `bson:"progress" json:"progress"`                                   // 进度百分比（0-100）
	CurrentStep     string            `bson:"current_step,omitempty" json:"current_step,omitempty"`       // 当前步骤（人类可读）
	OutputFileURL   string            `bson:"output_file_url,omitempty" json:"output_file_url,omitempty"` // 输出文件URL
	PreviewURL      string            `bson:"preview_url,omitempty" json:"preview_url,omitempty"`         // 预览URL
	ProcessingStats map[string]string `bson:"processing_stats,omitempty" json:"processing_stats,omitempty"` // 处理统计
	ErrorMessage    string            `bson:"error_message,omitempty" json:"error_message,omitempty"`     // 错误信息
	CreatedAt       time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time        `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// InputSource 手动合并的单个输入源
type InputSource struct {
	URL       string          `bson:"url" json:"url"`                                 // 资源URL
	Type      InputSourceType `bson:"type" json:"type"`                               // video / audio / image
	TrimStart float64         `bson:"trim_start,omitempty" json:"trim_start,omitempty"` // 裁剪起点（秒）
	TrimEnd   float64         `bson:"trim_end,omitempty" json:"trim_end,omitempty"`   // 裁剪终点（秒，0 表示到结尾）
	Volume    float64         `bson:"volume,omitempty" json:"volume,omitempty"`       // 音量倍率（0 表示不调整）
	FadeIn    float64         `bson:"fade_in,omitempty" json:"fade_in,omitempty"`     // 淡入时长（秒）
	FadeOut   float64         `bson:"fade_out,omitempty" json:"fade_out,omitempty"`   // 淡出时长（秒）
}

// CustomEncode 自定义编码参数
type CustomEncode struct {
	VideoCodec string `bson:"video_codec,omitempty" json:"video_codec,omitempty"` // 视频编码器（默认 libx264）
	Bitrate    string `bson:"bitrate,omitempty" json:"bitrate,omitempty"`         // 码率（如 4M）
	Resolution string `bson:"resolution,omitempty" json:"resolution,omitempty"`   // 分辨率（如 1920x1080）
	FPS        int    `bson:"fps,omitempty" json:"fps,omitempty"`                 // 帧率
	Filters    string `bson:"filters,omitempty" json:"filters,omitempty"`         // 附加滤镜串
}

// Collection 返回集合名称
func (m *MergeOperation) Collection() string {
	return "merge_operations"
}

// EnsureIndexes 创建和维护索引
func (m *MergeOperation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		{
			Keys:    bson.D{{Key: "merge_status", Value: 1}},
			Options: options.Index().SetName("idx_merge_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
