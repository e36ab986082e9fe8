package pipeline

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GenerationJob 视频生成任务实体
// 一条记录对应一次端到端的视频生产流程，是流水线状态的唯一事实来源：
// 每个阶段按 id 读取、处理、回写自己阶段的字段和状态，不触碰其他阶段的字段
type GenerationJob struct {
	ID               string           `bson:"id" json:"id"`                                             // 任务ID（UUID）
	UserID           string           `bson:"user_id" json:"user_id"`                                   // 用户ID
	ChapterID        string           `bson:"chapter_id" json:"chapter_id"`                             // 关联的章节ID
	Script           string           `bson:"script" json:"script"`                                     // 原始剧本文本
	ScriptData       *ScriptData      `bson:"script_data,omitempty" json:"script_data,omitempty"`       // 解析后的剧本数据
	AudioFiles       *AudioFiles      `bson:"audio_files,omitempty" json:"audio_files,omitempty"`       // 音频清单（按旁白/角色/音效分组）
	ImageData        *ImageData       `bson:"image_data,omitempty" json:"image_data,omitempty"`         // 图片清单（每个场景已生成的图片）
	VideoData        *VideoData       `bson:"video_data,omitempty" json:"video_data,omitempty"`         // 视频清单（每个场景的生成结果）
	MergeData        *MergeData       `bson:"merge_data,omitempty" json:"merge_data,omitempty"`         // 合并结果
	GenerationStatus GenerationStatus `bson:"generation_status" json:"generation_status"`               // 生成状态（状态机见 enums.go）
	Progress         int              `bson:"progress" json:"progress"`                                 // 进度百分比（0-100）
	CurrentStep      string           `bson:"current_step,omitempty" json:"current_step,omitempty"`     // 当前步骤（人类可读）
	RetryCount       int              `bson:"retry_count" json:"retry_count"`                           // 累计重试次数
	CanResume        bool             `bson:"can_resume" json:"can_resume"`                             // 是否还允许重试
	LastRetryAt      *time.Time       `bson:"last_retry_at,omitempty" json:"last_retry_at,omitempty"`   // 最后一次重试时间
	ErrorMessage     string           `bson:"error_message,omitempty" json:"error_message,omitempty"`   // 错误信息（面向用户的唯一失败通道）
	FinalVideoURL    string           `bson:"final_video_url,omitempty" json:"final_video_url,omitempty"` // 最终视频URL（web 档）
	CreatedAt        time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time       `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// ScriptData 解析后的剧本数据
type ScriptData struct {
	Scenes      []SceneInfo `bson:"scenes" json:"scenes"`             // 场景列表（有序）
	Characters  []string    `bson:"characters" json:"characters"`     // 已知角色名列表
	VideoStyle  string      `bson:"video_style" json:"video_style"`   // 视频风格（如 cinematic）
	ScriptStyle string      `bson:"script_style" json:"script_style"` // 剧本风格：cinematic_movie / cinematic_narration
}

// SceneInfo 单个场景信息
type SceneInfo struct {
	SceneNumber int    `bson:"scene_number" json:"scene_number"` // 场景编号（从1开始）
	Description string `bson:"description" json:"description"`   // 场景描述
}

// AudioFiles 音频文件清单，按类型分组
// 每条音轨都携带所属场景编号，合并阶段按场景聚合
type AudioFiles struct {
	Narrator     []AudioTrack `bson:"narrator,omitempty" json:"narrator,omitempty"`           // 旁白音轨
	Characters   []AudioTrack `bson:"characters,omitempty" json:"characters,omitempty"`       // 角色对白音轨
	SoundEffects []AudioTrack `bson:"sound_effects,omitempty" json:"sound_effects,omitempty"` // 音效音轨
}

// AudioTrack 单条音轨
// 由外部语音生成服务提供，核心只消费 {character, text, scene, audio_url} 四元组
type AudioTrack struct {
	Character string `bson:"character,omitempty" json:"character,omitempty"` // 角色名（旁白/音效为空）
	Text      string `bson:"text,omitempty" json:"text,omitempty"`           // 对应文本
	Scene     int    `bson:"scene" json:"scene"`                             // 所属场景编号
	AudioURL  string `bson:"audio_url" json:"audio_url"`                     // 音频URL
}

// ForScene 返回该清单中属于指定场景的全部音轨（旁白 + 角色 + 音效）
func (a *AudioFiles) ForScene(scene int) []AudioTrack {
	if a == nil {
		return nil
	}
	var tracks []AudioTrack
	for _, group := range [][]AudioTrack{a.Narrator, a.Characters, a.SoundEffects} {
		for _, t := range group {
			if t.Scene == scene {
				tracks = append(tracks, t)
			}
		}
	}
	return tracks
}

// ImageData 图片清单
type ImageData struct {
	SceneImages []SceneImage `bson:"scene_images,omitempty" json:"scene_images,omitempty"` // 每个场景已生成的图片
}

// SceneImage 单个场景的图片
type SceneImage struct {
	Scene     int    `bson:"scene" json:"scene"`                             // 场景编号
	ImageURL  string `bson:"image_url" json:"image_url"`                     // 图片URL
	Character string `bson:"character,omitempty" json:"character,omitempty"` // 角色图时的角色名
}

// ForScene 返回指定场景的图片URL，找不到时回退到角色图，再找不到返回空串
func (d *ImageData) ForScene(scene int) string {
	if d == nil {
		return ""
	}
	var characterFallback string
	for _, img := range d.SceneImages {
		if img.Scene == scene {
			if img.Character == "" {
				return img.ImageURL
			}
			if characterFallback == "" {
				characterFallback = img.ImageURL
			}
		}
	}
	return characterFallback
}

// VideoData 视频清单
type VideoData struct {
	SceneVideos []SceneVideoRef  `bson:"scene_videos,omitempty" json:"scene_videos,omitempty"` // 每个场景的生成结果引用
	Statistics  *VideoStatistics `bson:"statistics,omitempty" json:"statistics,omitempty"`     // 生成统计
}

// SceneVideoRef 场景视频引用（详细记录在 SceneVideoSegment 集合）
type SceneVideoRef struct {
	SceneID  string `bson:"scene_id" json:"scene_id"`   // 场景ID（scene_N）
	VideoURL string `bson:"video_url" json:"video_url"` // 视频URL
	Status   string `bson:"status" json:"status"`       // completed / failed
}

// VideoStatistics 视频生成统计
type VideoStatistics struct {
	TotalScenes     int     `bson:"total_scenes" json:"total_scenes"`         // 总场景数
	CompletedScenes int     `bson:"completed_scenes" json:"completed_scenes"` // 成功场景数
	FailedScenes    int     `bson:"failed_scenes" json:"failed_scenes"`       // 失败场景数
	TotalDuration   float64 `bson:"total_duration" json:"total_duration"`     // 总时长（秒）
}

// MergeData 合并结果
type MergeData struct {
	FinalVideoURL    string            `bson:"final_video_url,omitempty" json:"final_video_url,omitempty"`     // 最终视频URL（web 档）
	MergeStatistics  *MergeStatistics  `bson:"merge_statistics,omitempty" json:"merge_statistics,omitempty"`   // 合并统计
	QualityVersions  []QualityVersion  `bson:"quality_versions,omitempty" json:"quality_versions,omitempty"`   // 各质量档位产物
	DownloadMetadata map[string]string `bson:"download_metadata,omitempty" json:"download_metadata,omitempty"` // 下载元数据
}

// MergeStatistics 合并统计
type MergeStatistics struct {
	TotalScenesMerged int     `bson:"total_scenes_merged" json:"total_scenes_merged"` // 参与合并的场景数
	ScenesWithAudio   int     `bson:"scenes_with_audio" json:"scenes_with_audio"`     // 带音频的场景数
	TracksMixed       int     `bson:"tracks_mixed" json:"tracks_mixed"`               // 混合的音轨总数
	TransitionsAdded  int     `bson:"transitions_added" json:"transitions_added"`     // 插入的转场数
	TotalDuration     float64 `bson:"total_duration" json:"total_duration"`           // 总时长（秒）
	FileSize          int64   `bson:"file_size" json:"file_size"`                     // web 档文件大小（字节）
	ProcessingTime    float64 `bson:"processing_time" json:"processing_time"`         // 处理耗时（秒）
}

// QualityVersion 单个质量档位的产物
type QualityVersion struct {
	Tier        QualityTier `bson:"tier" json:"tier"`                 // 档位标签
	FileSize    int64       `bson:"file_size" json:"file_size"`       // 文件大小（字节）
	DownloadURL string      `bson:"download_url" json:"download_url"` // 下载URL
}

// Collection 返回集合名称
func (j *GenerationJob) Collection() string {
	return "generation_jobs"
}

// EnsureIndexes 创建和维护索引
func (j *GenerationJob) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(j.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		{
			Keys:    bson.D{{Key: "chapter_id", Value: 1}},
			Options: options.Index().SetName("idx_chapter_id"),
		},
		{
			Keys:    bson.D{{Key: "generation_status", Value: 1}},
			Options: options.Index().SetName("idx_generation_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
