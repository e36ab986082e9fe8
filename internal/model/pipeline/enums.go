package pipeline

// GenerationStatus 视频生成任务状态
// 状态机：queued → processing_images → generating_video → video_completed → merging_audio → completed
// 错误分支：retrieval_failed（可自动重试）、failed（需手动重试）
// failed 和 retrieval_failed 均可通过重试重新进入 generating_video 或失败时所在的合并阶段
type GenerationStatus string

const (
	GenerationStatusQueued           GenerationStatus = "queued"            // 已入队
	GenerationStatusProcessingImages GenerationStatus = "processing_images" // 处理图片中
	GenerationStatusGeneratingVideo  GenerationStatus = "generating_video"  // 生成视频中
	GenerationStatusVideoCompleted   GenerationStatus = "video_completed"   // 视频生成完成（等待合并）
	GenerationStatusMergingAudio     GenerationStatus = "merging_audio"     // 音视频合并中
	GenerationStatusCompleted        GenerationStatus = "completed"         // 全部完成
	GenerationStatusRetrievalFailed  GenerationStatus = "retrieval_failed"  // 资源获取失败（可自动重试）
	GenerationStatusFailed           GenerationStatus = "failed"            // 失败（需手动重试）
)

// String 返回状态的字符串表示
func (s GenerationStatus) String() string {
	return string(s)
}

// IsTerminal 判断状态是否为终态（completed / failed）
// retrieval_failed 不算终态：自动重试调度器仍可能将其拉回流水线
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// CanTransitionTo 校验状态机迁移是否合法
// 每个阶段只允许单写者推进，非法迁移直接拒绝
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	allowed := map[GenerationStatus][]GenerationStatus{
		GenerationStatusQueued:           {GenerationStatusProcessingImages, GenerationStatusGeneratingVideo, GenerationStatusFailed},
		GenerationStatusProcessingImages: {GenerationStatusGeneratingVideo, GenerationStatusRetrievalFailed, GenerationStatusFailed},
		GenerationStatusGeneratingVideo:  {GenerationStatusVideoCompleted, GenerationStatusRetrievalFailed, GenerationStatusFailed},
		GenerationStatusVideoCompleted:   {GenerationStatusMergingAudio, GenerationStatusFailed},
		GenerationStatusMergingAudio:     {GenerationStatusCompleted, GenerationStatusRetrievalFailed, GenerationStatusFailed},
		GenerationStatusRetrievalFailed:  {GenerationStatusGeneratingVideo, GenerationStatusMergingAudio, GenerationStatusFailed},
		GenerationStatusFailed:           {GenerationStatusGeneratingVideo, GenerationStatusMergingAudio},
	}
	for _, n := range allowed[s] {
		if n == next {
			return true
		}
	}
	return false
}

// SegmentStatus 场景视频片段状态
type SegmentStatus string

const (
	SegmentStatusCompleted SegmentStatus = "completed" // 已完成
	SegmentStatusFailed    SegmentStatus = "failed"    // 失败
)

// String 返回状态的字符串表示
func (s SegmentStatus) String() string {
	return string(s)
}

// MergeStatus 手动合并操作状态
type MergeStatus string

const (
	MergeStatusQueued     MergeStatus = "QUEUED"      // 已入队
	MergeStatusInProgress MergeStatus = "IN_PROGRESS" // 处理中
	MergeStatusCompleted  MergeStatus = "COMPLETED"   // 已完成
	MergeStatusFailed     MergeStatus = "FAILED"      // 失败
)

// String 返回状态的字符串表示
func (s MergeStatus) String() string {
	return string(s)
}

// QualityTier 输出质量档位
type QualityTier string

const (
	QualityTierWeb    QualityTier = "web"    // Web 档（约 3Mbps 限码率，fast preset）
	QualityTierMedium QualityTier = "medium" // 中等档（CRF 23）
	QualityTierHigh   QualityTier = "high"   // 高档（CRF 18，slow preset）
	QualityTierCustom QualityTier = "custom" // 自定义档（调用方提供编码参数）
)

// String 返回档位的字符串表示
func (t QualityTier) String() string {
	return string(t)
}

// InputSourceType 手动合并输入源类型
type InputSourceType string

const (
	InputSourceVideo InputSourceType = "video" // 视频
	InputSourceAudio InputSourceType = "audio" // 音频
	InputSourceImage InputSourceType = "image" // 图片
)

// 重试次数上限
// 手动重试上限 3 次，自动重试（仅限 retrieval 类失败）上限 2 次
const (
	MaxManualRetries = 3
	MaxAutoRetries   = 2
)
