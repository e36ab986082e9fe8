package taskqueue

import "encoding/json"

// 队列名称
// 每个队列对应流水线的一类后台任务，FFmpeg 重活只在 worker 进程里跑
const (
	QueueSceneGeneration = "q_scene_generation"  // 场景视频生成
	QueueAudioVideoMerge = "q_audio_video_merge" // 主流水线音视频合并
	QueueManualMerge     = "q_manual_merge"      // 手动/预览合并
	QueueRetryGeneration = "q_retry_generation"  // 自动重试（延迟投递）
)

// AllQueues 返回 worker 监听的全部队列
func AllQueues() []string {
	return []string{
		QueueSceneGeneration,
		QueueAudioVideoMerge,
		QueueManualMerge,
		QueueRetryGeneration,
	}
}

// SceneGenerationPayload 场景视频生成任务载荷
type SceneGenerationPayload struct {
	JobID string `json:"job_id"`
}

// MergePayload 主流水线合并任务载荷
type MergePayload struct {
	JobID string `json:"job_id"`
}

// ManualMergePayload 手动合并任务载荷
type ManualMergePayload struct {
	OperationID string `json:"operation_id"`
}

// RetryPayload 自动重试任务载荷
// 记录失败所在阶段，重试时回到该阶段而不是从头再跑
type RetryPayload struct {
	JobID       string `json:"job_id"`
	FailedStage string `json:"failed_stage"` // generating_video / merging_audio
	Attempt     int    `json:"attempt"`      // 第几次自动重试（从1开始）
}

// Marshal 序列化任务载荷
func Marshal(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Unmarshal 反序列化任务载荷
func Unmarshal(data string, dest any) error {
	return json.Unmarshal([]byte(data), dest)
}
