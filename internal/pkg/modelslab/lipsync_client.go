package modelslab

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// 口型同步轮询墙钟上限
const lipSyncPollCeiling = 15 * time.Minute

// LipSyncClient 口型同步客户端
// 把生成视频的口型重新对齐到指定音轨
type LipSyncClient struct {
	client *Client
	model  string
}

// NewLipSyncClient 创建口型同步客户端
func NewLipSyncClient(client *Client, model string) *LipSyncClient {
	if model == "" {
		model = ModelLipSync2
	}
	return &LipSyncClient{client: client, model: model}
}

// Sync 对视频执行口型同步并返回新视频URL
func (lc *LipSyncClient) Sync(ctx context.Context, videoURL, audioURL string) (*Result, error) {
	if videoURL == "" || audioURL == "" {
		return nil, fmt.Errorf("lipsync requires both video and audio url")
	}

	payload := &lipSyncPayload{
		Key:       lc.client.apiKey,
		ModelID:   lc.model,
		InitVideo: videoURL,
		InitAudio: audioURL,
	}

	resp, err := lc.client.submit(ctx, "/video/lipsync", payload)
	if err != nil {
		return nil, fmt.Errorf("submit lipsync: %w", err)
	}

	log.Info().
		Str("model", lc.model).
		Str("job_id", resp.ID.String()).
		Msg("口型同步任务已提交")

	if resp.Status == "processing" {
		resp, err = lc.client.pollUntil(ctx, resp.ID.String(), lipSyncPollCeiling, "video")
		if err != nil {
			return nil, err
		}
	}

	url, err := lc.client.resolveAssetURL(ctx, resp)
	if err != nil {
		return nil, err
	}

	return &Result{
		Status: "success",
		URL:    url,
		JobID:  resp.ID.String(),
		Metadata: map[string]string{
			"model": lc.model,
		},
	}, nil
}
