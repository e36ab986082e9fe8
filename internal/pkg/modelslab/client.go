package modelslab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config ModelsLab 客户端配置
type Config struct {
	APIKey       string        // API Key（必需）
	BaseURL      string        // API 基础 URL（可选，默认: https://modelslab.com/api/v7）
	PollInterval time.Duration // 轮询间隔（默认 5s，上游建议 5-10s）
	HTTPTimeout  time.Duration // 单次 HTTP 请求超时（默认 2 分钟）
}

// Client ModelsLab 共享 HTTP 客户端
// 封装上游的异步任务协议：提交 → 轮询 fetch 端点 → 提取资源URL。
// fetch 必须用 POST（API Key 要放在请求体里，不能走 GET）。
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient 创建共享客户端
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://modelslab.com/api/v7"
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: interval,
	}, nil
}

// Result 生成结果
// 三种形态：success{URL}、processing{JobID, ETA}（仅调用方选择非阻塞时）、失败以 error 返回
type Result struct {
	Status   string            // success / processing
	URL      string            // 资源URL（success 时必有）
	JobID    string            // 上游任务ID
	ETA      int               // 预计剩余秒数（processing 时）
	Metadata map[string]string // 附加元数据（model、generation_time 等）
}

// apiResponse 上游响应
// 资源URL会依完成方式（同步/异步）出现在不同字段，按优先级提取
type apiResponse struct {
	Status      string          `json:"status"`
	ID          json.Number     `json:"id"`
	ETA         float64         `json:"eta"`
	Message     string          `json:"message"`
	Messege     string          `json:"messege"` // 上游部分接口的历史拼写
	Output      []string        `json:"output"`
	Links       []string        `json:"links"`
	ProxyLinks  []string        `json:"proxy_links"`
	FutureLinks []string        `json:"future_links"`
	FetchResult string          `json:"fetch_result"`
}

// errorMessage 返回上游错误信息（兼容两种拼写）
func (r *apiResponse) errorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Messege
}

// submit 提交生成请求
// 瞬时错误（限流/超时/5xx）在客户端内做最多 3 次短退避重试，耗尽后才上浮
func (c *Client) submit(ctx context.Context, path string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		resp, err := c.post(ctx, c.baseURL+path, body)
		if err != nil {
			lastErr = err
			continue
		}

		// 5xx / 429 属于瞬时错误，客户端内重试
		if resp.Status == "error" {
			msg := resp.errorMessage()
			if kind := ClassifyProviderMessage(msg); kind != nil {
				return nil, &ProviderError{Kind: kind, Message: msg}
			}
			if isTransientMessage(msg) {
				lastErr = fmt.Errorf("transient provider error: %s", msg)
				continue
			}
			return nil, fmt.Errorf("provider error: %s", msg)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("submit failed after retries: %w", lastErr)
}

// post 发送 POST 请求并解析响应
func (c *Client) post(ctx context.Context, url string, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transient provider error: status %d, body: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(data))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &apiResp, nil
}

// pollUntil 通用轮询
// 固定间隔向 fetch 端点 POST（API Key 在请求体里），直到 success/failed，
// 或超过墙钟上限后返回 ErrTimeout（可重试，调用方不应视为致命）
func (c *Client) pollUntil(ctx context.Context, jobID string, ceiling time.Duration, kind string) (*apiResponse, error) {
	fetchURL := fmt.Sprintf("%s/%s/fetch/%s", c.baseURL, kind, jobID)
	fetchBody, _ := json.Marshal(map[string]string{"key": c.apiKey})

	deadline := time.Now().Add(ceiling)
	for {
		if time.Now().After(deadline) {
			return nil, &ProviderError{Kind: ErrTimeout, Message: fmt.Sprintf("poll ceiling %v exceeded for job %s", ceiling, jobID)}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		resp, err := c.post(ctx, fetchURL, fetchBody)
		if err != nil {
			// 轮询中的瞬时错误直接进入下一轮
			log.Debug().Err(err).Str("job_id", jobID).Msg("轮询请求失败，继续等待")
			continue
		}

		switch resp.Status {
		case "success", "completed":
			return resp, nil
		case "failed", "error":
			msg := resp.errorMessage()
			if class := ClassifyProviderMessage(msg); class != nil {
				return nil, &ProviderError{Kind: class, Message: msg}
			}
			return nil, fmt.Errorf("generation failed: %s", msg)
		default:
			log.Debug().Str("job_id", jobID).Str("status", resp.Status).Msg("生成中，继续轮询")
		}
	}
}

// extractAssetURL 从响应中按优先级提取资源URL
// 上游依同步/异步完成方式把URL放在不同字段：future_links → links → proxy_links → output
func extractAssetURL(resp *apiResponse) string {
	for _, group := range [][]string{resp.FutureLinks, resp.Links, resp.ProxyLinks, resp.Output} {
		for _, u := range group {
			if strings.TrimSpace(u) != "" {
				return u
			}
		}
	}
	return ""
}

// validateFutureLinks 兜底校验
// success 响应没有可用URL时，逐个 HEAD 校验 future_links（200 且 video/image 类型），
// 接受第一个通过的；全部失败则归类为资源获取失败
func (c *Client) validateFutureLinks(ctx context.Context, links []string) (string, error) {
	for _, link := range links {
		if strings.TrimSpace(link) == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
		if err != nil {
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		contentType := resp.Header.Get("Content-Type")
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK &&
			(strings.HasPrefix(contentType, "video/") || strings.HasPrefix(contentType, "image/")) {
			return link, nil
		}
	}
	return "", &ProviderError{Kind: ErrRetrieval, Message: "no validated asset url in future_links"}
}

// resolveAssetURL 取出可用的资源URL，取不到时走 HEAD 校验兜底
func (c *Client) resolveAssetURL(ctx context.Context, resp *apiResponse) (string, error) {
	if url := extractAssetURL(resp); url != "" {
		return url, nil
	}
	if len(resp.FutureLinks) > 0 {
		return c.validateFutureLinks(ctx, resp.FutureLinks)
	}
	return "", &ProviderError{Kind: ErrRetrieval, Message: "success response carried no asset url"}
}

// Download 下载资源数据
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: ErrRetrieval, Message: fmt.Sprintf("download %s: %v", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Kind: ErrRetrieval, Message: fmt.Sprintf("download %s: status %d", url, resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: ErrRetrieval, Message: fmt.Sprintf("read asset data: %v", err)}
	}
	return data, nil
}

// isTransientMessage 判断上游消息是否属于瞬时错误
func isTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range []string{"rate limit", "timeout", "temporarily", "server error", "overload", "busy"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
