package modelslab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClassifyProviderMessage(t *testing.T) {
	Convey("ClassifyProviderMessage 按上游消息对失败分类", t, func() {
		Convey("风控拒绝类", func() {
			So(ClassifyProviderMessage("prompt was flagged by our safety system"), ShouldEqual, ErrContentRejected)
			So(ClassifyProviderMessage("Content Policy violation detected"), ShouldEqual, ErrContentRejected)
		})

		Convey("模型不可用类", func() {
			So(ClassifyProviderMessage("please try another model"), ShouldEqual, ErrModelUnavailable)
			So(ClassifyProviderMessage("Model Not Found"), ShouldEqual, ErrModelUnavailable)
		})

		Convey("资源获取失败类", func() {
			So(ClassifyProviderMessage("output link expired"), ShouldEqual, ErrRetrieval)
			So(ClassifyProviderMessage("fetch failed for result"), ShouldEqual, ErrRetrieval)
		})

		Convey("未匹配的消息返回 nil", func() {
			So(ClassifyProviderMessage("something went wrong"), ShouldBeNil)
			So(ClassifyProviderMessage(""), ShouldBeNil)
		})
	})
}

func TestIsRetrievalFailure(t *testing.T) {
	Convey("IsRetrievalFailure 识别资源获取失败", t, func() {
		So(IsRetrievalFailure(nil), ShouldBeFalse)
		So(IsRetrievalFailure(&ProviderError{Kind: ErrRetrieval, Message: "x"}), ShouldBeTrue)
		So(IsRetrievalFailure(fmt.Errorf("wrap: %w", ErrRetrieval)), ShouldBeTrue)
		So(IsRetrievalFailure(errors.New("download https://x failed: not accessible")), ShouldBeTrue)
		So(IsRetrievalFailure(errors.New("plain failure")), ShouldBeFalse)
		So(IsRetrievalFailure(&ProviderError{Kind: ErrContentRejected, Message: "flagged"}), ShouldBeFalse)
	})
}

func TestProviderError(t *testing.T) {
	Convey("ProviderError 原样携带上游消息并支持 errors.Is", t, func() {
		err := &ProviderError{Kind: ErrTimeout, Message: "poll ceiling exceeded"}
		So(errors.Is(err, ErrTimeout), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "poll ceiling exceeded")

		bare := &ProviderError{Kind: ErrModelUnavailable}
		So(bare.Error(), ShouldEqual, ErrModelUnavailable.Error())
	})
}

func TestExtractAssetURL(t *testing.T) {
	Convey("extractAssetURL 按字段优先级提取资源URL", t, func() {
		Convey("future_links 优先于其他字段", func() {
			resp := &apiResponse{
				FutureLinks: []string{"https://cdn/future.mp4"},
				Links:       []string{"https://cdn/link.mp4"},
				Output:      []string{"https://cdn/output.mp4"},
			}
			So(extractAssetURL(resp), ShouldEqual, "https://cdn/future.mp4")
		})

		Convey("links 次之，再到 proxy_links 和 output", func() {
			So(extractAssetURL(&apiResponse{
				Links:  []string{"https://cdn/link.mp4"},
				Output: []string{"https://cdn/output.mp4"},
			}), ShouldEqual, "https://cdn/link.mp4")

			So(extractAssetURL(&apiResponse{
				ProxyLinks: []string{"https://cdn/proxy.mp4"},
				Output:     []string{"https://cdn/output.mp4"},
			}), ShouldEqual, "https://cdn/proxy.mp4")

			So(extractAssetURL(&apiResponse{
				Output: []string{"https://cdn/output.mp4"},
			}), ShouldEqual, "https://cdn/output.mp4")
		})

		Convey("跳过空白项", func() {
			resp := &apiResponse{
				FutureLinks: []string{"", "  "},
				Links:       []string{"https://cdn/real.mp4"},
			}
			So(extractAssetURL(resp), ShouldEqual, "https://cdn/real.mp4")
		})

		Convey("全空时返回空串", func() {
			So(extractAssetURL(&apiResponse{}), ShouldEqual, "")
		})
	})
}

func TestNewClient(t *testing.T) {
	Convey("NewClient 校验配置", t, func() {
		Convey("缺少 API Key 时报错", func() {
			_, err := NewClient(&Config{})
			So(errors.Is(err, ErrMissingAPIKey), ShouldBeTrue)
		})

		Convey("默认值填充", func() {
			c, err := NewClient(&Config{APIKey: "k"})
			So(err, ShouldBeNil)
			So(c.baseURL, ShouldEqual, "https://modelslab.com/api/v7")
			So(c.pollInterval, ShouldEqual, 5*time.Second)
		})

		Convey("去掉 BaseURL 尾部斜杠", func() {
			c, err := NewClient(&Config{APIKey: "k", BaseURL: "https://api.example.com/v7/"})
			So(err, ShouldBeNil)
			So(c.baseURL, ShouldEqual, "https://api.example.com/v7")
		})
	})
}

// newTestClient 指向 httptest 服务器并把轮询间隔调到毫秒级
func newTestClient(serverURL string) *Client {
	c, _ := NewClient(&Config{
		APIKey:       "test-key",
		BaseURL:      serverURL,
		PollInterval: 5 * time.Millisecond,
	})
	return c
}

func TestClient_SubmitAndPoll(t *testing.T) {
	Convey("Client 的提交与轮询协议", t, func() {
		Convey("提交后 processing，轮询至 success", func(c C) {
			var fetchCalls int
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"status": "processing",
					"id":     12345,
					"eta":    10,
				})
			})
			mux.HandleFunc("/video/fetch/12345", func(w http.ResponseWriter, r *http.Request) {
				// fetch 必须是 POST，key 在请求体里
				// 处理器跑在独立 goroutine 上，须经 c 路由断言
				c.So(r.Method, ShouldEqual, http.MethodPost)
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				c.So(body["key"], ShouldEqual, "test-key")

				fetchCalls++
				if fetchCalls < 3 {
					json.NewEncoder(w).Encode(map[string]any{"status": "processing", "id": 12345})
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"status": "success",
					"id":     12345,
					"output": []string{"https://cdn.example.com/final.mp4"},
				})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			vc := NewVideoClient(newTestClient(srv.URL), ModelCogVideoX)
			result, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "a calm lake"})
			So(err, ShouldBeNil)
			So(result.Status, ShouldEqual, "success")
			So(result.URL, ShouldEqual, "https://cdn.example.com/final.mp4")
			So(result.JobID, ShouldEqual, "12345")
			So(fetchCalls, ShouldEqual, 3)
		})

		Convey("非阻塞模式提交后立即返回 processing", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "processing", "id": 777, "eta": 42})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			vc := NewVideoClient(newTestClient(srv.URL), ModelCogVideoX)
			result, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "p", NonBlocking: true})
			So(err, ShouldBeNil)
			So(result.Status, ShouldEqual, "processing")
			So(result.JobID, ShouldEqual, "777")
			So(result.ETA, ShouldEqual, 42)
		})

		Convey("提交阶段的 5xx 在客户端内重试", func() {
			var calls int
			mux := http.NewServeMux()
			mux.HandleFunc("/images/text2img", func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls < 2 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"status": "success",
					"id":     1,
					"output": []string{"https://cdn.example.com/img.png"},
				})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			ic := NewImageClient(newTestClient(srv.URL), ModelFluxDev)
			result, err := ic.Generate(context.Background(), &ImageRequest{Prompt: "a tree"})
			So(err, ShouldBeNil)
			So(result.URL, ShouldEqual, "https://cdn.example.com/img.png")
			So(calls, ShouldEqual, 2)
		})

		Convey("风控拒绝被分类为 ErrContentRejected 并触发兜底提示词", func() {
			var prompts []string
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				var body omniHumanPayload
				json.NewDecoder(r.Body).Decode(&body)
				prompts = append(prompts, body.Prompt)
				if len(prompts) == 1 {
					json.NewEncoder(w).Encode(map[string]any{
						"status":  "error",
						"message": "prompt was flagged by content moderation",
					})
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"status": "success",
					"id":     2,
					"output": []string{"https://cdn.example.com/safe.mp4"},
				})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			// omni-human 没有降级模型，风控拒绝后直接走兜底提示词
			vc := NewVideoClient(newTestClient(srv.URL), ModelOmniHuman)
			result, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "a violent scene"})
			So(err, ShouldBeNil)
			So(result.URL, ShouldEqual, "https://cdn.example.com/safe.mp4")
			So(result.Metadata["attempt"], ShouldEqual, string(AttemptSafeFallbackPrompt))
			So(len(prompts), ShouldEqual, 2)
			So(prompts[1], ShouldNotEqual, "a violent scene")
		})

		Convey("模型不可用触发家族降级", func() {
			var models []string
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				models = append(models, body["model_id"].(string))
				if len(models) == 1 {
					json.NewEncoder(w).Encode(map[string]any{
						"status":  "error",
						"message": "model overloaded, try another model",
					})
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"status": "success",
					"id":     3,
					"output": []string{"https://cdn.example.com/fallback.mp4"},
				})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			vc := NewVideoClient(newTestClient(srv.URL), ModelVeo2)
			result, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "a market street"})
			So(err, ShouldBeNil)
			So(result.Metadata["attempt"], ShouldEqual, string(AttemptFallbackModel))
			So(models[0], ShouldEqual, ModelVeo2)
			So(models[1], ShouldEqual, ModelOmniHuman)
		})

		Convey("success 响应没有URL时归类为资源获取失败", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "success", "id": 4})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			vc := NewVideoClient(newTestClient(srv.URL), ModelCogVideoX)
			_, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "p"})
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrRetrieval), ShouldBeTrue)
		})

		Convey("轮询遇到 failed 状态返回上游消息", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/video/text2video", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "processing", "id": 5})
			})
			mux.HandleFunc("/video/fetch/5", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "failed", "messege": "gpu worker crashed"})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			vc := NewVideoClient(newTestClient(srv.URL), ModelCogVideoX)
			_, err := vc.Generate(context.Background(), &VideoRequest{Prompt: "p"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "gpu worker crashed")
		})
	})
}

func TestClient_ValidateFutureLinks(t *testing.T) {
	Convey("validateFutureLinks 用 HEAD 校验兜底", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/good.mp4":
				w.Header().Set("Content-Type", "video/mp4")
				w.WriteHeader(http.StatusOK)
			case "/pending.mp4":
				w.WriteHeader(http.StatusNotFound)
			default:
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusOK)
			}
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)

		Convey("接受第一个通过校验的链接", func() {
			url, err := c.validateFutureLinks(context.Background(), []string{
				srv.URL + "/pending.mp4",
				srv.URL + "/error-page",
				srv.URL + "/good.mp4",
			})
			So(err, ShouldBeNil)
			So(url, ShouldEqual, srv.URL+"/good.mp4")
		})

		Convey("全部失败时归类为资源获取失败", func() {
			_, err := c.validateFutureLinks(context.Background(), []string{srv.URL + "/pending.mp4"})
			So(errors.Is(err, ErrRetrieval), ShouldBeTrue)
		})
	})
}

func TestClient_Download(t *testing.T) {
	Convey("Download 下载资源并把失败归类", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/asset.mp4" {
				w.Write([]byte("video-bytes"))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)

		Convey("下载成功返回数据", func() {
			data, err := c.Download(context.Background(), srv.URL+"/asset.mp4")
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "video-bytes")
		})

		Convey("非 200 归类为资源获取失败", func() {
			_, err := c.Download(context.Background(), srv.URL+"/missing.mp4")
			So(IsRetrievalFailure(err), ShouldBeTrue)
		})
	})
}
