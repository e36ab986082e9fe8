package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"fable/internal/model/pipeline"
	"fable/internal/pkg/ffmpeg"
	"fable/internal/pkg/modelslab"
	"fable/internal/pkg/storage"
)

// ---- 任务仓库假实现 ----

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*pipeline.GenerationJob
	statusLog []pipeline.GenerationStatus
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*pipeline.GenerationJob)}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *pipeline.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.GenerationStatus == "" {
		job.GenerationStatus = pipeline.GenerationStatusQueued
	}
	job.CanResume = true
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) FindByID(ctx context.Context, id string) (*pipeline.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.GenerationJob, error) {
	return nil, nil
}

func (r *fakeJobRepo) FindByChapterID(ctx context.Context, chapterID string) ([]*pipeline.GenerationJob, error) {
	return nil, nil
}

func (r *fakeJobRepo) FindByStatus(ctx context.Context, status pipeline.GenerationStatus) ([]*pipeline.GenerationJob, error) {
	var jobs []*pipeline.GenerationJob
	for _, j := range r.jobs {
		if j.GenerationStatus == status {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (r *fakeJobRepo) UpdateStatus(ctx context.Context, id string, status pipeline.GenerationStatus, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.GenerationStatus = status
	job.ErrorMessage = errorMsg
	r.statusLog = append(r.statusLog, status)
	return nil
}

func (r *fakeJobRepo) UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Progress = progress
	job.CurrentStep = currentStep
	return nil
}

func (r *fakeJobRepo) UpdateScriptData(ctx context.Context, id string, data *pipeline.ScriptData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].ScriptData = data
	return nil
}

func (r *fakeJobRepo) UpdateImageData(ctx context.Context, id string, data *pipeline.ImageData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].ImageData = data
	return nil
}

func (r *fakeJobRepo) UpdateVideoData(ctx context.Context, id string, data *pipeline.VideoData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].VideoData = data
	return nil
}

func (r *fakeJobRepo) UpdateMergeData(ctx context.Context, id string, data *pipeline.MergeData, finalVideoURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].MergeData = data
	r.jobs[id].FinalVideoURL = finalVideoURL
	return nil
}

func (r *fakeJobRepo) UpdateRetryState(ctx context.Context, id string, retryCount int, canResume bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.RetryCount = retryCount
	job.CanResume = canResume
	now := time.Now()
	job.LastRetryAt = &now
	return nil
}

func (r *fakeJobRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *fakeJobRepo) get(id string) *pipeline.GenerationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// ---- 片段仓库假实现 ----

type fakeSegmentRepo struct {
	mu       sync.Mutex
	segments map[string]*pipeline.SceneVideoSegment // key: jobID/sceneID
}

func newFakeSegmentRepo() *fakeSegmentRepo {
	return &fakeSegmentRepo{segments: make(map[string]*pipeline.SceneVideoSegment)}
}

func (r *fakeSegmentRepo) Upsert(ctx context.Context, seg *pipeline.SceneVideoSegment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *seg
	r.segments[seg.JobID+"/"+seg.SceneID] = &cp
	return nil
}

func (r *fakeSegmentRepo) FindByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error) {
	return r.filter(jobID, false), nil
}

func (r *fakeSegmentRepo) FindByJobAndScene(ctx context.Context, jobID, sceneID string) (*pipeline.SceneVideoSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.segments[jobID+"/"+sceneID]
	if !ok {
		return nil, fmt.Errorf("segment not found")
	}
	cp := *seg
	return &cp, nil
}

func (r *fakeSegmentRepo) FindCompletedByJobID(ctx context.Context, jobID string) ([]*pipeline.SceneVideoSegment, error) {
	return r.filter(jobID, true), nil
}

func (r *fakeSegmentRepo) DeleteByJobID(ctx context.Context, jobID string) error {
	return nil
}

func (r *fakeSegmentRepo) filter(jobID string, completedOnly bool) []*pipeline.SceneVideoSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pipeline.SceneVideoSegment
	for _, seg := range r.segments {
		if seg.JobID != jobID {
			continue
		}
		if completedOnly && seg.Status != pipeline.SegmentStatusCompleted {
			continue
		}
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out
}

// ---- 合并操作仓库假实现 ----

type fakeMergeRepo struct {
	mu  sync.Mutex
	ops map[string]*pipeline.MergeOperation
}

func newFakeMergeRepo() *fakeMergeRepo {
	return &fakeMergeRepo{ops: make(map[string]*pipeline.MergeOperation)}
}

func (r *fakeMergeRepo) Create(ctx context.Context, op *pipeline.MergeOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.MergeStatus == "" {
		op.MergeStatus = pipeline.MergeStatusQueued
	}
	cp := *op
	r.ops[op.ID] = &cp
	return nil
}

func (r *fakeMergeRepo) FindByID(ctx context.Context, id string) (*pipeline.MergeOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, fmt.Errorf("merge operation %s not found", id)
	}
	cp := *op
	return &cp, nil
}

func (r *fakeMergeRepo) FindByUserID(ctx context.Context, userID string, limit int64) ([]*pipeline.MergeOperation, error) {
	return nil, nil
}

func (r *fakeMergeRepo) UpdateStatus(ctx context.Context, id string, status pipeline.MergeStatus, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[id].MergeStatus = status
	r.ops[id].ErrorMessage = errorMsg
	return nil
}

func (r *fakeMergeRepo) UpdateProgress(ctx context.Context, id string, progress int, currentStep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[id].Progress = progress
	r.ops[id].CurrentStep = currentStep
	return nil
}

func (r *fakeMergeRepo) Complete(ctx context.Context, id string, outputFileURL, previewURL string, stats map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := r.ops[id]
	op.MergeStatus = pipeline.MergeStatusCompleted
	op.Progress = 100
	op.OutputFileURL = outputFileURL
	op.PreviewURL = previewURL
	op.ProcessingStats = stats
	return nil
}

func (r *fakeMergeRepo) get(id string) *pipeline.MergeOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[id]
}

// ---- 任务队列假实现 ----

type queuedTask struct {
	queue   string
	payload any
	delay   time.Duration
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (q *fakeQueue) Enqueue(ctx context.Context, queue string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queuedTask{queue: queue, payload: payload})
	return nil
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, queue string, payload any, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queuedTask{queue: queue, payload: payload, delay: delay})
	return nil
}

func (q *fakeQueue) all() []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queuedTask(nil), q.tasks...)
}

// ---- 生成客户端假实现 ----

type fakeVideoGen struct {
	mu       sync.Mutex
	requests []*modelslab.VideoRequest
	// errAt 第 N 次调用返回的错误（从1开始），nil 表示成功
	errAt map[int]error
	calls int
}

func (g *fakeVideoGen) Generate(ctx context.Context, req *modelslab.VideoRequest) (*modelslab.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	cp := *req
	g.requests = append(g.requests, &cp)
	if err, ok := g.errAt[g.calls]; ok && err != nil {
		return nil, err
	}
	return &modelslab.Result{
		Status:   "success",
		URL:      fmt.Sprintf("https://provider.test/video_%d.mp4", g.calls),
		JobID:    fmt.Sprintf("%d", g.calls),
		Metadata: map[string]string{"model": "veo2", "attempt": "primary_model"},
	}, nil
}

type fakeImageGen struct {
	mu       sync.Mutex
	requests []*modelslab.ImageRequest
	fail     bool
	calls    int
}

func (g *fakeImageGen) Generate(ctx context.Context, req *modelslab.ImageRequest) (*modelslab.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	cp := *req
	g.requests = append(g.requests, &cp)
	if g.fail {
		return nil, fmt.Errorf("image provider unavailable")
	}
	return &modelslab.Result{
		Status:   "success",
		URL:      fmt.Sprintf("https://provider.test/image_%d.png", g.calls),
		Metadata: map[string]string{"model": "flux", "attempt": "primary_model"},
	}, nil
}

type fakeLipSync struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (l *fakeLipSync) Sync(ctx context.Context, videoURL, audioURL string) (*modelslab.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fail {
		return nil, fmt.Errorf("lipsync provider unavailable")
	}
	return &modelslab.Result{Status: "success", URL: videoURL + "?synced=1"}, nil
}

// ---- 资源下载假实现 ----

type fakeFetcher struct {
	mu       sync.Mutex
	failURLs map[string]bool
	calls    []string
}

func (f *fakeFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.failURLs[url] {
		return nil, &modelslab.ProviderError{Kind: modelslab.ErrRetrieval, Message: "download failed: " + url}
	}
	return []byte("fake-media-bytes"), nil
}

// ---- 媒体处理假实现 ----

type fakeMedia struct {
	mu    sync.Mutex
	calls []string
	// 可注入的失败开关
	failMergeAudio bool
	failExtract    bool
	failTransition bool
}

func (m *fakeMedia) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *fakeMedia) count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func writeFakeOutput(path string) error {
	return os.WriteFile(path, []byte("fake-output"), 0o644)
}

func (m *fakeMedia) GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error) {
	m.record("GetVideoInfo")
	return &ffmpeg.VideoInfo{Width: 720, Height: 1280, FPS: 24, Duration: 5}, nil
}

func (m *fakeMedia) GetAudioInfo(ctx context.Context, audioPath string) (*ffmpeg.AudioInfo, error) {
	m.record("GetAudioInfo")
	return &ffmpeg.AudioInfo{Duration: 5}, nil
}

func (m *fakeMedia) GetFileSize(path string) (int64, error) {
	m.record("GetFileSize")
	return 1024, nil
}

func (m *fakeMedia) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error {
	m.record("ExtractLastFrame")
	if m.failExtract {
		return fmt.Errorf("frame extraction failed")
	}
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) MergeAudioIntoVideo(ctx context.Context, videoPath string, audioPaths []string, outputPath string) error {
	m.record(fmt.Sprintf("MergeAudioIntoVideo:%d", len(audioPaths)))
	if m.failMergeAudio {
		return fmt.Errorf("amix failed")
	}
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) CrossfadeTransition(ctx context.Context, fromFrame, toFrame, outputPath string, duration float64, width, height, fps int) error {
	m.record("CrossfadeTransition")
	if m.failTransition {
		return fmt.Errorf("transition failed")
	}
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) StillClip(ctx context.Context, imagePath, outputPath string, duration float64, width, height, fps int) error {
	m.record("StillClip")
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) ConcatVideos(ctx context.Context, videoPaths []string, outputPath string) error {
	m.record(fmt.Sprintf("ConcatVideos:%d", len(videoPaths)))
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) ApplyColorFilters(ctx context.Context, inputPath, outputPath, filter string) error {
	m.record("ApplyColorFilters")
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) EncodeQualityTier(ctx context.Context, inputPath, outputPath, tier string, opts *ffmpeg.EncodeOptions) error {
	m.record("EncodeQualityTier:" + tier)
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) TrimWithFilters(ctx context.Context, inputPath, outputPath string, opts *ffmpeg.TrimOptions, sourceDuration float64) error {
	m.record("TrimWithFilters")
	return writeFakeOutput(outputPath)
}

func (m *fakeMedia) FastTrim(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	m.record(fmt.Sprintf("FastTrim:%.0f", duration))
	return writeFakeOutput(outputPath)
}

// ---- 存储假实现 ----

type fakeStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (s *fakeStore) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := io.ReadAll(data)
	s.uploads[key] = b
	return "https://cdn.test/" + key, nil
}

func (s *fakeStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *fakeStore) GetPresignedUploadURL(ctx context.Context, key string, contentType string, expiresIn time.Duration) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (s *fakeStore) GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (s *fakeStore) Delete(ctx context.Context, key string) error { return nil }

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (s *fakeStore) GetFileInfo(ctx context.Context, key string) (*storage.FileInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *fakeStore) GetStorageType() string { return "fake" }

// ---- 测试环境组装 ----

type testEnv struct {
	svc      *Service
	jobs     *fakeJobRepo
	segments *fakeSegmentRepo
	merges   *fakeMergeRepo
	queue    *fakeQueue
	media    *fakeMedia
	videos   *fakeVideoGen
	images   *fakeImageGen
	lipSync  *fakeLipSync
	fetcher  *fakeFetcher
	store    *fakeStore
}

func newTestEnv(workDir string) *testEnv {
	env := &testEnv{
		jobs:     newFakeJobRepo(),
		segments: newFakeSegmentRepo(),
		merges:   newFakeMergeRepo(),
		queue:    &fakeQueue{},
		media:    &fakeMedia{},
		videos:   &fakeVideoGen{errAt: make(map[int]error)},
		images:   &fakeImageGen{},
		lipSync:  &fakeLipSync{},
		fetcher:  &fakeFetcher{failURLs: make(map[string]bool)},
		store:    newFakeStore(),
	}
	env.svc = NewService(Deps{
		JobRepo:     env.jobs,
		SegmentRepo: env.segments,
		MergeRepo:   env.merges,
		Queue:       env.queue,
		Media:       env.media,
		Videos:      env.videos,
		Images:      env.images,
		LipSync:     env.lipSync,
		Fetcher:     env.fetcher,
		Store:       env.store,
		WorkDir:     workDir,
	})
	return env
}

// twoSceneJob 构造一个带两个场景、完整图片清单的任务
func (e *testEnv) twoSceneJob(ctx context.Context) *pipeline.GenerationJob {
	job := &pipeline.GenerationJob{
		ID:        "job-1",
		UserID:    "user-1",
		ChapterID: "chapter-1",
		Script: "SCENE 1\nThe quiet village rests at dawn as soft light touches the rooftops.\n\n" +
			"SCENE 2\nThe village square slowly fills with merchants and children.",
		ScriptData: &pipeline.ScriptData{
			Scenes: []pipeline.SceneInfo{
				{SceneNumber: 1, Description: "The quiet village at dawn"},
				{SceneNumber: 2, Description: "The village square fills"},
			},
			Characters:  []string{"John", "Mary"},
			ScriptStyle: "cinematic_movie",
		},
		ImageData: &pipeline.ImageData{
			SceneImages: []pipeline.SceneImage{
				{Scene: 1, ImageURL: "https://cdn.test/scene1.png"},
				{Scene: 2, ImageURL: "https://cdn.test/scene2.png"},
			},
		},
		AudioFiles: &pipeline.AudioFiles{
			Narrator: []pipeline.AudioTrack{
				{Scene: 1, AudioURL: "https://cdn.test/narrator1.mp3"},
				{Scene: 2, AudioURL: "https://cdn.test/narrator2.mp3"},
			},
		},
		GenerationStatus: pipeline.GenerationStatusQueued,
	}
	_ = e.jobs.Create(ctx, job)
	return job
}
