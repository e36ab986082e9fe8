package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"fable/internal/ai"
	"fable/internal/config"
	"fable/internal/pkg/cache"
	"fable/internal/pkg/ffmpeg"
	"fable/internal/pkg/modelslab"
	"fable/internal/pkg/mongodb"
	"fable/internal/pkg/storage"
	"fable/internal/pkg/storagefactory"
	repo "fable/internal/repository/pipeline"
	pipelinesvc "fable/internal/service/pipeline"
	"fable/internal/taskqueue"
)

// App 应用级依赖容器
// serve 和 worker 两个进程共用同一套装配逻辑，
// 缺失的可选依赖记为 nil，由各进程自行决定是否可以缺省运行
type App struct {
	Cfg      *config.Config
	Mongo    *mongodb.Client
	Redis    *cache.RedisCache
	Queue    *taskqueue.Queue
	Store    storage.Storage
	Pipeline *pipelinesvc.Service
}

// New 按配置装配应用依赖
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	// MongoDB
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB 连接失败，相关功能不可用")
		} else {
			a.Mongo = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("MongoDB 已连接")
			if err := mongodb.EnsureIndexes(client.Database()); err != nil {
				log.Warn().Err(err).Msg("索引创建失败")
			}
		}
	}

	// Redis（缓存 + 任务队列共用同一连接）
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis 连接失败，相关功能不可用")
		} else {
			a.Redis = rc
			a.Queue = taskqueue.NewQueue(rc.Client())
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis 已连接")
		}
	}

	if a.Mongo == nil || a.Queue == nil {
		log.Warn().Msg("MongoDB 或 Redis 未配置，流水线服务不可用")
		return a, nil
	}

	// 存储后端
	store, err := storagefactory.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create storage backend: %w", err)
	}
	a.Store = store

	// ModelsLab 生成客户端（API 进程可缺省，只有 worker 真正调用）
	var (
		videos  pipelinesvc.VideoGenerator
		images  pipelinesvc.ImageGenerator
		lipSync pipelinesvc.LipSyncer
		fetcher pipelinesvc.AssetFetcher
	)
	if cfg.ModelsLab.APIKey != "" {
		mlClient, err := modelslab.NewClient(&modelslab.Config{
			APIKey:  cfg.ModelsLab.APIKey,
			BaseURL: cfg.ModelsLab.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create modelslab client: %w", err)
		}
		videos = modelslab.NewVideoClient(mlClient, cfg.ModelsLab.VideoModel)
		images = modelslab.NewImageClient(mlClient, cfg.ModelsLab.ImageModel)
		lipSync = modelslab.NewLipSyncClient(mlClient, "")
		fetcher = mlClient
	} else {
		log.Warn().Msg("ModelsLab API key 未配置，生成能力不可用")
	}

	// 剧本生成客户端（可缺省，缺省时请求必须自带剧本）
	var scriptWriter pipelinesvc.ScriptWriter
	if cfg.AI.APIKey != "" {
		sw, err := ai.NewScriptWriter(ctx, &cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("剧本生成客户端初始化失败")
		} else {
			scriptWriter = sw
		}
	}

	db := a.Mongo.Database()
	a.Pipeline = pipelinesvc.NewService(pipelinesvc.Deps{
		JobRepo:      repo.NewJobRepo(db),
		SegmentRepo:  repo.NewSegmentRepo(db),
		MergeRepo:    repo.NewMergeRepo(db),
		Queue:        a.Queue,
		Media:        ffmpeg.NewClient(),
		Videos:       videos,
		Images:       images,
		LipSync:      lipSync,
		Fetcher:      fetcher,
		Store:        store,
		ScriptWriter: scriptWriter,
		WorkDir:      cfg.Pipeline.WorkDir,
		Width:        cfg.Pipeline.Width,
		Height:       cfg.Pipeline.Height,
		FPS:          cfg.Pipeline.FPS,
	})

	return a, nil
}

// Close 释放应用持有的连接
func (a *App) Close(ctx context.Context) {
	if a.Mongo != nil {
		if err := a.Mongo.Close(ctx); err != nil {
			log.Error().Err(err).Msg("关闭 MongoDB 连接失败")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭 Redis 连接失败")
		}
	}
}
