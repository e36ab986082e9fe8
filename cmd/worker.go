package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fable/internal/app"
	"fable/internal/taskqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the pipeline worker",
	Long: `Start the Fable pipeline worker. The worker consumes queued tasks
(scene video generation, audio/video merge, manual merge, auto retry)
and executes them until interrupted.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble application: %w", err)
	}
	defer a.Close(context.Background())

	// worker 必须具备完整依赖，缺了无法消费任务
	if a.Pipeline == nil {
		return fmt.Errorf("pipeline service unavailable: worker requires mongo, redis and modelslab to be configured")
	}
	svc := a.Pipeline

	w := taskqueue.NewWorker(a.Queue)

	w.Register(taskqueue.QueueSceneGeneration, func(ctx context.Context, payload string) error {
		var p taskqueue.SceneGenerationPayload
		if err := taskqueue.Unmarshal(payload, &p); err != nil {
			return err
		}
		return svc.GenerateSceneVideos(ctx, p.JobID)
	})

	w.Register(taskqueue.QueueAudioVideoMerge, func(ctx context.Context, payload string) error {
		var p taskqueue.MergePayload
		if err := taskqueue.Unmarshal(payload, &p); err != nil {
			return err
		}
		return svc.MergeAudioVideo(ctx, p.JobID)
	})

	w.Register(taskqueue.QueueManualMerge, func(ctx context.Context, payload string) error {
		var p taskqueue.ManualMergePayload
		if err := taskqueue.Unmarshal(payload, &p); err != nil {
			return err
		}
		return svc.ProcessManualMerge(ctx, p.OperationID)
	})

	w.Register(taskqueue.QueueRetryGeneration, func(ctx context.Context, payload string) error {
		var p taskqueue.RetryPayload
		if err := taskqueue.Unmarshal(payload, &p); err != nil {
			return err
		}
		return svc.HandleRetryTask(ctx, &p)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	// 崩溃后遗留的待重试任务重新入队
	if _, err := svc.RecoverPendingJobs(ctx); err != nil {
		log.Warn().Err(err).Msg("恢复扫描失败")
	}

	log.Info().Msg("启动流水线 worker")
	return w.Run(ctx)
}
