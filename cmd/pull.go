package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/layertools/layerpull/internal/api"
	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/progress"
	"github.com/layertools/layerpull/internal/progress/sinks"
	"github.com/layertools/layerpull/internal/pull"
	"github.com/layertools/layerpull/internal/ratelimit"
	"github.com/layertools/layerpull/internal/registry"
	"github.com/layertools/layerpull/internal/storage/local"
)

func newPullCmd() *cobra.Command {
	var (
		registryURL   string
		repository    string
		maxConcurrent int
		outputDir     string
	)

	cmd := &cobra.Command{
		Use:   "pull digest[@size]...",
		Short: "Fetch the given layer blobs in parallel",
		Long: `pull fetches each blob by digest. An optional @size suffix supplies the
expected byte count, which enables completion percentages and short-read
detection, e.g.:

  layerpull pull --repository library/ubuntu \
      sha256:9f2f...@31668227 sha256:7c1b...@857
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := parseLayerArgs(args)
			if err != nil {
				return err
			}
			if registryURL != "" {
				cfg.Registry.BaseURL = registryURL
			}
			if repository != "" {
				cfg.Registry.Repository = repository
			}
			if cmd.Flags().Changed("max-concurrent") {
				cfg.Pull.MaxConcurrent = maxConcurrent
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runPull(cmd.Context(), descriptors, outputDir)
		},
	}

	cmd.Flags().StringVar(&registryURL, "registry", "", "registry base URL (overrides config)")
	cmd.Flags().StringVar(&repository, "repository", "", "image repository (overrides config)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "max layers in flight (overrides config)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "blob store root; blobs land under blobs/sha256/ (default: discard)")

	return cmd
}

func runPull(ctx context.Context, descriptors []oci.Descriptor, outputDir string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	statusSink := sinks.NewStatusSink()
	hub := progress.NewHub(progress.HubConfig{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger,
	}, sinks.NewLogSink(logger), promSink, statusSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewServer(statusSink, reg, logger).Handler(),
		}
		go func() {
			logger.Info("ops server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	clientOpts := registry.Options{
		BaseURL:        cfg.Registry.BaseURL,
		Repository:     cfg.Registry.Repository,
		Timeout:        cfg.BlobTimeout(),
		MaxRetries:     cfg.Registry.MaxRetries,
		BackoffInitial: time.Duration(cfg.Registry.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Registry.BackoffMaxMs) * time.Millisecond,
		Logger:         logger,
	}
	if cfg.Registry.RequestsPerSecond > 0 {
		clientOpts.Limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Registry.RequestsPerSecond,
			Burst:             cfg.Registry.Burst,
		})
	}
	client, err := registry.NewClient(clientOpts)
	if err != nil {
		return err
	}

	opts := pull.Options{
		MaxConcurrent: cfg.Pull.MaxConcurrent,
		Logger:        logger,
	}
	if outputDir != "" {
		store, err := local.New(local.Config{BaseDir: outputDir})
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		opts.Open = store.OpenBlob
	}

	puller, err := pull.New(progress.NewCoordinator(), hub, client, opts)
	if err != nil {
		return err
	}
	return puller.Pull(ctx, descriptors)
}

// parseLayerArgs turns "sha256:<hex>[@size]" args into descriptors.
func parseLayerArgs(args []string) ([]oci.Descriptor, error) {
	out := make([]oci.Descriptor, 0, len(args))
	for _, arg := range args {
		digest, sizeStr, hasSize := strings.Cut(arg, "@")
		desc := oci.Descriptor{Digest: digest, MediaType: oci.MediaTypeLayerGzip}
		if hasSize {
			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("layer %q: invalid size %q", digest, sizeStr)
			}
			desc.Size = size
		}
		if err := desc.Validate(); err != nil {
			return nil, fmt.Errorf("layer %q: %w", arg, err)
		}
		out = append(out, desc)
	}
	return out, nil
}
