package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwpotential/artifact"
	gwhttp "gwpotential/http"
	"gwpotential/inference"
	"gwpotential/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the artifact bundle and serve predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.HTTP.Port = servePort
		}

		// 模型加载失败直接退出，不提供降级服务
		model, err := inference.Load(cfg.Artifacts.Dir)
		if err != nil {
			return err
		}

		metrics := monitoring.NewMetricsCollector()
		hub := monitoring.NewWebSocketHub(cfg.HTTP.AllowedOrigins, metrics)
		go hub.Start()
		defer func() {
			hub.Stop()
			zap.L().Info("websocket hub stopped", zap.Int64("messages_sent", hub.MessagesSent()))
		}()

		opts := []gwhttp.Option{
			gwhttp.WithMetrics(metrics),
			gwhttp.WithHub(hub),
			gwhttp.WithReadOptions(cfg.Dataset.ReadOptions),
			gwhttp.WithMaxUpload(cfg.HTTP.MaxUploadBytes),
		}
		if cfg.Database.Path != "" {
			store, err := openStore(cfg.Database.Path)
			if err != nil {
				zap.L().Warn("prediction log disabled", zap.String("path", cfg.Database.Path), zap.Error(err))
			} else {
				defer store.Close()
				opts = append(opts, gwhttp.WithStore(store))
			}
		}

		if cfg.Artifacts.Watch {
			w, err := artifact.NewWatcher(cfg.Artifacts.Dir, model.RunID(), 0)
			if err != nil {
				zap.L().Warn("artifact watcher disabled", zap.Error(err))
			} else {
				defer w.Close()
				go w.Run(ctx)
			}
		}

		srv := gwhttp.NewServer(cfg.HTTP, gwhttp.NewHandlers(model, opts...))
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
