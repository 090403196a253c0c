package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"autograb/handler"
	"autograb/internal/config"
	"autograb/internal/integrations/bridge"
	"autograb/internal/integrations/paramstore"
	"autograb/internal/outbox"
	"autograb/internal/repository"
	"autograb/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run against the chat sidecar until interrupted",
	Long: `Serves the sidecar API (POST /v1/inbound, GET /v1/state) and sends outbound
messages and button presses back through the sidecar.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Bot.Username) == "" {
		return errors.New("bot username is required (bot.username or BOT_USERNAME)")
	}

	// ---- AWS-backed collaborators (optional) ----
	ps, err := newParamStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create SSM client: %w", err)
	}
	if ps != nil {
		if err := cfg.ApplyParams(ctx, ps); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var journal usecase.Journal
	if table := strings.TrimSpace(cfg.AWS.JournalTable); table != "" {
		awsCfg, err := loadAWSCfg(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), table)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		journal = repo
	}

	// ---- Transport ----
	var bridgeOpts []bridge.Option
	if ps != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithTokenFrom(ps, cfg.AWS.ParamPrefix))
	}
	transport, err := bridge.NewClient(cfg.Bridge.URL, cfg.Bot.Username, bridgeOpts...)
	if err != nil {
		return fmt.Errorf("create bridge client: %w", err)
	}

	// Outbound work drains on shutdown, after the HTTP server stops feeding it.
	ob := outbox.Start(context.WithoutCancel(ctx), logger.With("component", "outbox"))
	defer ob.Close()

	d, err := usecase.NewDispatcher(transport, ob, usecase.Options{
		Thresholds:   cfg.DomainThresholds(),
		SlotExpiry:   cfg.QuestionExpiry(),
		ParseWorkers: cfg.Negotiation.ParseWorkers,
		ListCommand:  cfg.Bot.ListCommand,
		AcceptLabel:  cfg.Bot.AcceptLabel,
		Journal:      journal,
		Logger:       logger.With("component", "dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	if w := startWatcher(ctx, cfg, ps, d); w != nil {
		defer w.Stop()
	}

	// ---- Handler ----
	h, err := handler.NewHandler(cfg.Bot.Username, d, logger.With("component", "handler"))
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	if err := h.OnMessage(d.Handle); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Bridge.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("autograb serving",
		"addr", cfg.Bridge.ListenAddr,
		"bot", cfg.Bot.Username,
		"min_quantity", cfg.Thresholds.MinQuantity,
		"min_unit_price", cfg.Thresholds.MinUnitPrice,
		"journal", journal != nil,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	stats := ob.Stats()
	logger.Info("outbox stats", "delivered", stats.Delivered, "failed", stats.Failed, "dropped", stats.Dropped)
	return nil
}

// startWatcher hot-reloads thresholds when the config file exists.
func startWatcher(ctx context.Context, cfg config.Config, ps *paramstore.Client, sink config.ThresholdSink) *config.Watcher {
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}
	load := func(ctx context.Context) (config.Config, error) {
		next, err := loadConfig()
		if err != nil {
			return config.Config{}, err
		}
		if ps != nil {
			if err := next.ApplyParams(ctx, ps); err != nil {
				return config.Config{}, err
			}
		}
		return next, nil
	}
	w, err := config.NewWatcher(configPath, cfg.DomainThresholds(), load, sink, logger.With("component", "config"))
	if err != nil {
		logger.Warn("config watcher unavailable", "err", err)
		return nil
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "err", err)
		w.Stop()
		return nil
	}
	return w
}
