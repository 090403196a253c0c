package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"autograb/internal/config"
	"autograb/internal/integrations/paramstore"
)

var (
	configPath string
	verbose    bool

	logger     *slog.Logger
	closeLog   = func() error { return nil }
	loadAWSCfg = awsconfig.LoadDefaultConfig
)

var rootCmd = &cobra.Command{
	Use:   "autograb",
	Short: "Takes freight orders from the dispatcher bot and answers its follow-up questions",
	Long: `autograb watches the order bot's chat, accepts the first order that meets the
configured minimums and answers the bot's quantity and price questions.

Run "autograb serve" next to the chat sidecar, or "autograb replay" to dry-run
a recorded transcript.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "autograb.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(initCmd, serveCmd, replayCmd, journalCmd)
	journalCmd.AddCommand(journalListCmd, journalShowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("autograb failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the file and environment. SSM overrides are applied by
// the commands that talk to AWS.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// setupLogger writes text logs to stderr and, when configured, appends them
// to a file as well.
func setupLogger(cfg config.Config) error {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if path := strings.TrimSpace(cfg.Log.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeLog = f.Close
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newParamStore returns nil when no parameter prefix is configured.
func newParamStore(ctx context.Context, cfg config.Config) (*paramstore.Client, error) {
	if strings.TrimSpace(cfg.AWS.ParamPrefix) == "" {
		return nil, nil
	}
	awsCfg, err := loadAWSCfg(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}
