package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"autograb/internal/integrations/replay"
	"autograb/internal/outbox"
	"autograb/internal/usecase"
)

var replayCmd = &cobra.Command{
	Use:   "replay <transcript.jsonl>",
	Short: "Dry-run a recorded transcript through the automaton",
	Long: `Feeds each line of a JSONL transcript to the automaton as if it came from the
order bot. Outbound actions are printed to stdout as JSON lines instead of
being sent. Each line looks like:

  {"id":"101","text":"...","affordances":[{"label":"Возьму","ref":"x"}],"delay_ms":0}`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	ctx := cmd.Context()
	recorder := replay.NewRecorder(cmd.OutOrStdout())
	ob := outbox.Start(ctx, logger.With("component", "outbox"))

	d, err := usecase.NewDispatcher(recorder, ob, usecase.Options{
		Thresholds:   cfg.DomainThresholds(),
		SlotExpiry:   cfg.QuestionExpiry(),
		ParseWorkers: cfg.Negotiation.ParseWorkers,
		ListCommand:  cfg.Bot.ListCommand,
		AcceptLabel:  cfg.Bot.AcceptLabel,
		Logger:       logger.With("component", "dispatcher"),
	})
	if err != nil {
		ob.Close()
		return fmt.Errorf("create dispatcher: %w", err)
	}

	src, err := replay.NewSource(f, logger.With("component", "replay"))
	if err != nil {
		ob.Close()
		return err
	}
	if err := src.OnMessage(d.Handle); err != nil {
		ob.Close()
		return err
	}

	summary, runErr := src.Run(ctx)
	ob.Close()

	state := d.State()
	attrs := []any{"messages", summary.Messages, "final_phase", state.Phase.String(), "accepted_offers", state.AcceptedOffers}
	for outcome, n := range summary.Outcomes {
		attrs = append(attrs, string(outcome), n)
	}
	logger.Info("replay finished", attrs...)
	return runErr
}
