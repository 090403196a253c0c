package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"autograb/internal/repository"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the acceptance journal in DynamoDB",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent accepted orders",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <negotiation-id>",
	Short: "Show one negotiation and the answers sent for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

func init() {
	journalListCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of acceptances to list")
}

func openJournal(cmd *cobra.Command) (*repository.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg); err != nil {
		return nil, err
	}
	table := strings.TrimSpace(cfg.AWS.JournalTable)
	if table == "" {
		return nil, errors.New("journal table is not configured (aws.journal_table or JOURNAL_TABLE)")
	}
	awsCfg, err := loadAWSCfg(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), table)
}

func runJournalList(cmd *cobra.Command, _ []string) error {
	repo, err := openJournal(cmd)
	if err != nil {
		return err
	}
	acceptances, err := repo.ListAcceptances(cmd.Context(), journalLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCEPTED AT\tNEGOTIATION\tORDER\tTONS\tPRICE")
	for _, a := range acceptances {
		order := a.Offer.ID
		if order == "" {
			order = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\n", a.AcceptedAt.Local().Format(time.DateTime), a.NegotiationID, order, a.Offer.Quantity, a.Offer.UnitPrice)
	}
	return tw.Flush()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	repo, err := openJournal(cmd)
	if err != nil {
		return err
	}
	n, ok, err := repo.GetNegotiation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("negotiation %s not found", args[0])
	}

	out := cmd.OutOrStdout()
	a := n.Acceptance
	fmt.Fprintf(out, "negotiation %s\n", a.NegotiationID)
	fmt.Fprintf(out, "  order:    %s (%g t at %g)\n", a.Offer.ID, a.Offer.Quantity, a.Offer.UnitPrice)
	fmt.Fprintf(out, "  accepted: %s (message %s)\n", a.AcceptedAt.Local().Format(time.DateTime), a.MessageID)
	if len(n.Answers) == 0 {
		fmt.Fprintln(out, "  no answers journaled")
	}
	for _, ans := range n.Answers {
		fmt.Fprintf(out, "  %-8s  %s at %s\n", ans.Kind.String()+":", ans.Text, ans.SentAt.Local().Format(time.DateTime))
	}
	return nil
}
