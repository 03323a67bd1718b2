package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"qrsafe/internal/domain"
	"qrsafe/internal/services/assessment"
	"qrsafe/internal/services/scanner"
)

func newRootCmd() *cobra.Command {
	var (
		o       options
		a       *app
		voterID string
	)
	root := &cobra.Command{
		Use:           "qrsafe",
		Short:         "Check scanned QR payloads before opening them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cmd.Context(), o)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	root.PersistentFlags().StringVar(&o.dbPath, "db", "", "history database (default from HISTORY_DB)")
	root.PersistentFlags().StringVar(&o.remote, "remote", "", "remote qrsafe server to replicate votes with")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().StringVar(&voterID, "voter", defaultVoter(), "voter identity")

	var rate string
	scanCmd := &cobra.Command{
		Use:   "scan <payload>",
		Short: "Assess a scanned payload and record it in history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var verdict *domain.Verdict
			if rate != "" {
				v, err := parseVote(rate)
				if err != nil {
					return err
				}
				verdict = v
			}
			sess := scanner.NewSession(a.scanner, voterID)
			if err := sess.Start(); err != nil {
				return err
			}
			res, err := sess.Submit(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			e := res.Entry
			if rate != "" {
				if e, err = sess.Rate(cmd.Context(), verdict); err != nil {
					return err
				}
			}
			printResult(cmd.OutOrStdout(), e, res.Duplicate)
			return nil
		},
	}
	scanCmd.Flags().StringVar(&rate, "rate", "", "rate the result right away: safe, unsafe or clear")

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded scans, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printHistory(cmd.OutOrStdout(), a.history.List(cmd.Context(), limit))
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries")

	voteCmd := &cobra.Command{
		Use:   "vote <entry-id> <safe|unsafe|clear>",
		Short: "Rate a recorded scan, or clear your rating",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict, err := parseVote(args[1])
			if err != nil {
				return err
			}
			sess := scanner.NewSession(a.scanner, voterID)
			if _, err := sess.Open(cmd.Context(), args[0]); err != nil {
				return err
			}
			e, err := sess.Rate(cmd.Context(), verdict)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), e, false)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the scan history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.history.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Add sample entries to the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeded, err := a.history.SeedDemo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d entries\n", len(seeded))
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay votes queued while the remote server was unreachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.sync == nil {
				return errors.New("no remote configured: set REMOTE_URL or --remote")
			}
			n, err := a.sync.Flush(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d queued votes\n", n)
			if err != nil {
				return err
			}
			left, err := a.sync.Pending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d still queued\n", left)
			return nil
		},
	}

	root.AddCommand(scanCmd, historyCmd, voteCmd, clearCmd, seedCmd, syncCmd)
	return root
}

func parseVote(s string) (*domain.Verdict, error) {
	switch strings.ToLower(s) {
	case "clear", "none":
		return nil, nil
	case string(domain.VerdictSafe), string(domain.VerdictUnsafe):
		v := domain.Verdict(strings.ToLower(s))
		return &v, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidVerdict, s)
}

func defaultVoter() string {
	if v := os.Getenv("QRSAFE_VOTER"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return "device:" + h
	}
	return "device:local"
}

func printResult(w io.Writer, e domain.ScanHistoryEntry, dup bool) {
	a := e.Assessment
	fmt.Fprintf(w, "%s\n", e.Identifier.Canonical)
	fmt.Fprintf(w, "  verdict:    %s (confidence %.3f)\n", assessment.EffectiveVerdict(e), a.Confidence)
	if a.Warning != "" {
		fmt.Fprintf(w, "  warning:    %s\n", a.Warning)
	}
	if r := a.Reputation; r != nil {
		fmt.Fprintf(w, "  reputation: %s %d/%d\n", r.State, r.MaliciousCount, r.TotalEngines)
		if r.ReportLink != "" {
			fmt.Fprintf(w, "  report:     %s\n", r.ReportLink)
		}
	}
	if c := a.Community; c != nil {
		fmt.Fprintf(w, "  community:  %d safe, %d unsafe\n", c.SafeCount, c.UnsafeCount)
	}
	if e.UserVote != nil {
		fmt.Fprintf(w, "  your vote:  %s\n", *e.UserVote)
	}
	fmt.Fprintf(w, "  entry:      %s\n", e.ID)
	if dup {
		fmt.Fprintln(w, "  (already in history)")
	}
}

func printHistory(w io.Writer, entries []domain.ScanHistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no scans recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCANNED\tSTATUS\tIDENTIFIER")
	for _, e := range entries {
		status := string(e.SafetyStatus)
		if e.UserOverride {
			status += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Timestamp.Local().Format(time.DateTime), status, e.Identifier.Canonical)
	}
	tw.Flush()
}
