package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/casesync/pkg/casesync"
)

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			res, err := agent.SyncNow(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return printPass(cmd.OutOrStdout(), res)
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync backlog of the local ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			counts, err := agent.Counts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, counts)
			}
			return printCounts(out, counts, agent.RetryPolicy())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newStatsCmd(c *cli) *cobra.Command {
	var remote, asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <username>",
		Short: "Show a user's aggregate stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			var stats casesync.UserStats
			if remote {
				stats, err = agent.RemoteStats(cmd.Context(), args[0])
			} else {
				stats, err = agent.Stats(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "user\t%s\n", stats.Username)
			fmt.Fprintf(tw, "sessions\t%d\n", stats.TotalSessions)
			fmt.Fprintf(tw, "score\t%d\n", stats.TotalScore)
			fmt.Fprintf(tw, "cases\t%d\n", stats.TotalCases)
			fmt.Fprintf(tw, "avg per case\t%.2f\n", stats.AvgScorePerCase)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the remote store instead of the local ledger")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var remote, asJSON bool
	cmd := &cobra.Command{
		Use:   "history <username>",
		Short: "List a user's sessions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			var history []casesync.SessionHistory
			if remote {
				history, err = agent.RemoteHistory(cmd.Context(), args[0])
			} else {
				history, err = agent.History(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, history)
			}
			return printHistory(out, history)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the remote store instead of the local ledger")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newRequeueCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [kind...]",
		Short: "Move failed records back to pending",
		Long: "Move failed records back to pending with a fresh retry count.\n" +
			"Kinds: users, sessions, case_attempts, learner_actions (default: all).",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]casesync.Kind, 0, len(args))
			for _, a := range args {
				k, err := casesync.ParseKind(a)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}

			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			n, err := agent.Requeue(cmd.Context(), kinds...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d records\n", n)
			return nil
		},
	}
}

func newWipeCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every record in the local ledger, synced or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("wipe deletes unsynced records too; pass --yes to confirm")
			}
			if err := c.load(cmd); err != nil {
				return err
			}
			agent, done, err := c.open()
			if err != nil {
				return err
			}
			defer done()

			if err := agent.Wipe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger wiped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func printPass(w io.Writer, res casesync.PassResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSYNCED\tFAILED\tDEFERRED")
	for _, k := range casesync.Kinds() {
		t := res.Tiers[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", k, t.Synced, t.Failed, t.Deferred)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "took %s, requeued %d\n", res.Duration.Round(time.Millisecond), res.Requeued)
	return err
}

func printCounts(w io.Writer, counts map[casesync.Kind]casesync.StatusCounts, policy casesync.RetryPolicy) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPENDING\tSYNCED\tFAILED\tEXHAUSTED")
	for _, k := range casesync.Kinds() {
		n := counts[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", k, n.Pending, n.Synced, n.Failed, n.Exhausted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "retry: max %d attempts, delay %s..%s\n", policy.MaxAttempts, policy.BaseDelay, policy.MaxDelay)
	return err
}

func printHistory(w io.Writer, history []casesync.SessionHistory) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tENDED\tSCORE\tCASES\tATTEMPTS\tAVG")
	for _, h := range history {
		ended := "-"
		if h.EndedAt != nil {
			ended = h.EndedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%.2f\n",
			h.SessionID, h.StartedAt.Local().Format(time.DateTime), ended,
			h.TotalScore, h.CasesCompleted, h.TotalAttempts, h.AvgPointsPerCase)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
