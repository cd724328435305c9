// ingestctl is the operator CLI for the subband ingest queue. It opens the
// queue database directly, so it works whether or not the daemon is up.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Inspect and manage the subband conversion queue",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "ingest.db", "path to the queue database")

	root.AddCommand(statusCmd(), listCmd(), showCmd(), requeueCmd(), purgeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return store.Open(dbPath, log)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-state group counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.CountByState()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tGROUPS")
			for _, state := range model.AllStates() {
				fmt.Fprintf(w, "%s\t%d\n", state, counts[state])
			}
			return w.Flush()
		},
	}
}

func listCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			states := model.AllStates()
			if state != "" {
				states = []model.GroupState{model.GroupState(state)}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tSTATE\tMEMBERS\tATTEMPTS\tUPDATED\tLAST ERROR")
			for _, s := range states {
				groups, err := st.ListByState(s)
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
						g.Key, g.State, len(g.Members), g.ExpectedCount,
						g.AttemptCount, g.LastUpdateAt.Format(time.RFC3339),
						truncate(g.LastError, 60))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only show groups in this state")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <group-key>",
		Short: "Dump one group as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			g, found, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("group %s not found", args[0])
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(g)
		},
	}
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <group-key>",
		Short: "Put a failed group back in line with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Requeue(args[0], time.Now()); err != nil {
				return err
			}
			fmt.Printf("✅ group %s requeued\n", args[0])
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Evict completed and failed groups older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			purged, err := st.PurgeTerminalBefore(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("purged %d groups\n", purged)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "purge terminal groups last updated before now minus this")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
