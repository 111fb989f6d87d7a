package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msageha/phasegate/internal/gateway"
	"github.com/msageha/phasegate/internal/lifecycle"
	"github.com/msageha/phasegate/internal/orchestrator"
	"github.com/msageha/phasegate/internal/specstore"
)

var (
	queueForce bool
	failReason string
	statusJSON bool
)

var queueCmd = &cobra.Command{
	Use:   "queue <spec-file>",
	Short: "Validate a spec and admit it to QUEUED",
	Long: `Validate a spec against the spec directory and, if it passes, move the
phase from UNQUEUED to QUEUED and create its ledger entry.

--force admits a spec that failed validation. The errors are still printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.loadActiveSet(); err != nil {
				return err
			}
			spec, err := specstore.LoadFile(args[0])
			if err != nil {
				return err
			}

			result, err := a.core.QueuePhase(spec, orchestrator.QueueOptions{Force: queueForce})
			if result != nil {
				fmt.Fprint(os.Stderr, gateway.FormatStderr(result))
			}
			if err != nil {
				return reportTransitionError(err)
			}
			fmt.Printf("%s queued\n", spec.PhaseID)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <phase-id>",
	Short: "Move a phase from QUEUED to RUNNING",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.core.StartPhase(args[0]); err != nil {
				return reportTransitionError(err)
			}
			fmt.Printf("%s running\n", args[0])
			return nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <phase-id>",
	Short: "Move a phase from RUNNING to COMPLETE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.core.CompletePhase(args[0]); err != nil {
				return reportTransitionError(err)
			}
			fmt.Printf("%s complete\n", args[0])
			return nil
		})
	},
}

var failCmd = &cobra.Command{
	Use:   "fail <phase-id> --reason <text>",
	Short: "Move a phase from RUNNING to FAILED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.loadActiveSet(); err != nil {
				return err
			}
			if err := a.core.FailPhase(args[0], failReason); err != nil {
				return reportTransitionError(err)
			}
			fmt.Printf("%s failed\n", args[0])
			if blocked := a.core.BlastRadius(args[0]); len(blocked) > 0 {
				fmt.Fprintf(os.Stderr, "warning: %d phase(s) now blocked: %v\n", len(blocked), blocked)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <phase-id>",
	Short: "Show the merged state and history of a phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			st, err := a.core.GetStatus(args[0])
			if errors.Is(err, orchestrator.ErrPhaseNotFound) {
				return fail("%s: not found", args[0])
			}
			if err != nil {
				return err
			}
			if statusJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			out, err := yaml.Marshal(st)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every phase known to the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			phases, err := a.core.ListPhases()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tSTATE\tWORKSTREAM\tUPDATED")
			var unreadable int
			for _, st := range phases {
				state, workstream, updated := string(st.State), "-", "-"
				if st.Entry != nil {
					workstream, updated = st.Entry.WorkstreamID, st.Entry.UpdatedAt
				}
				if st.ReadError != "" {
					unreadable++
					if state == "" {
						state = "UNKNOWN"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.PhaseID, state, workstream, updated)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, st := range phases {
				if st.ReadError != "" {
					fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.PhaseID, st.ReadError)
				}
			}
			if unreadable > 0 {
				return errReported
			}
			return nil
		})
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List spec-set phases whose dependencies are all COMPLETE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.loadActiveSet(); err != nil {
				return err
			}
			ready, err := a.core.ReadyPhases()
			if err != nil {
				return err
			}
			for _, id := range ready {
				fmt.Println(id)
			}
			return nil
		})
	},
}

func init() {
	queueCmd.Flags().BoolVar(&queueForce, "force", false, "admit even if validation fails")
	failCmd.Flags().StringVar(&failReason, "reason", "", "failure reason recorded in the ledger")
	_ = failCmd.MarkFlagRequired("reason")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
}

// reportTransitionError prints bad input and bad sequencing differently.
func reportTransitionError(err error) error {
	var vfe *orchestrator.ValidationFailedError
	if errors.As(err, &vfe) {
		fmt.Fprintf(os.Stderr, "error: %s rejected, not queued\n", vfe.PhaseID)
		return errReported
	}
	var ste *lifecycle.StateTransitionError
	if errors.As(err, &ste) {
		fmt.Fprintf(os.Stderr, "error: %s is %s; cannot move to %s\n", ste.PhaseID, ste.From, ste.To)
		return errReported
	}
	return err
}
