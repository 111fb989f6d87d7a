package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Dependency graph queries over the spec directory",
}

var graphOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print a topological execution order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(a *app) error {
			p := a.core.Plan()
			if p.HasCycles {
				return reportCycles(p.Cycles)
			}
			for _, id := range p.Order {
				fmt.Println(id)
			}
			reportDangling(p.Dangling)
			return nil
		})
	},
}

var graphLevelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print groups of phases that may run in parallel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(a *app) error {
			p := a.core.Plan()
			if p.HasCycles {
				return reportCycles(p.Cycles)
			}
			for i, level := range p.Levels {
				fmt.Printf("level %d: %s\n", i, strings.Join(level, " "))
			}
			reportDangling(p.Dangling)
			return nil
		})
	},
}

var graphCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Report dependency cycles; exits 1 when any exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(a *app) error {
			p := a.core.Plan()
			if p.HasCycles {
				return reportCycles(p.Cycles)
			}
			fmt.Println("no cycles")
			return nil
		})
	},
}

var graphBlockedCmd = &cobra.Command{
	Use:   "blocked <phase-id>",
	Short: "List phases transitively blocked if the given phase fails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(a *app) error {
			for _, id := range a.core.BlastRadius(args[0]) {
				fmt.Println(id)
			}
			return nil
		})
	},
}

func init() {
	graphCmd.AddCommand(graphOrderCmd, graphLevelsCmd, graphCyclesCmd, graphBlockedCmd)
}

func withGraph(fn func(a *app) error) error {
	return withApp(func(a *app) error {
		if err := a.loadActiveSet(); err != nil {
			return err
		}
		return fn(a)
	})
}

func reportCycles(cycles []string) error {
	fmt.Fprintln(os.Stderr, "error: dependency cycle detected")
	for _, c := range cycles {
		fmt.Fprintf(os.Stderr, "  %s\n", c)
	}
	return errReported
}

func reportDangling(dangling map[string][]string) {
	ids := make([]string, 0, len(dangling))
	for id := range dangling {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(os.Stderr, "warning: %s depends on %s outside the spec set\n", id, strings.Join(dangling[id], ", "))
	}
}
