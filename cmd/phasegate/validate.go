package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/phasegate/internal/gateway"
	"github.com/msageha/phasegate/internal/model"
	"github.com/msageha/phasegate/internal/specstore"
)

var (
	validateSet  bool
	validateJSON bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate spec files or directories",
	Long: `Validate one or more spec files. Directories are expanded to the spec
files they contain. Every error is printed; nothing stops at the first one.

With --set the inputs are validated together as a full spec set, which
enables cycle detection and dangling dependency warnings.

Examples:
  phasegate validate phases/PH-A.yaml
  phasegate validate --set phases/
  phasegate validate --json phases/PH-A.yaml phases/PH-B.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLightApp(func(a *app) error {
			return runValidate(cmd, a, args)
		})
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateSet, "set", false, "validate inputs together as one spec set")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print results as JSON")
}

func collectSpecs(paths []string) ([]model.PhaseSpecification, []*specstore.LoadError) {
	var (
		specs  []model.PhaseSpecification
		failed []*specstore.LoadError
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			failed = append(failed, &specstore.LoadError{Path: p, Err: err})
			continue
		}
		if info.IsDir() {
			dirSpecs, dirFailed, err := specstore.LoadDir(p)
			if err != nil {
				failed = append(failed, &specstore.LoadError{Path: p, Err: err})
				continue
			}
			specs = append(specs, dirSpecs...)
			failed = append(failed, dirFailed...)
			continue
		}
		spec, err := specstore.LoadFile(p)
		if err != nil {
			failed = append(failed, &specstore.LoadError{Path: p, Err: err})
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, failed
}

func runValidate(cmd *cobra.Command, a *app, paths []string) error {
	specs, failed := collectSpecs(paths)
	for _, f := range failed {
		fmt.Fprintf(os.Stderr, "error: %v\n", f)
	}

	var results []*model.ValidationResult
	if validateSet {
		var err error
		results, err = a.gateway.ValidateAll(cmd.Context(), specs)
		if err != nil {
			return err
		}
	} else {
		for i := range specs {
			results = append(results, a.gateway.Validate(&specs[i]))
		}
	}

	allPassed := len(failed) == 0
	for _, r := range results {
		allPassed = allPassed && r.OverallPassed
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for i, r := range results {
			verdict := "PASS"
			if !r.OverallPassed {
				verdict = "FAIL"
			}
			fmt.Printf("%s %s (%s)\n", verdict, r.PhaseID, specs[i].SourcePath)
			fmt.Fprint(os.Stderr, gateway.FormatStderr(r))
		}
	}

	if !allPassed {
		return errReported
	}
	return nil
}
