package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	normalizeDryRun bool
	normalizePhase  string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Run the background integrity passes against the stores",
	Long: `normalize runs the four maintenance passes (C8) against the
currently configured stores: snapshot, validate, dedupe, and cleanup.
Each pass is independently idempotent; --dry-run reports what a pass
would do without mutating anything.`,
	RunE: runNormalize,
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeDryRun, "dry-run", false, "report without mutating the stores")
	normalizeCmd.Flags().StringVar(&normalizePhase, "phase", "all", "snapshot, validate, dedupe, cleanup, or all")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	runSnapshot := normalizePhase == "snapshot" || normalizePhase == "all"
	runValidate := normalizePhase == "validate" || normalizePhase == "all"
	runDedupe := normalizePhase == "dedupe" || normalizePhase == "all"
	runCleanup := normalizePhase == "cleanup" || normalizePhase == "all"
	if !runSnapshot && !runValidate && !runDedupe && !runCleanup {
		return fmt.Errorf("unknown --phase %q", normalizePhase)
	}

	a, err := buildApp(ctx, debug)
	if err != nil {
		return err
	}
	defer a.Close()

	if runSnapshot {
		snap, err := a.norm.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		fmt.Printf("snapshot: checksum=%s\n", snap.Checksum)
		for v, count := range snap.CountsByVariant {
			fmt.Printf("  %-16s %d\n", v, count)
		}
	}

	if runValidate {
		issues, err := a.norm.Validate(ctx)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		fmt.Printf("validate: %d issue(s)\n", len(issues))
		for _, issue := range issues {
			fmt.Printf("  %s [%s]: %s\n", issue.MemoryID, issue.Variant, issue.Reason)
		}
	}

	if runDedupe {
		clusters, err := a.norm.Deduplicate(ctx, normalizeDryRun)
		if err != nil {
			return fmt.Errorf("dedupe: %w", err)
		}
		fmt.Printf("dedupe: %d cluster(s)\n", len(clusters))
		for _, c := range clusters {
			fmt.Printf("  [%s] survivor=%s removed=%v\n", c.Variant, c.Survivor, c.Removed)
		}
	}

	if runCleanup {
		result, err := a.norm.Cleanup(ctx, normalizeDryRun)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Printf("cleanup: hard_deleted=%d orphan_edges=%d\n", result.HardDeleted, result.OrphanEdges)
	}

	return nil
}
