// Package cmd wires the Cobra CLI: a persistent --profile flag resolved
// by internal/config, an SSH session dialed from the resolved profile,
// and the sync/push/pull/status subcommands that each drive one
// syncengine.Orchestrator run.
//
// Grounded on the teacher's cmd/root.go command-registration idiom
// (package-level *cobra.Command vars wired in init, an ExecuteContext
// entry point for main.go to call), stripped of its interactive menu
// (promptui) and pipeline/backup subcommands, which have no equivalent in
// this CLI's scope.
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"gosync/internal/config"
	"gosync/internal/reporter"
	"gosync/internal/syncengine"
	"gosync/internal/syncerr"
	"gosync/internal/transport"
)

var profilePath string

var rootCmd = &cobra.Command{
	Use:   "gosync",
	Short: "Bidirectional file sync over SSH",
	Long: `gosync synchronizes a local directory tree with a remote directory tree
reachable over SSH, using mtime+size fingerprints, batched tar+gzip
transfers, and persisted state/progress for crash-safe resume.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", ".", "path to sync.yaml, or its containing directory")
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func newSyncCmd() *cobra.Command {
	var force, dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a bidirectional sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, func(cfg *config.SyncConfig) {
				cfg.Force, cfg.DryRun, cfg.Verbose = force, dryRun, verbose
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "proceed past corrupt state/progress files, treating state as empty")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the decided actions without executing them")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "set the profile's verbose flag (console output is the same with or without it)")
	return cmd
}

func newPushCmd() *cobra.Command {
	var force, dryRun bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Sync, only ever transferring local -> remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, func(cfg *config.SyncConfig) {
				cfg.PushOnly, cfg.Force, cfg.DryRun = true, force, dryRun
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "proceed past corrupt state/progress files, treating state as empty")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the decided actions without executing them")
	return cmd
}

func newPullCmd() *cobra.Command {
	var force, dryRun bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Sync, only ever transferring remote -> local",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, func(cfg *config.SyncConfig) {
				cfg.PullOnly, cfg.Force, cfg.DryRun = true, force, dryRun
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "proceed past corrupt state/progress files, treating state as empty")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the decided actions without executing them")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what a sync would do, without performing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, func(cfg *config.SyncConfig) {
				cfg.DryRun = true
			})
		},
	}
}

// runSession loads the profile, applies per-command overrides, dials an
// SSH session, and drives one Orchestrator run to completion.
func runSession(cmd *cobra.Command, override func(*config.SyncConfig)) error {
	cfg, err := config.Load(profilePath)
	if err != nil {
		return fmt.Errorf("gosync: %w", &syncerr.ConfigError{Err: err})
	}
	override(cfg)

	port := strconv.Itoa(cfg.Port)
	sess, err := transport.NewSSHSession(cmd.Context(), transport.SSHConfig{
		Host:           cfg.Server,
		Port:           port,
		User:           cfg.Username,
		PrivateKeyPath: cfg.PrivateKey,
		DialTimeout:    15 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("gosync: connecting to %s:%s: %w", cfg.Server, port, err)
	}
	defer sess.Close()

	rep := reporter.NewConsoleReporter()
	orch := &syncengine.Orchestrator{Transport: sess, Config: cfg, Reporter: rep}
	return orch.Run(cmd.Context())
}

// ExecuteContext runs the CLI with a caller-supplied context, so main.go
// can wire signal-triggered cancellation through to the orchestrator.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}
