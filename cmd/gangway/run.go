package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chasmware/gangway/bridge"
)

var runCmd = &cobra.Command{
	Use:   "run <module.wasm> [start-arg]",
	Short: "Instantiate a module, run its start entry point, drain callbacks",
	Long: `Instantiate a wasm module against the gangway bindings, invoke its
start entry point with the given string argument, then run the callbacks
the guest scheduled (timers) until none remain.

A guest-raised fatal is reported with the message the guest wrote.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runRun,
}

func init() {
	runCmd.Flags().Duration("timeout", 30*time.Second, "Overall execution timeout")
	runCmd.Flags().StringSlice("seed", nil, "Seed storage entry key=value (repeatable)")
	runCmd.Flags().Bool("no-drain", false, "Skip draining scheduled callbacks after start")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	seeds, _ := cmd.Flags().GetStringSlice("seed")
	noDrain, _ := cmd.Flags().GetBool("no-drain")

	wasm, err := os.ReadFile(args[0])
	if err != nil {
		fail(err)
	}
	startArg := ""
	if len(args) > 1 {
		startArg = args[1]
	}

	log, err := buildLogger(cmd)
	if err != nil {
		fail(err)
	}
	registry, err := buildRegistry(seeds)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b, err := bridge.New(ctx, wasm, buildBridgeOpts(cmd, registry, log)...)
	if err != nil {
		fail(err)
	}
	defer b.Close(context.Background())

	if err := b.Start(ctx, startArg); err != nil {
		reportGuestError(err)
	}
	if !noDrain {
		if err := b.Drain(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			reportGuestError(err)
		}
	}
}

func reportGuestError(err error) {
	var fatal *bridge.FatalError
	if errors.As(err, &fatal) {
		fmt.Fprintf(os.Stderr, "guest raised: %s\n", fatal.Message)
		os.Exit(1)
	}
	fail(err)
}
