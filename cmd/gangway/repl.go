package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/chasmware/gangway/bridge"
)

var replCmd = &cobra.Command{
	Use:   "repl <module.wasm>",
	Short: "Interactively call a module's exports",
	Long: `Start an interactive session against an instantiated module.

Commands:
  exports              list exported functions
  start [arg]          invoke the start entry point
  call <name> [n...]   invoke an export with raw integer arguments
  drain                run scheduled callbacks
  pending              show queued callback count
  exit                 quit (also Ctrl+D)`,
	Args: cobra.ExactArgs(1),
	Run:  runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.gangway_history)")
	replCmd.Flags().StringSlice("seed", nil, "Seed storage entry key=value (repeatable)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	historyFile, _ := cmd.Flags().GetString("history")
	seeds, _ := cmd.Flags().GetStringSlice("seed")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".gangway_history")
	}

	wasm, err := os.ReadFile(args[0])
	if err != nil {
		fail(err)
	}
	log, err := buildLogger(cmd)
	if err != nil {
		fail(err)
	}
	registry, err := buildRegistry(seeds)
	if err != nil {
		fail(err)
	}

	ctx := context.Background()
	b, err := bridge.New(ctx, wasm, buildBridgeOpts(cmd, registry, log)...)
	if err != nil {
		fail(err)
	}
	defer b.Close(ctx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fail(err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			return
		case "exports":
			names := b.ExportNames()
			sort.Strings(names)
			for _, name := range names {
				fmt.Println(" ", name)
			}
		case "start":
			arg := ""
			if len(fields) > 1 {
				arg = strings.Join(fields[1:], " ")
			}
			if err := b.Start(ctx, arg); err != nil {
				printGuestError(err)
			}
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <name> [n...]")
				continue
			}
			callExport(ctx, b, fields[1], fields[2:])
		case "drain":
			if err := b.Drain(ctx); err != nil {
				printGuestError(err)
			}
		case "pending":
			fmt.Println(b.PendingTimers())
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func callExport(ctx context.Context, b *bridge.Bridge, name string, rawArgs []string) {
	callArgs := make([]uint64, len(rawArgs))
	for i, raw := range rawArgs {
		n, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			fmt.Printf("bad argument %q: %v\n", raw, err)
			return
		}
		callArgs[i] = n
	}

	results, err := b.Invoke(ctx, name, callArgs...)
	if err != nil {
		printGuestError(err)
		return
	}
	for _, r := range results {
		fmt.Printf("  %d (0x%x)\n", r, r)
	}
}

func printGuestError(err error) {
	var fatal *bridge.FatalError
	if errors.As(err, &fatal) {
		fmt.Printf("guest raised: %s\n", fatal.Message)
		return
	}
	fmt.Printf("error: %v\n", err)
}
