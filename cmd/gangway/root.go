package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chasmware/gangway/bridge"
	"github.com/chasmware/gangway/hostfunc"
)

var rootCmd = &cobra.Command{
	Use:   "gangway",
	Short: "Host-side bridge for wasm modules built against the gangway ABI",
	Long: `gangway - Run wasm modules that interoperate with the host through
opaque handles, marshaled strings and reference-counted callbacks.

The bridge exports the built-in binding set (object/string/buffer
marshaling, console, clock, timers, storage) to the guest under the
"gangway" import namespace and drives the guest's exported entry points.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log boundary crossings")
	rootCmd.PersistentFlags().Bool("wasi", false, "Also provide wasi_snapshot_preview1")
	rootCmd.PersistentFlags().Uint32("memory-pages", 0, "Guest memory limit in 64KiB pages (0 = unlimited)")
}

func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func buildBridgeOpts(cmd *cobra.Command, registry *hostfunc.Registry, log *zap.Logger) []bridge.Option {
	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithRegistry(registry),
	}
	if wasi, _ := cmd.Root().PersistentFlags().GetBool("wasi"); wasi {
		opts = append(opts, bridge.WithWASI())
	}
	if pages, _ := cmd.Root().PersistentFlags().GetUint32("memory-pages"); pages > 0 {
		opts = append(opts, bridge.WithMemoryLimitPages(pages))
	}
	return opts
}

// buildRegistry assembles the built-in binding sets with a seedable
// storage.
func buildRegistry(seeds []string) (*hostfunc.Registry, error) {
	registry := hostfunc.NewRegistry()
	registry.RegisterAll(hostfunc.Core())
	registry.RegisterAll(hostfunc.Props())
	registry.RegisterAll(hostfunc.Console())
	registry.RegisterAll(hostfunc.Clock())
	registry.RegisterAll(hostfunc.Timers())

	store := hostfunc.NewStorage()
	for _, seed := range seeds {
		key, value, ok := strings.Cut(seed, "=")
		if !ok {
			return nil, fmt.Errorf("invalid seed %q (expected key=value)", seed)
		}
		store.Set(key, value)
	}
	registry.RegisterAll(store.Bindings())
	return registry, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
