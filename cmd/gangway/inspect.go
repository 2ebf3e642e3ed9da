package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/chasmware/gangway/bridge"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <module.wasm>",
	Short: "List a module's imports, exports and gangway entry points",
	Args:  cobra.ExactArgs(1),
	Run:   runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) {
	wasm, err := os.ReadFile(args[0])
	if err != nil {
		fail(err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		fail(fmt.Errorf("compile: %w", err))
	}
	defer compiled.Close(ctx)

	fmt.Println("Imports:")
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		fmt.Printf("  %s.%s%s\n", module, name, signature(def))
	}

	fmt.Println("Exports:")
	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s%s\n", name, signature(exports[name]))
	}

	fmt.Println("Bridge entry points:")
	for _, name := range []string{
		bridge.ExportStart,
		bridge.ExportMalloc,
		bridge.ExportRealloc,
		bridge.ExportClosureCall,
		bridge.ExportClosureDrop,
		bridge.ExportExnStore,
	} {
		state := "missing"
		if _, ok := exports[name]; ok {
			state = "present"
		}
		fmt.Printf("  %-22s %s\n", name, state)
	}
}

func signature(def api.FunctionDefinition) string {
	return fmt.Sprintf("(%s) -> (%s)",
		typeNames(def.ParamTypes()), typeNames(def.ResultTypes()))
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}
