package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vmlink/vmlink/engine"
	"github.com/vmlink/vmlink/vm"
)

var runCmd = &cobra.Command{
	Use:   "run <file.wasm>",
	Short: "Load a WebAssembly guest and call into it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("mode", "threaded", "Integration mode: direct, threaded")
	runCmd.Flags().String("call", "", "Target function to call after the entry point")
	runCmd.Flags().Int64("payload", 0, "Integer payload for --call (omitted when target is nullary)")
	runCmd.Flags().Bool("nullary", false, "Call the target with no payload")
	runCmd.Flags().Int("pump", 1, "How many event pump passes to run")
	runCmd.Flags().String("entry", "_start", "Entry point export name")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := buildLogger(cmd)
	defer logger.Sync() //nolint:errcheck

	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read guest: %w", err)
	}

	mode, err := parseMode(mustString(cmd, "mode"))
	if err != nil {
		return err
	}

	engine.SetLogger(logger)
	exec := engine.New(&engine.Config{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		EntryExport: mustString(cmd, "entry"),
	})

	v, err := vm.New(exec, vm.WithLogger(logger))
	if err != nil {
		return err
	}
	defer v.Destroy(ctx) //nolint:errcheck

	if err := v.SetMode(mode); err != nil {
		return err
	}
	if err := v.Initialize(ctx, nil); err != nil {
		return err
	}
	if err := v.Load(ctx, source); err != nil {
		return err
	}

	switch mode {
	case vm.ModeThreaded:
		if err := v.StartWorker(); err != nil {
			return err
		}
	default:
		if err := v.CallEntry(ctx); err != nil {
			return err
		}
	}

	if target := mustString(cmd, "call"); target != "" {
		var payload any
		if nullary, _ := cmd.Flags().GetBool("nullary"); !nullary {
			payload, _ = cmd.Flags().GetInt64("payload")
		}
		result, err := v.CallSync(ctx, target, payload)
		if err != nil {
			return fmt.Errorf("call %s: %w", target, err)
		}
		fmt.Printf("%s -> %v\n", target, result)
	}

	pumps, _ := cmd.Flags().GetInt("pump")
	for i := 0; i < pumps; i++ {
		v.Pump()
	}
	if lastErr := v.LastError(); lastErr != "" {
		fmt.Fprintf(os.Stderr, "last error: %s\n", lastErr)
	}

	if mode == vm.ModeThreaded {
		if err := v.StopWorker(); err != nil {
			return err
		}
	}
	return nil
}

func parseMode(s string) (vm.Mode, error) {
	switch s {
	case "direct":
		return vm.ModeDirect, nil
	case "threaded":
		return vm.ModeThreaded, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (expected direct or threaded)", s)
	}
}

func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

// parsePayload turns TUI input into a call payload: empty means nullary,
// otherwise an integer or float.
func parsePayload(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("payload %q is not numeric", s)
}
