package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vmlink/vmlink/guest"
	"github.com/vmlink/vmlink/guest/guesttest"
	"github.com/vmlink/vmlink/vm"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Exercise the embedding core against a scripted in-memory guest",
	Long: `demo drives the full lifecycle against a scripted guest: a threaded
worker serves concurrent synchronous calls, an asynchronous call completes
through its callback, and the event pump drains both sources. No guest
binary is required.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().BoolP("interactive", "i", false, "Interactive TUI")
	demoCmd.Flags().Int("callers", 5, "Concurrent synchronous callers")
}

// newDemoGuest builds a fake guest with the targets the demo and the TUI
// expect: a shared counter, an arithmetic target, and one that raises.
func newDemoGuest() (*guesttest.PinningFake, *int64) {
	fake := guesttest.NewPinningFake()
	counter := fake.RegisterCounter("increment")
	fake.Register("compute", func(payload any) (any, error) {
		n, ok := payload.(int64)
		if !ok {
			return nil, fmt.Errorf("compute wants an integer, got %T", payload)
		}
		return n*3 + 1, nil
	})
	fake.Register("boom", func(payload any) (any, error) {
		return nil, fmt.Errorf("deliberate guest failure")
	})
	return fake, counter
}

func runDemo(cmd *cobra.Command, args []string) error {
	interactive, _ := cmd.Flags().GetBool("interactive")
	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(buildLogger(cmd))
	}

	ctx := context.Background()
	logger := buildLogger(cmd)
	defer logger.Sync() //nolint:errcheck

	fake, counter := newDemoGuest()

	v, err := vm.New(fake, vm.WithLogger(logger))
	if err != nil {
		return err
	}
	defer v.Destroy(ctx) //nolint:errcheck

	if err := v.SetMode(vm.ModeThreaded); err != nil {
		return err
	}
	if err := v.Initialize(ctx, nil); err != nil {
		return err
	}
	if err := v.Load(ctx, []byte("scripted guest")); err != nil {
		return err
	}
	if err := v.StartWorker(); err != nil {
		return err
	}

	callers, _ := cmd.Flags().GetInt("callers")
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.CallSync(ctx, "increment", nil); err != nil {
				fmt.Fprintf(os.Stderr, "increment: %v\n", err)
			}
		}()
	}
	wg.Wait()
	fmt.Printf("%d concurrent callers, counter = %d, invariant violations = %d\n",
		callers, *counter, fake.Violations())

	asyncDone := make(chan struct{})
	err = v.CallAsync(ctx, "compute", int64(7), func(result any, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "compute: %v\n", err)
		} else {
			fmt.Printf("async compute(7) = %v\n", result)
		}
		close(asyncDone)
	})
	if err != nil {
		return err
	}
	<-asyncDone

	fake.Source(guest.SourceAsyncIO).Add(func() error {
		fmt.Println("pump drained an async-io item")
		return nil
	})
	fake.Source(guest.SourceTimers).Add(func() error {
		fmt.Println("pump drained a timer item")
		return nil
	})
	v.Pump()
	// Threaded pumps run on the worker; wait for the pass to land before
	// snapshotting stats.
	for fake.Source(guest.SourceTimers).Polls() == 0 {
		runtime.Gosched()
	}

	stats := v.Stats()
	fmt.Printf("executed=%d pumps=%d queue=%d/%d worker=%s\n",
		stats.Executed, stats.Pumps, stats.QueueDepth, stats.QueueCapacity, stats.Worker)

	if err := v.StopWorker(); err != nil {
		return err
	}
	if _, err := v.CallSync(ctx, "increment", nil); err != nil {
		fmt.Printf("call after stop rejected: %v\n", err)
	}
	return nil
}
