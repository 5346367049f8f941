// Command memsim runs the kernel frame allocator against boot memory maps
// described in YAML scenario files. The allocator bitmaps are backed by
// anonymous memory so that layouts and allocation patterns can be checked
// without booting the kernel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
)

type options struct {
	scenario string
	json     bool
	watch    bool
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memsim] error: %s\n", err.Error())
	os.Exit(1)
}

// runOnce loads the scenario, runs it and writes the report to w.
func runOnce(ctx context.Context, opts options, w io.Writer) error {
	scn, err := loadScenario(opts.scenario)
	if err != nil {
		return err
	}

	report, err := run(ctx, scn)
	if err != nil {
		return fmt.Errorf("scenario %q: %w", scn.Name, err)
	}

	if opts.json {
		return report.writeJSON(w)
	}
	return report.writeText(w)
}

func main() {
	var opts options
	flag.StringVar(&opts.scenario, "scenario", "", "path to a YAML scenario file")
	flag.BoolVar(&opts.json, "json", false, "emit the report as JSON")
	flag.BoolVar(&opts.watch, "watch", false, "re-run the scenario whenever the file changes")
	flag.Parse()

	if opts.scenario == "" {
		exit(errors.New("missing -scenario"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runOnce(ctx, opts, os.Stdout); err != nil && !opts.watch {
		exit(err)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "[memsim] error: %s\n", err.Error())
	}

	if !opts.watch {
		return
	}

	err := watch(ctx, opts.scenario, func() {
		if err := runOnce(ctx, opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "[memsim] error: %s\n", err.Error())
		}
	})
	if err != nil {
		exit(err)
	}
}
