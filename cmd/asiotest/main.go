// Command asiotest drives an audio driver through one complete lifecycle and reports
// whether it behaved.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/cmd/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := config.Flags("asiotest")
	fs.SetOutput(stderr)

	cfg, err := config.Load(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)

		return 1
	}

	logger, logCloser, err := config.ConfigureLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logger: %v\n", err)

		return 1
	}
	defer logCloser.Close()

	logger = logger.With("run", uuid.NewString())
	asiotest.SetLogger(logger)

	driver, closer, err := config.OpenDriver(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening %s driver: %v\n", cfg.Driver, err)

		return 1
	}
	defer closer.Close()

	opts := config.SessionOptions(cfg, logger)

	if cfg.Record != "" {
		f, err := os.Create(cfg.Record)
		if err != nil {
			fmt.Fprintf(stderr, "Error creating recording: %v\n", err)

			return 1
		}
		defer f.Close()

		opts.Record = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := asiotest.NewSession(driver, opts).Run(ctx)
	printReport(stdout, cfg.Driver, report)

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)

		return 1
	}

	return 0
}

func printReport(w io.Writer, name string, r *asiotest.Report) {
	fmt.Fprintf(w, "%-16s %s\n", "Driver:", name)
	if r.Driver.Name != "" {
		fmt.Fprintf(w, "%-16s %s (version %d, ASIO %d)\n", "Name:", r.Driver.Name, r.Driver.DriverVersion, r.Driver.AsioVersion)
	}

	fmt.Fprintf(w, "%-16s %s\n", "State:", r.State)
	fmt.Fprintf(w, "%-16s %d in, %d out\n", "Channels:", r.Inputs, r.Outputs)

	if r.SampleRate > 0 {
		fmt.Fprintf(w, "%-16s %g Hz\n", "Sample rate:", r.SampleRate)
	}

	if r.BufferSize.Preferred > 0 {
		bs := r.BufferSize
		fmt.Fprintf(w, "%-16s preferred=%d min=%d max=%d granularity=%d\n", "Buffer size:", bs.Preferred, bs.Min, bs.Max, bs.Granularity)
	}

	fmt.Fprintf(w, "%-16s %d\n", "Descriptors:", r.Descriptors)
	fmt.Fprintf(w, "%-16s %d\n", "Buffer switches:", r.Switches)

	for _, m := range r.RateMismatches {
		fmt.Fprintf(w, "%-16s requested %g Hz, reported %g Hz\n", "Rate mismatch:", m.Requested, m.Reported)
	}

	for _, err := range r.Advisory {
		fmt.Fprintf(w, "%-16s %v\n", "Advisory:", err)
	}

	result := "PASS"
	if !r.OK() {
		result = "FAIL"
	}

	fmt.Fprintf(w, "%-16s %s\n", "Result:", result)
	fmt.Fprintln(w, strings.Repeat("-", 40))
}
