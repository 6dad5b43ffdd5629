// Command asioinfo prints what a driver reports about itself without starting it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/alsa"
	"github.com/gen2brain/asiotest/cmd/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := config.Flags("asioinfo")
	fs.SetOutput(stderr)
	list := fs.Bool("list", false, "List ALSA sound cards and exit")

	cfg, err := config.Load(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)

		return 1
	}

	if *list {
		cards, err := alsa.Cards()
		if err != nil {
			fmt.Fprintf(stderr, "Error enumerating sound cards: %v\n", err)

			return 1
		}

		for _, card := range cards {
			fmt.Fprint(stdout, card.String())
		}

		return 0
	}

	logger, logCloser, err := config.ConfigureLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logger: %v\n", err)

		return 1
	}
	defer logCloser.Close()

	driver, closer, err := config.OpenDriver(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening %s driver: %v\n", cfg.Driver, err)

		return 1
	}
	defer closer.Close()

	if err := describe(stdout, driver); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)

		return 1
	}

	printCaps(stdout, driver)

	return 0
}

// describe prints the driver's answers to every query that is valid before CreateBuffers.
func describe(w io.Writer, d asiotest.Driver) error {
	info, err := d.Init(asiotest.HostVersion)
	if !asiotest.IsOK(err) {
		return fmt.Errorf("Init failed: %w", err)
	}

	fmt.Fprintf(w, "%-14s %s\n", "Name:", info.Name)
	fmt.Fprintf(w, "%-14s %d\n", "Version:", info.DriverVersion)
	fmt.Fprintf(w, "%-14s %d\n", "ASIO version:", info.AsioVersion)

	inputs, outputs, err := d.GetChannels()
	if !asiotest.IsOK(err) {
		return fmt.Errorf("GetChannels failed: %w", err)
	}

	fmt.Fprintf(w, "%-14s %d in, %d out\n", "Channels:", inputs, outputs)

	if bs, err := d.GetBufferSize(); asiotest.IsOK(err) {
		fmt.Fprintf(w, "%-14s preferred=%d min=%d max=%d granularity=%d\n", "Buffer size:", bs.Preferred, bs.Min, bs.Max, bs.Granularity)
	} else {
		fmt.Fprintf(w, "%-14s %s\n", "Buffer size:", asiotest.StatusString(err))
	}

	if rate, err := d.GetSampleRate(); asiotest.IsOK(err) {
		fmt.Fprintf(w, "%-14s %g Hz\n", "Sample rate:", rate)
	} else {
		fmt.Fprintf(w, "%-14s %s\n", "Sample rate:", asiotest.StatusString(err))
	}

	fmt.Fprintf(w, "%-14s", "Rates:")
	for _, rate := range asiotest.StandardSampleRates {
		mark := "-"
		if asiotest.IsOK(d.CanSampleRate(rate)) {
			mark = "+"
		}
		fmt.Fprintf(w, " %s%g", mark, rate)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-14s %s\n", "OutputReady:", asiotest.StatusString(d.OutputReady()))

	if in, out, err := d.GetLatencies(); asiotest.IsOK(err) {
		fmt.Fprintf(w, "%-14s %d in, %d out\n", "Latencies:", in, out)
	} else {
		fmt.Fprintf(w, "%-14s %s\n", "Latencies:", asiotest.StatusString(err))
	}

	for _, isInput := range []bool{true, false} {
		count := outputs
		if isInput {
			count = inputs
		}

		for ch := int32(0); ch < count; ch++ {
			ci, err := d.GetChannelInfo(ch, isInput)
			if !asiotest.IsOK(err) {
				fmt.Fprintf(w, "  %s %d: %s\n", direction(isInput), ch, asiotest.StatusString(err))

				continue
			}

			fmt.Fprintf(w, "  %s %d: %s [%s] group=%d active=%t\n", direction(isInput), ch, ci.Name, ci.Type, ci.Group, ci.IsActive)
		}
	}

	return nil
}

func direction(isInput bool) string {
	if isInput {
		return "Input"
	}

	return "Output"
}
