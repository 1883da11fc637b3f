// raspdif transmits a raw interleaved PCM stream on stdin (or a file) as an
// IEC-60958 (S/PDIF) biphase-mark-coded signal on GPIO21, driven entirely by
// the bcm283x DMA and PCM peripherals.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/mill1000/raspdif-go/internal/engine"
	"github.com/mill1000/raspdif-go/internal/spdif"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "raspdif: %s.\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	var (
		inputPath        = pflag.StringP("input", "i", "", "read PCM from this file instead of stdin")
		rate             = pflag.IntP("rate", "r", 44100, "sample rate in Hz")
		format           = pflag.StringP("format", "f", "s16le", "sample format: s16le or s24le")
		noKeepAlive      = pflag.BoolP("no-keep-alive", "k", false, "on underrun, write true silence rather than dithered near-silence")
		disablePCMOnIdle = pflag.BoolP("disable-pcm-on-idle", "d", false, "on underrun, also clear PCM TXON until data resumes")
		verbose          = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	depth, err := parseFormat(*format)
	if err != nil {
		return err
	}

	input, err := openInput(*inputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	cfg := engine.Config{
		SampleRateHz: *rate,
		Depth:        depth,
		Policy: engine.Policy{
			KeepAlive:        !*noKeepAlive,
			DisablePCMOnIdle: *disablePCMOnIdle,
		},
	}

	eng, err := engine.New(cfg, engine.NewFileSampleReader(input, depth), logger)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigs
		logger.Info("received signal, stopping", "signal", sig)
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			// Halt DMA output immediately, from this handler goroutine,
			// before the producer loop notices stop is closed.
			eng.Stop()
		}
		close(stop)
	}()

	eng.Start(stop)
	return nil
}

func parseFormat(s string) (spdif.Depth, error) {
	switch s {
	case "s16le":
		return spdif.Depth16, nil
	case "s24le":
		return spdif.Depth24, nil
	default:
		return 0, fmt.Errorf("unsupported --format %q, want s16le or s24le", s)
	}
}

// openInput opens path for reading, or stdin if path is empty. It is opened
// read-write when a path is given so that a FIFO input doesn't report EOF
// merely because no writer currently has it open.
func openInput(path string) (*os.File, error) {
	if path == "" {
		return os.Stdin, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening input %q: %w", path, err)
	}
	return f, nil
}
