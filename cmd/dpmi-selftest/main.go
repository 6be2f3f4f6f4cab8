// Command dpmi-selftest is a tiny operator diagnostic for a DPMI
// installation: it loads the process configuration, opens or creates
// every configured stream, exercises a one-packet write/read round trip
// on a scratch temporary capture file as a smoke check, and then
// settles into a normal signal-driven wait.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/protei/dpmi/internal/logger"
	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/config"
	"github.com/protei/dpmi/pkg/dpmi"
	"github.com/protei/dpmi/pkg/picotime"
	"github.com/protei/dpmi/pkg/stream"
	"github.com/protei/dpmi/pkg/wire"
)

const (
	appName    = "dpmi-selftest"
	appVersion = "1.0.0"
)

var (
	configPath = flag.String("config", "configs/dpmi.yaml", "Path to configuration file")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Path:       cfg.Logging.Path,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("dpmi-selftest starting", "version", appVersion, "config", *configPath)

	streams, err := openConfiguredStreams(cfg)
	if err != nil {
		logger.Error("failed to open configured streams", err)
		os.Exit(1)
	}
	defer closeAll(streams)

	if err := runSelfTest(cfg); err != nil {
		logger.Error("self-test failed", err)
		os.Exit(1)
	}
	logger.Info("self-test passed")

	waitForShutdown()
	logger.Info("dpmi-selftest stopped")
}

// openConfiguredStreams opens or creates every stream in the process
// configuration, logging each as it succeeds (spec §4.I open/create).
func openConfiguredStreams(cfg *config.Config) ([]*stream.Stream, error) {
	opts := stream.Options{
		BufferSize:        cfg.Capture.BufferSize,
		MTU:               cfg.Capture.MTU,
		NumFrames:         cfg.Capture.NumFrames,
		SeqMismatchPolicy: cfg.EffectiveSeqMismatchPolicy(),
	}

	var streams []*stream.Stream
	for _, sc := range cfg.Streams {
		addr, err := address.Parse(sc.Address)
		if err != nil {
			return streams, fmt.Errorf("stream %q: %w", sc.Name, err)
		}

		var s *stream.Stream
		switch sc.Mode {
		case "create":
			s, err = dpmi.Create(addr, sc.Interface, cfg.Application.MAMPid, sc.Comment, opts)
		default:
			s, err = dpmi.Open(addr, sc.Interface, opts)
		}
		if err != nil {
			return streams, fmt.Errorf("stream %q: %w", sc.Name, err)
		}
		streams = append(streams, s)
		logger.Info("stream ready", "name", sc.Name, "mode", sc.Mode, "address", sc.Address)
	}
	return streams, nil
}

func closeAll(streams []*stream.Stream) {
	for _, s := range streams {
		if err := s.Close(); err != nil {
			logger.Warn("error closing stream", "error", err)
		}
	}
}

// runSelfTest exercises the public API end-to-end against a scratch
// capture file: create, write one packet, open, and read it back,
// matching scenario 1 in the specification's worked examples.
func runSelfTest(cfg *config.Config) error {
	path, err := scratchFilePath()
	if err != nil {
		return err
	}
	defer os.Remove(path)

	w, err := dpmi.Create(address.CapfileAddr{Path: path}, "", cfg.Application.MAMPid, "dpmi-selftest", stream.Options{})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	payload := []byte("dpmi-selftest")
	now := time.Now()
	ch := wire.CaptureHeader{
		Ts:     picotime.Picotime{Sec: uint32(now.Unix()), Psec: uint64(now.Nanosecond()) * 1000},
		Len:    uint32(len(payload)),
		Caplen: uint32(len(payload)),
	}
	copy(ch.Mampid[:], cfg.Application.MAMPid)
	if _, err := w.Copy(ch, payload); err != nil {
		w.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	r, err := dpmi.Open(address.CapfileAddr{Path: path}, "", stream.Options{})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer r.Close()

	_, got, err := r.Read(nil, 0)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if string(got) != string(payload) {
		return fmt.Errorf("round trip mismatch: got %q, want %q", got, payload)
	}
	return nil
}

func scratchFilePath() (string, error) {
	f, err := os.CreateTemp("", "dpmi-selftest-*.cap")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	return path, nil
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())
}
