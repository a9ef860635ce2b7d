// Command rtpqos analyses captured RTP call legs offline.
//
// Each input file is split into one leg per SSRC (rtpdump) or read as a
// single leg (JSON trace), and every leg is analysed in parallel.
//
// Usage:
//
//	rtpqos -format rtpdump call.rtp
//	rtpqos -format trace -json -late drop legs/*.json
//	rtpqos -workers 4 -lookahead 20 -sample-rate 16000 wideband.rtp
//
// The exit status is 1 if any leg could not be analysed, 2 on usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/capture"
)

// Input formats.
const (
	formatRTPDump = "rtpdump"
	formatTrace   = "trace"
)

// options holds the parsed command line.
type options struct {
	format     string
	workers    int
	lookahead  int
	sampleRate int
	late       rtpqos.LatePolicy
	jsonOut    bool
	logLevel   logrus.Level
	files      []string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rtpqos: %v\n", err)
		os.Exit(2)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, opts, os.Stdout, log)
	if err != nil {
		log.WithError(err).Error("analysis aborted")
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

// parseFlags parses args into options.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("rtpqos", flag.ContinueOnError)
	fs.SetOutput(stderr)

	format := fs.String("format", formatRTPDump, "input format: rtpdump or trace")
	workers := fs.Int("workers", 0, "legs analysed in parallel (0 = GOMAXPROCS)")
	lookahead := fs.Int("lookahead", rtpqos.DefaultLookaheadWindow, "packets searched ahead for late arrivals")
	sampleRate := fs.Int("sample-rate", rtpqos.DefaultSampleRate, "RTP clock rate in Hz")
	late := fs.String("late", "keep", "late packet policy: keep, drop or reject")
	jsonOut := fs.Bool("json", false, "print results as JSON")
	logLevel := fs.String("log-level", "warning", "log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		format:     *format,
		workers:    *workers,
		lookahead:  *lookahead,
		sampleRate: *sampleRate,
		jsonOut:    *jsonOut,
		files:      fs.Args(),
	}

	if opts.format != formatRTPDump && opts.format != formatTrace {
		return nil, fmt.Errorf("unknown format %q", opts.format)
	}
	if opts.lookahead <= 0 {
		return nil, fmt.Errorf("lookahead must be positive, got %d", opts.lookahead)
	}
	if opts.sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.sampleRate)
	}
	if len(opts.files) == 0 {
		return nil, errors.New("no input files")
	}

	var err error
	if opts.late, err = rtpqos.ParseLatePolicy(*late); err != nil {
		return nil, err
	}
	if opts.logLevel, err = logrus.ParseLevel(*logLevel); err != nil {
		return nil, err
	}
	return opts, nil
}

// analyzerConfig builds the analysis configuration from the command line.
func (o *options) analyzerConfig() rtpqos.AnalyzerConfig {
	config := rtpqos.DefaultAnalyzerConfig()
	config.SampleRate = o.sampleRate
	config.Reconciler.LookaheadWindow = o.lookahead
	config.Reconciler.LatePolicy = o.late
	return config
}

// run loads every file, analyses all legs and writes the results to out.
// failed reports whether any file or leg could not be analysed.
func run(ctx context.Context, opts *options, out io.Writer, log *logrus.Logger) (failed bool, err error) {
	var legs []rtpqos.Leg
	for _, path := range opts.files {
		fileLegs, err := loadLegs(path, opts.format)
		if err != nil {
			log.WithFields(logrus.Fields{
				"file":   path,
				"format": opts.format,
			}).WithError(err).Error("failed to load capture")
			failed = true
			continue
		}
		log.WithFields(logrus.Fields{
			"file": path,
			"legs": len(fileLegs),
		}).Debug("capture loaded")
		legs = append(legs, fileLegs...)
	}

	analyzer := rtpqos.NewAnalyzer(opts.analyzerConfig())
	results, err := analyzer.AnalyzeAll(ctx, legs, opts.workers)
	if err != nil {
		return true, err
	}

	reports := make([]legReport, len(results))
	for i, res := range results {
		reports[i] = newLegReport(res)
		if res.Err != nil {
			failed = true
			log.WithFields(logrus.Fields{
				"leg":     res.ID,
				"packets": len(legs[i].Packets),
			}).WithError(res.Err).Warn("leg analysis failed")
			continue
		}
		log.WithFields(logrus.Fields{
			"leg":    res.ID,
			"loss":   res.Stats.Loss,
			"jitter": res.Stats.FinalJitter(),
		}).Info("leg analysed")
	}

	if opts.jsonOut {
		err = writeJSON(out, reports)
	} else {
		err = writeTable(out, reports)
	}
	return failed, err
}

// loadLegs reads one capture file. rtpdump files yield a leg per SSRC named
// "<file>#<ssrc>"; a trace yields a single leg named after the trace.
func loadLegs(path, format string) ([]rtpqos.Leg, error) {
	switch format {
	case formatTrace:
		trace, err := capture.LoadTrace(path)
		if err != nil {
			return nil, err
		}
		leg, err := trace.Leg()
		if err != nil {
			return nil, err
		}
		if leg.ID == "" {
			leg.ID = filepath.Base(path)
		}
		return []rtpqos.Leg{leg}, nil

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		legs, err := capture.ReadRTPDump(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for i := range legs {
			legs[i].ID = filepath.Base(path) + "#" + legs[i].ID
		}
		return legs, nil
	}
}
