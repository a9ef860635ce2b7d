// Command qos-monitor receives WebRTC audio and reports RTP quality per stream.
//
// Open the printed address in a browser, start a call and hang up; the
// stream is analysed when the browser sends RTCP BYE, when it goes silent
// for -stream-timeout, or when the connection closes. Reports are listed on
// the page and at /reports, and aggregated at /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thesyncim/rtpqos/cmd/qos-monitor/server"
	"github.com/thesyncim/rtpqos/pkg/rtpqos"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warning, error")
	streamTimeout := flag.Duration("stream-timeout", 5*time.Second, "silence after which a stream is analysed")
	maxReports := flag.Int("max-reports", 100, "reports kept for /reports")
	lookahead := flag.Int("lookahead", rtpqos.DefaultLookaheadWindow, "packets searched ahead for late arrivals")
	late := flag.String("late", "keep", "late packet policy: keep, drop or reject")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qos-monitor: %v\n", err)
		os.Exit(2)
	}
	log.SetLevel(level)

	policy, err := rtpqos.ParseLatePolicy(*late)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qos-monitor: %v\n", err)
		os.Exit(2)
	}
	if *lookahead <= 0 {
		fmt.Fprintf(os.Stderr, "qos-monitor: -lookahead must be positive\n")
		os.Exit(2)
	}

	cfg := server.DefaultConfig()
	cfg.Addr = *addr
	cfg.StreamTimeout = *streamTimeout
	cfg.MaxReports = *maxReports
	cfg.Analyzer.Reconciler.LookaheadWindow = *lookahead
	cfg.Analyzer.Reconciler.LatePolicy = policy
	cfg.Log = log

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create server")
	}

	listenAddr, err := srv.Start()
	if err != nil {
		log.WithError(err).Fatal("failed to start server")
	}

	fmt.Printf(`
RTP QoS Monitor
===============
1. Open http://%s in a browser
2. Click "Start Call" and allow the microphone
3. Click "Hang Up" to get the stream report

`, listenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	for _, r := range srv.Reports().List() {
		log.WithFields(logrus.Fields{
			"peer":    r.Peer,
			"ssrc":    r.SSRC,
			"loss":    r.Loss,
			"jitter":  r.JitterMs,
			"quality": r.Quality,
			"error":   r.Error,
		}).Info("final report")
	}
}
