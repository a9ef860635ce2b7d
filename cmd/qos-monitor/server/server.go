// Package server provides an importable HTTP server that receives WebRTC
// audio and publishes a QoS report for every stream it received.
// E2E tests start and stop it programmatically without running main().
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/rtpqos/pkg/rtpqos"
	"github.com/thesyncim/rtpqos/pkg/rtpqos/metrics"
)

// Config configures the monitor.
type Config struct {
	// Addr is the listen address; ":0" picks a free port.
	Addr string

	// ReadTimeout and WriteTimeout bound each HTTP request.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxReports is how many reports GET /reports keeps. Default 100.
	MaxReports int

	// StreamTimeout is the silence after which a stream is analysed.
	// Default 5s.
	StreamTimeout time.Duration

	// Analyzer configures stream analysis. Zero fields take their defaults.
	Analyzer rtpqos.AnalyzerConfig

	// Log receives server and interceptor logs. Default logrus.StandardLogger().
	Log *logrus.Logger
}

// DefaultConfig returns a configuration on a random port, for tests.
func DefaultConfig() Config {
	return Config{
		Addr:          ":0",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		MaxReports:    100,
		StreamTimeout: 5 * time.Second,
		Analyzer:      rtpqos.DefaultAnalyzerConfig(),
	}
}

// Server answers WebRTC offers from browsers and publishes a QoS report for
// every audio stream it received.
type Server struct {
	cfg       Config
	log       *logrus.Logger
	reports   *ReportStore
	registry  *prometheus.Registry
	collector *metrics.Collector
	http      *http.Server

	// mu guards addr, which is empty while the server is stopped.
	mu   sync.Mutex
	addr string

	peersMu sync.Mutex
	peers   map[string]*webrtc.PeerConnection
	nextID  uint64
}

// NewServer creates a stopped server. Zero fields of cfg take their defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = 100
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:       cfg,
		log:       cfg.Log,
		reports:   NewReportStore(cfg.MaxReports),
		registry:  registry,
		collector: metrics.NewCollector(metrics.DefaultMetricsConfig(), registry),
		peers:     make(map[string]*webrtc.PeerConnection),
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePage)
	mux.HandleFunc("/offer", s.HandleOffer)
	mux.HandleFunc("/reports", s.HandleReports)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, HTMLPage)
}

// Handler returns the HTTP handler of the server, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Reports returns the report store.
func (s *Server) Reports() *ReportStore {
	return s.reports
}

// Start listens on the configured address and serves in the background.
// It returns the bound address, which differs from Config.Addr for ":0".
// Starting a running server returns its address.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped")
		}
	}()

	s.log.WithField("addr", s.addr).Info("qos monitor listening")
	return s.addr, nil
}

// Shutdown closes every peer connection, which publishes the reports of
// their open streams, then gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closePeers()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == "" {
		return nil
	}
	s.addr = ""
	return s.http.Shutdown(ctx)
}

// Addr returns the listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) newPeerID() string {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.nextID++
	return fmt.Sprintf("pc-%d", s.nextID)
}

func (s *Server) addPeer(id string, pc *webrtc.PeerConnection) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[id] = pc
}

func (s *Server) removePeer(id string) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, id)
}

func (s *Server) closePeers() {
	s.peersMu.Lock()
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.peersMu.Unlock()

	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			s.log.WithField("peer", id).WithError(err).Warn("failed to close peer connection")
		}
	}
}
