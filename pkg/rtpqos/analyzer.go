package rtpqos

import (
	"fmt"
	"time"
)

// AnalyzerConfig holds configuration for leg analysis.
type AnalyzerConfig struct {
	// Reconciler configures sequence reconciliation.
	Reconciler ReconcilerConfig

	// SampleRate is the RTP clock rate used to convert timestamps (Hz).
	SampleRate int

	// JitterGain is the smoothing factor of the jitter filter.
	JitterGain float64

	// BitrateWindow is the sliding window for peak bitrate.
	BitrateWindow time.Duration

	// Codecs resolves payload types to codec names. Nil uses DefaultCodecTable.
	Codecs CodecResolver
}

// DefaultAnalyzerConfig returns the narrowband telephony defaults: 8 kHz clock,
// 1/16 jitter gain, 10 packet lookahead and the static codec table.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Reconciler:    DefaultReconcilerConfig(),
		SampleRate:    DefaultSampleRate,
		JitterGain:    DefaultJitterGain,
		BitrateWindow: DefaultBitrateWindow,
		Codecs:        DefaultCodecTable(),
	}
}

// Analyzer runs the reconcile-then-measure pipeline on a leg:
//  1. Validate the input contract
//  2. Reconcile sequence numbers (dedupe, count loss)
//  3. Compute codecs, deltas, jitter, level and bitrate on the clean sequence
//
// An Analyzer holds no per-leg state and is safe for concurrent use.
type Analyzer struct {
	config     AnalyzerConfig
	reconciler *Reconciler
}

// NewAnalyzer creates an Analyzer. Zero fields in config take their defaults.
func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.JitterGain <= 0 || config.JitterGain > 1 {
		config.JitterGain = DefaultJitterGain
	}
	if config.BitrateWindow <= 0 {
		config.BitrateWindow = DefaultBitrateWindow
	}
	if config.Codecs == nil {
		config.Codecs = DefaultCodecTable()
	}
	return &Analyzer{
		config:     config,
		reconciler: NewReconciler(config.Reconciler),
	}
}

// Config returns the normalized configuration.
func (a *Analyzer) Config() AnalyzerConfig {
	return a.config
}

// Analyze runs an Analyzer with DefaultAnalyzerConfig.
func Analyze(packets []CapturedPacket) (*StreamStats, error) {
	return NewAnalyzer(DefaultAnalyzerConfig()).Analyze(packets)
}

// Analyze validates and reconciles packets, then measures the clean sequence.
// The loss and duplicate fields of the result come from reconciliation.
func (a *Analyzer) Analyze(packets []CapturedPacket) (*StreamStats, error) {
	if err := Validate(packets); err != nil {
		return nil, err
	}

	reconciled, err := a.reconciler.Reconcile(packets)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	stats, err := a.AnalyzeClean(reconciled.Clean)
	if err != nil {
		return nil, err
	}

	stats.Packets = reconciled.Total
	stats.Lost = reconciled.Lost
	stats.Loss = reconciled.LossRatio()
	stats.Duplicates = reconciled.DuplicateRatio()
	stats.Late = reconciled.Late
	return stats, nil
}

// AnalyzeClean measures an already reconciled sequence. It returns
// ErrInsufficientData with fewer than two packets or an empty total payload.
// Loss and duplicate fields of the result are left at zero.
func (a *Analyzer) AnalyzeClean(clean []CapturedPacket) (*StreamStats, error) {
	if len(clean) < 2 {
		return nil, fmt.Errorf("%w: %d clean packets, need at least 2", ErrInsufficientData, len(clean))
	}

	level, err := RMSLevel(payloadsOf(clean)...)
	if err != nil {
		return nil, fmt.Errorf("rms level: %w", err)
	}

	frame, rtp := ComputeDeltas(clean, a.config.SampleRate)
	mean, peak := Bitrates(clean, a.config.BitrateWindow)

	return &StreamStats{
		Packets:      len(clean),
		CleanPackets: len(clean),
		Codecs:       Codecs(clean, a.config.Codecs),
		PayloadTypes: PayloadTypes(clean),
		FrameDeltas:  frame,
		Jitter:       SmoothJitter(frame, rtp, a.config.JitterGain),
		Duration:     clean[len(clean)-1].ArrivalTime.Sub(clean[0].ArrivalTime),
		SampleRate:   a.config.SampleRate,
		RMSLevel:     level,
		Bitrate:      mean,
		PeakBitrate:  peak,
	}, nil
}
