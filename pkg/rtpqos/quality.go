package rtpqos

import (
	"fmt"
	"time"
)

// QualityLevel is a coarse grade of a leg derived from its loss and jitter.
type QualityLevel int

const (
	// QualityExcellent means no audible impairment is expected.
	QualityExcellent QualityLevel = iota
	// QualityGood means minor impairment.
	QualityGood
	// QualityFair means noticeable impairment.
	QualityFair
	// QualityPoor means significant impairment.
	QualityPoor
	// QualityUnacceptable means the leg is unlikely to be intelligible.
	QualityUnacceptable
)

// String returns the string representation of QualityLevel.
func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityPoor:
		return "Poor"
	case QualityUnacceptable:
		return "Unacceptable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// QualityThresholds are the lower bounds at which a leg drops to the next
// grade. Loss is a ratio in [0, 1].
type QualityThresholds struct {
	GoodLoss         float64
	FairLoss         float64
	PoorLoss         float64
	UnacceptableLoss float64

	GoodJitter         time.Duration
	FairJitter         time.Duration
	PoorJitter         time.Duration
	UnacceptableJitter time.Duration
}

// DefaultQualityThresholds returns thresholds in line with common VoIP
// planning values (1/3/8/15 % loss, 20/50/100/200 ms jitter).
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		GoodLoss:         0.01,
		FairLoss:         0.03,
		PoorLoss:         0.08,
		UnacceptableLoss: 0.15,

		GoodJitter:         20 * time.Millisecond,
		FairJitter:         50 * time.Millisecond,
		PoorJitter:         100 * time.Millisecond,
		UnacceptableJitter: 200 * time.Millisecond,
	}
}

// Quality grades the leg as the worse of its loss grade and its mean jitter grade.
func (s *StreamStats) Quality(t QualityThresholds) QualityLevel {
	loss := grade(s.Loss, t.GoodLoss, t.FairLoss, t.PoorLoss, t.UnacceptableLoss)

	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	jitter := grade(s.MeanJitter(), ms(t.GoodJitter), ms(t.FairJitter), ms(t.PoorJitter), ms(t.UnacceptableJitter))

	if jitter > loss {
		return jitter
	}
	return loss
}

func grade(v, good, fair, poor, unacceptable float64) QualityLevel {
	switch {
	case v >= unacceptable:
		return QualityUnacceptable
	case v >= poor:
		return QualityPoor
	case v >= fair:
		return QualityFair
	case v >= good:
		return QualityGood
	default:
		return QualityExcellent
	}
}
