package rtpqos

import "fmt"

// DefaultLookaheadWindow is the number of packets, starting at the current
// arrival position, searched for a missing sequence number before it is
// counted as lost.
const DefaultLookaheadWindow = 10

// Classification is the verdict for one packet during reconciliation.
type Classification int

const (
	// ClassInOrder is the expected sequence number.
	ClassInOrder Classification = iota
	// ClassDuplicate repeats the previously expected sequence number.
	ClassDuplicate
	// ClassGap jumps forward past the expected sequence number.
	ClassGap
	// ClassWrap is at or below the first sequence number of the leg and is
	// read as the counter rolling over 65535 while packets were missing.
	ClassWrap
	// ClassLate is behind the expected sequence number, above the first one,
	// and not an immediate repeat. Usually a reordered packet whose gap was
	// already forgiven by the lookahead.
	ClassLate
)

// String returns a string representation of the Classification.
func (c Classification) String() string {
	switch c {
	case ClassInOrder:
		return "InOrder"
	case ClassDuplicate:
		return "Duplicate"
	case ClassGap:
		return "Gap"
	case ClassWrap:
		return "Wrap"
	case ClassLate:
		return "Late"
	default:
		return "Unknown"
	}
}

// LatePolicy decides what happens to ClassLate packets.
type LatePolicy int

const (
	// LateKeep keeps late packets in the clean sequence.
	LateKeep LatePolicy = iota
	// LateDrop removes late packets from the clean sequence.
	LateDrop
	// LateReject fails reconciliation with an InvalidPacketError.
	LateReject
)

// String returns a string representation of the LatePolicy.
func (p LatePolicy) String() string {
	switch p {
	case LateKeep:
		return "keep"
	case LateDrop:
		return "drop"
	case LateReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseLatePolicy parses the String form of a LatePolicy.
func ParseLatePolicy(s string) (LatePolicy, error) {
	switch s {
	case "keep", "":
		return LateKeep, nil
	case "drop":
		return LateDrop, nil
	case "reject":
		return LateReject, nil
	default:
		return LateKeep, fmt.Errorf("unknown late policy %q", s)
	}
}

// ReconcilerConfig configures sequence reconciliation.
type ReconcilerConfig struct {
	// LookaheadWindow is the number of packets inspected for a missing
	// sequence number before it is counted as lost.
	LookaheadWindow int

	// LatePolicy handles packets that arrive behind the expected sequence.
	LatePolicy LatePolicy
}

// DefaultReconcilerConfig returns the standard reconciliation settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		LookaheadWindow: DefaultLookaheadWindow,
		LatePolicy:      LateKeep,
	}
}

// ReconciledStream is the deduplicated leg together with its loss and
// duplicate counters.
//
// len(Clean) + Duplicates + DroppedLate == Total always holds.
type ReconciledStream struct {
	// Clean is the input minus duplicates (and dropped late packets), in
	// arrival order.
	Clean []CapturedPacket

	// Total is the number of packets in the input.
	Total int

	// Lost is the number of sequence numbers counted as lost.
	Lost int

	// Duplicates is the number of packets dropped as duplicates.
	Duplicates int

	// Late is the number of ClassLate packets seen.
	Late int

	// DroppedLate is the number of late packets removed under LateDrop.
	DroppedLate int
}

// LossRatio returns Lost divided by Total.
func (r *ReconciledStream) LossRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Lost) / float64(r.Total)
}

// DuplicateRatio returns Duplicates divided by Total.
func (r *ReconciledStream) DuplicateRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Duplicates) / float64(r.Total)
}

// Reconciler turns an arrival-ordered packet list into a clean sequence plus
// loss and duplicate counters, tolerating reordering through a bounded lookahead.
type Reconciler struct {
	window int
	late   LatePolicy
}

// NewReconciler creates a Reconciler. A LookaheadWindow <= 0 falls back to
// DefaultLookaheadWindow.
func NewReconciler(config ReconcilerConfig) *Reconciler {
	window := config.LookaheadWindow
	if window <= 0 {
		window = DefaultLookaheadWindow
	}
	return &Reconciler{
		window: window,
		late:   config.LatePolicy,
	}
}

// Reconcile runs a Reconciler with DefaultReconcilerConfig.
func Reconcile(packets []CapturedPacket) (*ReconciledStream, error) {
	return NewReconciler(DefaultReconcilerConfig()).Reconcile(packets)
}

// Window returns the configured lookahead window.
func (r *Reconciler) Window() int {
	return r.window
}

// Classify returns the verdict for seq given the expected sequence number and
// the first sequence number of the leg. Every (seq, expected, first)
// combination maps to exactly one Classification.
//
// expected must lie in [0, RTPMaxSeq]. The previous expected value wraps, so a
// repeat of 65535 right after the counter reset to 0 is a duplicate.
func Classify(seq uint16, expected, first int) Classification {
	s := int(seq)
	previous := (expected + RTPMaxSeq) % (RTPMaxSeq + 1)
	switch {
	case s == expected:
		return ClassInOrder
	case s == previous:
		return ClassDuplicate
	case s > expected:
		return ClassGap
	case s <= first:
		return ClassWrap
	default:
		return ClassLate
	}
}

// Reconcile scans packets once in arrival order. It returns ErrEmptyStream for
// an empty input and an InvalidPacketError for a late packet under LateReject.
func (r *Reconciler) Reconcile(packets []CapturedPacket) (*ReconciledStream, error) {
	if len(packets) == 0 {
		return nil, ErrEmptyStream
	}

	first := int(packets[0].Seq)
	expected := first
	out := &ReconciledStream{
		Clean: make([]CapturedPacket, 0, len(packets)),
		Total: len(packets),
	}

	for pos, pkt := range packets {
		seq := int(pkt.Seq)
		keep := true

		switch Classify(pkt.Seq, expected, first) {
		case ClassInOrder:
			expected++
		case ClassDuplicate:
			out.Duplicates++
			keep = false
		case ClassGap:
			out.Lost += r.lookahead(packets, pos, seqGap{start: expected, end: seq})
			expected = seq + 1
		case ClassWrap:
			out.Lost += r.lookahead(packets, pos, seqGap{start: expected, end: seq, wrapped: true})
			expected = seq + 1
		case ClassLate:
			out.Late++
			switch r.late {
			case LateDrop:
				out.DroppedLate++
				keep = false
			case LateReject:
				return nil, &InvalidPacketError{
					Index:  pos,
					Reason: fmt.Sprintf("late sequence number %d (expected %d)", seq, expected),
				}
			}
		}

		if expected > RTPMaxSeq {
			expected = 0
		}
		if keep {
			out.Clean = append(out.Clean, pkt)
		}
	}

	return out, nil
}

// lookahead counts the members of gap that do not appear among the window
// packets starting at pos.
func (r *Reconciler) lookahead(packets []CapturedPacket, pos int, gap seqGap) int {
	end := pos + r.window
	if end > len(packets) {
		end = len(packets)
	}

	found := make(map[uint16]struct{}, r.window)
	for _, pkt := range packets[pos:end] {
		if gap.contains(int(pkt.Seq)) {
			found[pkt.Seq] = struct{}{}
		}
	}
	return gap.len() - len(found)
}

// seqGap is the half-open range of missing sequence numbers [start, end).
// A wrapped gap is [start, RTPMaxSeq] followed by [0, end).
type seqGap struct {
	start   int
	end     int
	wrapped bool
}

func (g seqGap) len() int {
	if g.wrapped {
		return (RTPMaxSeq + 1 - g.start) + g.end
	}
	return g.end - g.start
}

func (g seqGap) contains(seq int) bool {
	if g.wrapped {
		return seq >= g.start || seq < g.end
	}
	return seq >= g.start && seq < g.end
}
