package stream

import (
	"testing"

	"github.com/protei/dpmi/pkg/config"
)

func newTestStream(policy config.SeqMismatchPolicy) *Stream {
	return &Stream{
		seqPolicy: policy,
		seqState:  make(map[string]*sourceSeq),
	}
}

// TestSequenceWrap is spec §8's "Sequence wrap" property: 65535
// consecutive in-order frames must not log a single mismatch and must
// end back at 0.
func TestSequenceWrap(t *testing.T) {
	s := newTestStream(config.SeqPolicyLog)
	for seq := uint32(0); seq < 65535; seq++ {
		s.ValidateSequence("aa:bb:cc:dd:ee:ff", false, seq)
	}
	st := s.seqState["aa:bb:cc:dd:ee:ff"]
	if st.expected != 0 {
		t.Fatalf("sequence counter did not wrap: after 65535 in-order frames, expected = %d, want 0", st.expected)
	}
	s.ValidateSequence("aa:bb:cc:dd:ee:ff", false, 0)
	if st.expected != 1 {
		t.Fatalf("in-order frame after the wrap: expected = %d, want 1", st.expected)
	}
}

// TestFirstFrameDoesNotMismatch covers the off-by-one this test guards
// against: the first frame observed from a source must not itself be
// flagged, and the very next in-order frame must match too.
func TestFirstFrameDoesNotMismatch(t *testing.T) {
	s := newTestStream(config.SeqPolicyLog)
	s.ValidateSequence("src", false, 0)
	st := s.seqState["src"]
	if st.expected != 1 {
		t.Fatalf("after first frame (seq 0), expected = %d, want 1", st.expected)
	}
	s.ValidateSequence("src", false, 1)
	if st.expected != 2 {
		t.Fatalf("after second in-order frame, expected = %d, want 2", st.expected)
	}
}

// TestSequenceMismatchGap is spec §8 scenario 6: frames seq 10 then 13
// from the same source must report "expected 11 got 13 (2 frame(s)
// missing)" and continue tracking from the observed value.
func TestSequenceMismatchGap(t *testing.T) {
	s := newTestStream(config.SeqPolicyLog)
	s.ValidateSequence("src", false, 10)
	st := s.seqState["src"]
	if st.expected != 11 {
		t.Fatalf("after seq 10, expected = %d, want 11", st.expected)
	}
	s.ValidateSequence("src", false, 13)
	if st.expected != 14 {
		t.Fatalf("after mismatch on seq 13, expected = %d, want 14", st.expected)
	}
}

func TestLoopbackDuplicateIgnored(t *testing.T) {
	s := newTestStream(config.SeqPolicyLog)
	s.ValidateSequence("lo", true, 5)
	st := s.seqState["lo"]
	if st.expected != 6 {
		t.Fatalf("after seq 5, expected = %d, want 6", st.expected)
	}
	s.ValidateSequence("lo", true, 5) // duplicate of the previous frame
	if st.expected != 6 {
		t.Fatalf("loopback duplicate must not advance expected: got %d, want 6", st.expected)
	}
}
