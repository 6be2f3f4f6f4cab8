// Package stream implements the stream core (spec §4.I): handle
// lifecycle, the buffered and framed read paths, the write path, and
// per-source sequence validation. It is backend-agnostic: concrete
// transports (file, Ethernet multicast, UDP multicast, TCP) live under
// pkg/stream/backend/* and implement the Backend interface here, and
// address-kind dispatch lives in pkg/dpmi (spec §4.I "open/create
// dispatches on address type"), which avoids an import cycle between
// the core and its backends — the same shape pkg/protocol/stdproto
// uses for protocol registration.
package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/protei/dpmi/internal/logger"
	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/config"
	"github.com/protei/dpmi/pkg/filter"
	"github.com/protei/dpmi/pkg/framebuffer"
	"github.com/protei/dpmi/pkg/wire"
)

// ErrEOF is the stream_read "-1" sentinel (spec §7): orderly end of
// stream, distinct from a system error.
var ErrEOF = errors.New("stream: eof")

// ErrTimeout is the stream_read/stream_peek EAGAIN sentinel (spec §7):
// transient emptiness, distinct from EOF and from a hard error.
var ErrTimeout = errors.New("stream: timeout (EAGAIN)")

// ErrMaxSiblings is returned by Add once a stream already has 100
// sibling addresses (spec §4.I: "at most 100 sibling addresses").
var ErrMaxSiblings = errors.New("stream: at most 100 sibling addresses")

const maxSiblings = 100

// Backend is implemented by a concrete transport (file, Ethernet
// multicast, UDP multicast, TCP). A backend implements exactly one of
// the two read paths: FillBuffer (the generic buffered path, §4.I,
// used by the file backend) or ReadFrame (the network path, §4.I,
// delegating straight to pkg/framebuffer — used by Ethernet/UDP/TCP).
type Backend interface {
	// Write sends size bytes; size == 0 is invalid (spec §4.I).
	Write(data []byte) (int, error)
	Close() error
}

// BufferFiller is implemented by backends using the generic buffered
// read path (spec §4.I: "fill_buffer is a bounded fread into free
// space").
type BufferFiller interface {
	FillBuffer(buf []byte, timeout time.Duration) (int, error)
}

// FrameReader is implemented by backends using the network read path
// (spec §4.I: "the backend supplies read directly, which delegates to
// stream_frame_buffer_read").
type FrameReader interface {
	ReadFrame(dst []byte, timeout time.Duration) (int, error)
}

// Flusher is implemented by backends for which stream_flush is not a
// no-op (spec §4.I).
type Flusher interface {
	Flush() error
}

// SourceIdentifier is implemented by frame-reading backends so the
// stream core can key per-source sequence state (MAC for Ethernet,
// IPv4 for UDP, the peer host:port for TCP — spec §4.I, §4.K, §4.L).
type SourceIdentifier interface {
	LastSourceKey() string
	LastSourceIsLoopback() bool
	LastFrameSeq() uint32
}

// EOFOnDrain is implemented by Ethernet/UDP/TCP backends that observed the
// sender's Flush flag (spec §4.K: "mark the stream flushed; subsequent
// reads return EOF when the buffer drains").
type EOFOnDrain interface {
	Flushed() bool
}

// Stats are the running counters from spec §3 "Stream statistics".
type Stats struct {
	Recv        uint64 // frames read from the link
	Read        uint64 // packets extracted
	Matched     uint64 // packets that passed a filter
	BufferSize  int
	BufferUsage int
}

// sourceSeq tracks the expected next sequence number for one source
// (spec §4.I "Sequence validation").
type sourceSeq struct {
	expected   uint32
	haveValue  bool
	loggedOnce bool
}

// Stream is a handle over one backend plus any sibling addresses
// added via Add (spec §4.I).
type Stream struct {
	backend  Backend
	addr     address.Address
	iface    string
	mpid     string
	comment  string
	siblings []address.Address

	seqPolicy config.SeqMismatchPolicy
	seqState  map[string]*sourceSeq

	fb  *framebuffer.Buffer // set for FrameReader backends
	buf []byte              // residual byte buffer for BufferFiller backends
	n   int                 // valid bytes in buf[:n]

	stat   Stats
	closed bool
}

// Options configures a new Stream (spec §4.I alloc/open/create).
type Options struct {
	Iface             string
	Mpid              string
	Comment           string
	BufferSize        int // byte buffer size for BufferFiller backends
	MTU               int // per spec §4.H cell sizing, for FrameReader backends
	NumFrames         int
	HasEthernetHeader bool // false for UDP/TCP framing (spec §4.L)
	SeqMismatchPolicy config.SeqMismatchPolicy
}

// New wraps backend into a Stream for addr (spec §4.I alloc). Dispatch
// on addr.Kind() to construct the right backend happens one layer up,
// in pkg/dpmi.
func New(backend Backend, addr address.Address, opts Options) *Stream {
	s := &Stream{
		backend:   backend,
		addr:      addr,
		iface:     opts.Iface,
		mpid:      opts.Mpid,
		comment:   opts.Comment,
		seqPolicy: opts.SeqMismatchPolicy,
		seqState:  make(map[string]*sourceSeq),
	}
	if opts.SeqMismatchPolicy == "" {
		s.seqPolicy = config.SeqPolicyLog
	}
	if _, ok := backend.(FrameReader); ok {
		numFrames := opts.NumFrames
		if numFrames == 0 {
			numFrames = 8
		}
		mtu := opts.MTU
		if mtu == 0 {
			mtu = 1500
		}
		s.fb = framebuffer.New(numFrames, mtu, opts.HasEthernetHeader)
	} else {
		bufSize := opts.BufferSize
		if bufSize == 0 {
			bufSize = 1 << 16
		}
		s.buf = make([]byte, bufSize)
	}
	return s
}

// Add joins an additional sibling address to the stream; valid only
// for multi-address-capable backends (Ethernet/UDP multicast — spec
// §4.I). The backend itself is responsible for actually joining the
// group; Add only tracks the bookkeeping limit here.
func (s *Stream) Add(addr address.Address) error {
	if len(s.siblings) >= maxSiblings {
		return ErrMaxSiblings
	}
	s.siblings = append(s.siblings, addr)
	return nil
}

// Close releases the backend (spec §4.I).
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

// Address returns the address the stream was opened/created against.
func (s *Stream) Address() address.Address { return s.addr }

// Backend exposes the underlying transport for callers (pkg/dpmi's Add)
// that need to reach backend-specific operations beyond the Backend
// interface, such as joining an additional multicast group.
func (s *Stream) Backend() Backend { return s.backend }

// Stat returns a snapshot of the running counters (spec §3).
func (s *Stream) Stat() Stats {
	st := s.stat
	if s.fb != nil {
		st.BufferSize, st.BufferUsage = s.fb.Stats()
	} else {
		st.BufferSize = len(s.buf)
		st.BufferUsage = s.n
	}
	return st
}

// Read implements stream_read: returns the next capture packet,
// blocking up to timeout, applying f if non-nil (spec §4.I).
func (s *Stream) Read(f *filter.Filter, timeout time.Duration) (*wire.CaptureHeader, []byte, error) {
	return s.read(f, timeout, true)
}

// Peek implements stream_peek: like Read but non-blocking and does not
// advance past the packet it returns (packets f rejects are dropped from
// the buffer, as Read drops them); only meaningful for buffered backends —
// framed backends (which drain irreversibly from the ring) return
// whatever the next available packet is without special rollback
// support, matching the spec's "non-blocking only" characterisation.
func (s *Stream) Peek(f *filter.Filter) (*wire.CaptureHeader, []byte, error) {
	return s.read(f, 0, false)
}

func (s *Stream) read(f *filter.Filter, timeout time.Duration, advance bool) (*wire.CaptureHeader, []byte, error) {
	if fr, ok := s.backend.(FrameReader); ok {
		return s.readFramed(fr, f, timeout)
	}
	if bf, ok := s.backend.(BufferFiller); ok {
		return s.readBuffered(bf, f, timeout, advance)
	}
	return nil, nil, fmt.Errorf("stream: backend implements neither FrameReader nor BufferFiller")
}

// readFramed implements the network read path (spec §4.I): delegate
// straight to the frame buffer.
func (s *Stream) readFramed(fr FrameReader, f *filter.Filter, timeout time.Duration) (*wire.CaptureHeader, []byte, error) {
	pkt, err := s.fb.Read(fr.ReadFrame, f, s.iface, timeout)
	if err != nil {
		if errors.Is(err, framebuffer.ErrTimeout) {
			if d, ok := s.backend.(EOFOnDrain); ok && d.Flushed() && s.fb.Empty() {
				return nil, nil, ErrEOF
			}
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	s.stat.Read++
	if pkt.FirstOfFrame {
		s.stat.Recv++
		if si, ok := s.backend.(SourceIdentifier); ok {
			s.ValidateSequence(si.LastSourceKey(), si.LastSourceIsLoopback(), pkt.FrameSeq)
		}
	}
	s.stat.Matched++
	return &pkt.Header, pkt.Payload, nil
}

// readBuffered implements the buffered read path (spec §4.I): ensure a
// capture header plus its declared payload is contiguous in buf,
// topping up via FillBuffer, looping on filter mismatch.
func (s *Stream) readBuffered(bf BufferFiller, f *filter.Filter, timeout time.Duration, advance bool) (*wire.CaptureHeader, []byte, error) {
	for {
		if s.n < wire.CaptureHeaderSize {
			if err := s.fill(bf, timeout); err != nil {
				return nil, nil, err
			}
			continue
		}
		var ch wire.CaptureHeader
		if err := ch.Unmarshal(s.buf[:wire.CaptureHeaderSize]); err != nil {
			return nil, nil, err
		}
		need := wire.CaptureHeaderSize + int(ch.Caplen)
		if s.n < need {
			if err := s.fill(bf, timeout); err != nil {
				return nil, nil, err
			}
			continue
		}

		payload := make([]byte, ch.Caplen)
		copy(payload, s.buf[wire.CaptureHeaderSize:need])

		s.stat.Read++
		if f != nil && (!f.Match(payload, ch.Ts, s.iface, 0) || !f.MatchMAMPid(ch.Mampid)) {
			s.consume(need)
			continue
		}
		s.stat.Matched++
		if advance {
			s.consume(need)
		}
		return &ch, payload, nil
	}
}

// fill moves residual bytes to the front and pulls more from the
// backend (spec §4.J "moving any residual unread bytes to the front
// first"). It distinguishes EOF (0 bytes, no error) from a timeout (a
// BufferFiller reports one by returning ErrTimeout; the file backend's
// FillBuffer never does) from a hard error (propagated).
func (s *Stream) fill(bf BufferFiller, timeout time.Duration) error {
	if s.n > 0 {
		copy(s.buf, s.buf[:s.n])
	}
	free := s.buf[s.n:]
	if len(free) == 0 {
		return fmt.Errorf("stream: buffer full with no complete packet (%d bytes)", s.n)
	}
	n, err := bf.FillBuffer(free, timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return ErrTimeout
		}
		return err
	}
	if n == 0 {
		return ErrEOF
	}
	s.n += n

	// opportunistic zero-timeout top-up (spec §4.I)
	if len(s.buf[s.n:]) > 0 {
		if extra, err2 := bf.FillBuffer(s.buf[s.n:], 0); err2 == nil {
			s.n += extra
		}
	}
	return nil
}

func (s *Stream) consume(n int) {
	copy(s.buf, s.buf[n:s.n])
	s.n -= n
}

// Write implements stream_write (spec §4.I): size == 0 is invalid.
func (s *Stream) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("stream: zero-size write is invalid")
	}
	return s.backend.Write(data)
}

// Copy implements stream_copy: write sizeof(CaptureHeader) + caplen
// bytes as one capture packet.
func (s *Stream) Copy(ch wire.CaptureHeader, payload []byte) (int, error) {
	if int(ch.Caplen) != len(payload) {
		return 0, fmt.Errorf("stream: caplen %d does not match payload length %d", ch.Caplen, len(payload))
	}
	buf := make([]byte, 0, wire.CaptureHeaderSize+len(payload))
	buf = append(buf, ch.Marshal()...)
	buf = append(buf, payload...)
	return s.Write(buf)
}

// Flush implements stream_flush: a no-op unless the backend defines
// one (spec §4.I).
func (s *Stream) Flush() error {
	if fl, ok := s.backend.(Flusher); ok {
		return fl.Flush()
	}
	return nil
}

// ValidateSequence applies spec §4.I's rule set for one observed
// sequence number from src, logging per policy rather than aborting
// (spec §7, §9: "reimplementations SHOULD expose this as a policy").
func (s *Stream) ValidateSequence(sourceKey string, loopback bool, seq uint32) {
	st, ok := s.seqState[sourceKey]
	if !ok {
		// readpost.c:113 - expSeqnr = ntohl(sh->sequencenr)+1 on the first
		// frame from a source, so the very next in-order frame matches.
		st = &sourceSeq{expected: (seq + 1) % wire.SeqWindowMask, haveValue: true}
		s.seqState[sourceKey] = st
		return
	}
	if !st.haveValue {
		st.expected = (seq + 1) % wire.SeqWindowMask
		st.haveValue = true
		return
	}
	switch {
	case seq == st.expected:
		st.expected = (st.expected + 1) % wire.SeqWindowMask
	case loopback && seq == (st.expected+wire.SeqWindowMask-1)%wire.SeqWindowMask:
		if !st.loggedOnce {
			logger.Info("stream: ignoring loopback duplicate frame", "source", sourceKey, "seq", seq)
			st.loggedOnce = true
		}
	default:
		missing := (seq + wire.SeqWindowMask - st.expected) % wire.SeqWindowMask
		switch s.seqPolicy {
		case config.SeqPolicyAbort:
			panic(fmt.Sprintf("stream: sequence mismatch on %s: expected %d, got %d", sourceKey, st.expected, seq))
		case config.SeqPolicyIgnore:
			st.expected = (seq + 1) % wire.SeqWindowMask
		default: // SeqPolicyLog
			logger.Warn(fmt.Sprintf("stream: sequence mismatch: expected %d got %d (%d frame(s) missing)", st.expected, seq, missing),
				"source", sourceKey, "expected", st.expected, "got", seq, "missing", missing)
			st.expected = (seq + 1) % wire.SeqWindowMask
		}
	}
}
