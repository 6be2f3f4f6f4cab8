// Package framebuffer implements the stream frame buffer (spec §4.H): a
// bounded ring of fixed-size cells holding complete measurement frames,
// from which capture packets are extracted one at a time.
package framebuffer

import (
	"errors"
	"time"

	"github.com/protei/dpmi/internal/logger"
	"github.com/protei/dpmi/pkg/filter"
	"github.com/protei/dpmi/pkg/wire"
)

// ethHeaderLen is sizeof(EthHdr): dst MAC, src MAC, ethertype.
const ethHeaderLen = 14

// ErrTimeout is returned by Read when no frame/packet arrived within
// the caller's timeout; it is not an error condition, mirroring the
// read_frame "0 on timeout/EOF" convention from spec §4.H (the backend,
// one layer up, is responsible for telling timeout and EOF apart — see
// pkg/stream).
var ErrTimeout = errors.New("framebuffer: timeout")

// ReadFrameFunc is supplied by a backend (Ethernet/UDP/TCP): it writes
// one complete measurement frame (Ethernet header + send header +
// packets, or just send header + packets for UDP/TCP) into dst and
// returns the number of bytes written, or 0 on timeout/EOF.
type ReadFrameFunc func(dst []byte, timeout time.Duration) (int, error)

// Packet is one capture packet extracted from a frame. FrameSeq/
// FrameFlags are the enclosing measurement frame's send-header fields;
// FirstOfFrame is true exactly once per frame, on the first packet
// extracted from it, so the stream core can drive per-frame bookkeeping
// (sequence validation, stat.recv, the Flush flag) without re-deriving
// frame boundaries itself (spec §4.I).
type Packet struct {
	Header       wire.CaptureHeader
	Payload      []byte
	FrameSeq     uint32
	FrameFlags   uint32
	FirstOfFrame bool
}

// frameCursor tracks progress through a single in-flight frame.
type frameCursor struct {
	data          []byte
	seq           uint32
	flags         uint32
	pktsRemaining uint32
	offset        int
	emittedFirst  bool
}

// Buffer is a bounded ring of num_frames equal-sized cells (spec §4.H).
// Cells in [readPos, writePos) hold raw frame bytes already received
// from the backend but not fully drained; cur tracks progress through
// the frame at readPos specifically. Not safe for concurrent use.
type Buffer struct {
	cells     [][]byte
	lens      []int
	cellSize  int
	numFrames int
	hasEth    bool // false for UDP/TCP-framed backends (no Ethernet header)

	writePos int
	readPos  int
	cur      *frameCursor
}

// New allocates a Buffer with numFrames cells of size (mtu +
// sizeof(EthHdr)) when hasEthernetHeader is true, or just mtu otherwise
// (spec §4.L: UDP framing has no Ethernet header).
func New(numFrames, mtu int, hasEthernetHeader bool) *Buffer {
	cellSize := mtu
	if hasEthernetHeader {
		cellSize += ethHeaderLen
	}
	cells := make([][]byte, numFrames)
	for i := range cells {
		cells[i] = make([]byte, cellSize)
	}
	return &Buffer{
		cells:     cells,
		lens:      make([]int, numFrames),
		cellSize:  cellSize,
		numFrames: numFrames,
		hasEth:    hasEthernetHeader,
	}
}

// Empty reports whether the buffer holds no ready-to-consume data
// (spec §4.H: "readPos == writePos and read_ptr == None").
func (b *Buffer) Empty() bool {
	return b.readPos == b.writePos && b.cur == nil
}

// full reports whether the ring has no spare cell to receive into.
func (b *Buffer) full() bool {
	return (b.writePos+1)%b.numFrames == b.readPos
}

// Read implements stream_frame_buffer_read: extract the next capture
// packet from the frame at readPos (pulling one from the backend, with
// timeout, when the ring is empty), skip packets f rejects, and
// opportunistically top the ring up with a non-blocking read once a
// packet is returned.
func (b *Buffer) Read(readFrame ReadFrameFunc, f *filter.Filter, nic string, timeout time.Duration) (*Packet, error) {
	for {
		if b.cur == nil {
			if err := b.ensureFrame(readFrame, timeout); err != nil {
				return nil, err
			}
			b.cur = b.parseCurrentCell()
			if b.cur == nil {
				// malformed frame, already logged; move on to the next cell
				b.advanceReadPos()
				continue
			}
		}

		pkt := b.nextFromCursor()
		if pkt == nil {
			b.advanceReadPos()
			continue
		}

		b.topUp(readFrame)

		if f != nil && !f.Match(pkt.Payload, pkt.Header.Ts, nic, 0) {
			continue
		}
		if f != nil && !f.MatchMAMPid(pkt.Header.Mampid) {
			continue
		}
		return pkt, nil
	}
}

// ensureFrame blocks (per timeout) pulling one frame directly into
// cells[writePos] if the ring is currently empty; if a cell is already
// waiting to be parsed at readPos, it returns immediately.
func (b *Buffer) ensureFrame(readFrame ReadFrameFunc, timeout time.Duration) error {
	if b.readPos != b.writePos {
		return nil
	}
	if b.full() {
		return errors.New("framebuffer: ring full")
	}
	n, err := readFrame(b.cells[b.writePos], timeout)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTimeout
	}
	b.lens[b.writePos] = n
	b.writePos = (b.writePos + 1) % b.numFrames
	return nil
}

// topUp attempts one non-blocking read into a spare cell to keep the
// ring warm; failures and timeouts are silently ignored (spec §4.H:
// "opportunistically top the buffer up with a zero-timeout read").
func (b *Buffer) topUp(readFrame ReadFrameFunc) {
	if b.full() {
		return
	}
	n, err := readFrame(b.cells[b.writePos], 0)
	if err != nil || n == 0 {
		return
	}
	b.lens[b.writePos] = n
	b.writePos = (b.writePos + 1) % b.numFrames
}

// parseCurrentCell validates and decodes the send header of the frame
// sitting in cells[readPos], returning nil for a malformed frame (spec
// §4.I "Measurement frame validation": malformed frames are discarded
// with a log entry).
func (b *Buffer) parseCurrentCell() *frameCursor {
	data := b.cells[b.readPos][:b.lens[b.readPos]]

	off := 0
	if b.hasEth {
		if len(data) < ethHeaderLen {
			logger.Warn("framebuffer: frame shorter than an Ethernet header", "bytes", len(data))
			return nil
		}
		off = ethHeaderLen
	}
	if len(data) < off+wire.SendHeaderSize {
		logger.Warn("framebuffer: frame shorter than a send header", "bytes", len(data))
		return nil
	}
	var send wire.SendHeader
	if err := send.Unmarshal(data[off : off+wire.SendHeaderSize]); err != nil {
		logger.Warn("framebuffer: send header decode failed", "error", err)
		return nil
	}
	off += wire.SendHeaderSize

	if !frameSizeValid(data[off:], send.NoPkts) {
		logger.Warn("framebuffer: frame size invariant violated, discarding", "nopkts", send.NoPkts)
		return nil
	}

	return &frameCursor{data: data, seq: send.SequenceNr, flags: send.Flags, pktsRemaining: send.NoPkts, offset: off}
}

// nextFromCursor extracts the next capture packet from the in-flight
// frame, or returns nil when the frame is exhausted (the caller should
// advance readPos and pull a new one).
func (b *Buffer) nextFromCursor() *Packet {
	cur := b.cur
	if cur.pktsRemaining == 0 {
		b.cur = nil
		return nil
	}
	// frameSizeValid already proved these bounds are sound; re-checked
	// defensively since this runs once per packet, not once per frame.
	if cur.offset+wire.CaptureHeaderSize > len(cur.data) {
		b.cur = nil
		return nil
	}
	var ch wire.CaptureHeader
	if err := ch.Unmarshal(cur.data[cur.offset : cur.offset+wire.CaptureHeaderSize]); err != nil {
		b.cur = nil
		return nil
	}
	start := cur.offset + wire.CaptureHeaderSize
	end := start + int(ch.Caplen)
	if end > len(cur.data) {
		b.cur = nil
		return nil
	}
	payload := cur.data[start:end]
	cur.offset = end
	cur.pktsRemaining--

	first := !cur.emittedFirst
	cur.emittedFirst = true

	return &Packet{Header: ch, Payload: payload, FrameSeq: cur.seq, FrameFlags: cur.flags, FirstOfFrame: first}
}

// advanceReadPos moves past the cell at readPos once its frame has
// been fully drained or found malformed.
func (b *Buffer) advanceReadPos() {
	b.cur = nil
	b.readPos = (b.readPos + 1) % b.numFrames
}

// frameSizeValid checks the spec §4.I invariant: the sum of
// sizeof(CaptureHeader)+caplen across nopkts packets must equal the
// bytes actually available after the send header.
func frameSizeValid(payload []byte, nopkts uint32) bool {
	off := 0
	for i := uint32(0); i < nopkts; i++ {
		if off+wire.CaptureHeaderSize > len(payload) {
			return false
		}
		var ch wire.CaptureHeader
		if err := ch.Unmarshal(payload[off : off+wire.CaptureHeaderSize]); err != nil {
			return false
		}
		off += wire.CaptureHeaderSize + int(ch.Caplen)
		if off > len(payload) {
			return false
		}
	}
	return off == len(payload)
}

// Stats reports the buffer_size/buffer_usage pair from spec §3 "Stream
// statistics"; the remaining counters (recv/read/matched) are owned by
// pkg/stream.
func (b *Buffer) Stats() (bufferSize, bufferUsage int) {
	used := b.writePos - b.readPos
	if used < 0 {
		used += b.numFrames
	}
	return b.numFrames, used
}
