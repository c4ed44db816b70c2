package tsar

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// pidBuffer accumulates TS packet payloads for a single PID between PUSI
// boundaries.
type pidBuffer struct {
	buf     *pesBuffer
	tpCount int
	maxSize int
}

// ReassembledPES is one completed PES group handed back to the caller: the
// parsed packet plus the number of TS packets that carried it.
type ReassembledPES struct {
	PID     uint16
	Packet  *PESPacket
	TPCount int
}

// PIDReassembler turns a stream of TS packets into completed PES groups, one
// per PID. Feed returns a non-nil *ReassembledPES whenever a PUSI closes a
// PID's prior group; it is nil the rest of the time. The caller is
// responsible for excluding PIDs it doesn't want reassembled before calling
// Feed.
type PIDReassembler struct {
	maxSize int
	pool    *pesBufferPool
	bufs    map[uint16]*pidBuffer
	// closing holds a just-closed PID's buffer until the next Feed call, so
	// the pool can't hand it back out (and overwrite the bytes a just-
	// returned *ReassembledPES still views) before the caller has had a
	// chance to consume that PES.
	closing *pesBuffer
}

// NewPIDReassembler builds a reassembler bounding each PID's buffer to
// maxSize bytes; pass DefaultMaxPIDBufferSize for the usual bound.
func NewPIDReassembler(maxSize int) *PIDReassembler {
	return &PIDReassembler{
		maxSize: maxSize,
		pool:    newPESBufferPool(),
		bufs:    make(map[uint16]*pidBuffer),
	}
}

// Feed accumulates one TS packet, which must carry a payload. It returns the
// PES group closed by this packet's PUSI, if any.
func (r *PIDReassembler) Feed(tp *TSPacket) (*ReassembledPES, error) {
	if r.closing != nil {
		r.pool.put(r.closing)
		r.closing = nil
	}

	pid := tp.Header.PID

	var out *ReassembledPES
	if tp.Header.PayloadUnitStartIndicator {
		if b, ok := r.bufs[pid]; ok && b.tpCount > 0 {
			pes, err := parsePESPacket(b.buf.s)
			delete(r.bufs, pid)
			r.closing = b.buf
			if err != nil {
				return nil, fmt.Errorf("tsar: closing PES for PID 0x%04X failed: %w", pid, err)
			}
			out = &ReassembledPES{PID: pid, Packet: pes, TPCount: b.tpCount}
		}
	}

	b, ok := r.bufs[pid]
	if !ok {
		b = &pidBuffer{buf: r.pool.get(), maxSize: r.maxSize}
		r.bufs[pid] = b
	}

	if len(b.buf.s)+len(tp.Payload) >= b.maxSize {
		return nil, fmt.Errorf("tsar: PID 0x%04X: %w", pid, ErrPESOverflow)
	}
	b.buf.s = append(b.buf.s, tp.Payload...)
	b.tpCount++

	return out, nil
}

// Drain closes every PID with a non-empty residual buffer, as the demuxer
// must at end-of-stream. PIDs are visited in ascending numeric order for
// deterministic output. A PID whose residual bytes fail to parse as a PES
// is dropped with a log line rather than failing the run; a trailing partial
// group is expected in most real captures.
func (r *PIDReassembler) Drain() []*ReassembledPES {
	pids := make([]uint16, 0, len(r.bufs))
	for pid := range r.bufs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out []*ReassembledPES
	for _, pid := range pids {
		b := r.bufs[pid]
		delete(r.bufs, pid)
		if b.tpCount == 0 {
			r.pool.put(b.buf)
			continue
		}
		pes, err := parsePESPacket(b.buf.s)
		r.pool.put(b.buf)
		if err != nil {
			logger.Printf("tsar: dropping unparseable residual PES for PID 0x%04X at end of stream: %v", pid, err)
			continue
		}
		out = append(out, &ReassembledPES{PID: pid, Packet: pes, TPCount: b.tpCount})
	}
	return out
}
