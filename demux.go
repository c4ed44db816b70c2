package tsar

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astikit"
)

// ProgressSink receives one Update call per TS packet processed, plus one
// Begin/End call bracketing a run. No ordering or timing guarantees beyond
// that per-packet cadence.
type ProgressSink interface {
	Begin()
	Update()
	End()
}

type noopProgressSink struct{}

func (noopProgressSink) Begin()  {}
func (noopProgressSink) Update() {}
func (noopProgressSink) End()    {}

// DemuxOption configures a Demux.
type DemuxOption func(*Demux)

// WithMaxPIDBufferSize overrides the default 32KiB per-PID reassembly bound.
func WithMaxPIDBufferSize(n int) DemuxOption {
	return func(d *Demux) { d.maxPIDBufferSize = n }
}

// WithExcludedPIDs adds caller-supplied PIDs to the static exclusion list.
// Excluding a PID already on the static list is harmless.
func WithExcludedPIDs(pids ...uint16) DemuxOption {
	return func(d *Demux) {
		for _, pid := range pids {
			d.excluded[pid] = struct{}{}
		}
	}
}

// WithProgressSink attaches a ProgressSink, called once per TS packet plus
// once at scope entry/exit.
func WithProgressSink(s ProgressSink) DemuxOption {
	return func(d *Demux) { d.progress = s }
}

// WithLogger swaps the package-level logger, equivalent to calling SetLogger
// before Run.
func WithLogger(l astikit.StdLogger) DemuxOption {
	return func(*Demux) { SetLogger(l) }
}

// Demux is the top-level orchestrator: it pulls packets from a PacketStream,
// drives one PIDReassembler that keeps a buffer per PID, and routes completed PES packets to a
// PAFWriter.
type Demux struct {
	stream           *PacketStream
	reassembler      *PIDReassembler
	writer           *PAFWriter
	excluded         map[uint16]struct{}
	maxPIDBufferSize int
	progress         ProgressSink
}

// NewDemux builds a Demux reading from stream and writing PAF records into
// outputDir (which must already exist).
func NewDemux(stream *PacketStream, outputDir string, opts ...DemuxOption) *Demux {
	d := &Demux{
		stream:           stream,
		maxPIDBufferSize: DefaultMaxPIDBufferSize,
		excluded:         make(map[uint16]struct{}),
		progress:         noopProgressSink{},
	}
	for _, pid := range defaultExcludedPIDs() {
		d.excluded[pid] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reassembler = NewPIDReassembler(d.maxPIDBufferSize)
	d.writer = NewPAFWriter(outputDir)
	return d
}

// Run drives the pipeline to completion: pull every TS packet, feed non-
// excluded ones to the reassembler, write completed PES groups, and drain
// residual buffers at end-of-stream. Output files written so far stay valid
// up to the last complete record when Run fails partway.
func (d *Demux) Run() (err error) {
	d.progress.Begin()
	defer d.progress.End()
	defer func() {
		if cerr := d.writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for {
		tp, err := d.stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("tsar: reading next TS packet failed: %w", err)
		}
		d.progress.Update()

		if _, skip := d.excluded[tp.Header.PID]; skip {
			continue
		}
		if !tp.Header.HasPayload {
			return fmt.Errorf("tsar: PID 0x%04X: packet carries no payload (adaptation_field_control)", tp.Header.PID)
		}

		completed, err := d.reassembler.Feed(tp)
		if err != nil {
			return err
		}
		if completed != nil {
			if err := d.writer.WritePES(completed.PID, completed.Packet, completed.TPCount); err != nil {
				return err
			}
		}
	}

	for _, r := range d.reassembler.Drain() {
		if err := d.writer.WritePES(r.PID, r.Packet, r.TPCount); err != nil {
			return err
		}
	}

	return nil
}
