package tsar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// minChunkSize is the minimum amount PacketStream reads from its underlying
// reader at a time.
const minChunkSize = 64 << 10

// PacketStream is a lazy, fixed-size sequence of TS packets read out of an
// underlying file according to a PacketShape. It buffers reads in chunks of
// at least minChunkSize bytes, rounded up to a whole number of packet
// slots, so per-packet I/O never hits the underlying reader directly.
type PacketStream struct {
	shape      PacketShape
	r          *bufio.Reader
	chunk      []byte
	pos        int
	filled     int
	packetsPer int
	atEOF      bool
}

// NewPacketStream builds a PacketStream over r, seeking past shape's
// FirstPacketOffset and reading thereafter in whole PacketShape.Total()
// slots.
func NewPacketStream(r io.ReadSeeker, shape PacketShape) (*PacketStream, error) {
	if _, err := r.Seek(int64(shape.FirstPacketOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("tsar: seeking to first packet offset failed: %w", err)
	}

	packetsPer := (minChunkSize + shape.Total() - 1) / shape.Total()
	if packetsPer < 1 {
		packetsPer = 1
	}

	return &PacketStream{
		shape:      shape,
		r:          bufio.NewReaderSize(r, packetsPer*shape.Total()),
		chunk:      make([]byte, packetsPer*shape.Total()),
		packetsPer: packetsPer,
	}, nil
}

// Next returns the next TS packet view, or io.EOF once the stream is
// exhausted cleanly. It returns ErrTruncatedStream if EOF lands inside a
// packet slot rather than on a slot boundary.
func (s *PacketStream) Next() (*TSPacket, error) {
	if s.pos >= s.filled {
		if err := s.refill(); err != nil {
			return nil, err
		}
		if s.filled == 0 {
			return nil, io.EOF
		}
	}

	total := s.shape.Total()
	slot := s.chunk[s.pos : s.pos+total]
	s.pos += total

	body := slot[s.shape.HeaderLen : s.shape.HeaderLen+MpegTsPacketSize]
	p, err := parsePacket(body)
	if err != nil {
		return nil, fmt.Errorf("tsar: parsing packet at stream offset failed: %w", err)
	}
	if s.shape.HeaderLen > 0 {
		p.Prefix = slot[:s.shape.HeaderLen]
	}
	if s.shape.TrailerLen > 0 {
		p.Trailer = slot[s.shape.HeaderLen+MpegTsPacketSize:]
	}
	return p, nil
}

// refill reads one more chunk's worth of whole packet slots from the
// underlying reader.
func (s *PacketStream) refill() error {
	if s.atEOF {
		s.filled = 0
		return nil
	}

	total := s.shape.Total()
	n, err := io.ReadFull(s.r, s.chunk)
	s.pos = 0

	if err == nil {
		s.filled = n
		return nil
	}

	if errors.Is(err, io.EOF) {
		s.atEOF = true
		s.filled = 0
		return nil
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		s.atEOF = true
		if n%total != 0 {
			return ErrTruncatedStream
		}
		s.filled = n
		return nil
	}

	return fmt.Errorf("tsar: reading packet chunk failed: %w", err)
}
