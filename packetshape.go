package tsar

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// identifyPrefixSize is how much of the file identification inspects.
const identifyPrefixSize = 16 << 10

// PacketShape describes the on-disk packet framing detected for a TS-family
// file: a header_len byte prefix (e.g. the 4-byte M2TS timestamp block) and
// a trailer_len byte suffix (e.g. a 16-byte FEC block) around each 188-byte
// TS packet.
type PacketShape struct {
	HeaderLen         int
	TrailerLen        int
	FirstPacketOffset int
}

// Total is the full on-disk size of one packet under this shape.
func (s PacketShape) Total() int {
	return MpegTsPacketSize + s.HeaderLen + s.TrailerLen
}

// IdentifyPacketShape inspects the first 16KiB of r and returns the detected
// packet shape.
func IdentifyPacketShape(r io.ReaderAt) (PacketShape, error) {
	buf := make([]byte, identifyPrefixSize)
	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return PacketShape{}, fmt.Errorf("tsar: reading identification prefix failed: %w", err)
	}
	buf = buf[:n]
	return identify(buf)
}

// IdentifyPacketShapeFile is a convenience wrapper around IdentifyPacketShape
// for a path on disk.
func IdentifyPacketShapeFile(path string) (PacketShape, error) {
	f, err := os.Open(path)
	if err != nil {
		return PacketShape{}, fmt.Errorf("tsar: opening %s failed: %w", path, err)
	}
	defer f.Close()
	return IdentifyPacketShape(f)
}

func identify(buf []byte) (PacketShape, error) {
	var syncs []int
	for i, b := range buf {
		if b == syncByte {
			syncs = append(syncs, i)
		}
	}
	if len(syncs) < 4 {
		return PacketShape{}, ErrCannotIdentify
	}

	stride, err := medianStride(syncs)
	if err != nil {
		return PacketShape{}, err
	}

	split := stride - MpegTsPacketSize
	if split < 0 {
		return PacketShape{}, ErrCannotIdentify
	}

	syncSet := make(map[int]struct{}, len(syncs))
	for _, s := range syncs {
		syncSet[s] = struct{}{}
	}
	maxSync := syncs[len(syncs)-1]

	for _, s := range syncs {
		covers := true
		for p := s; p <= maxSync; p += stride {
			if _, ok := syncSet[p]; !ok {
				covers = false
				break
			}
		}
		if !covers {
			continue
		}

		headerLen, trailerLen := 0, 0
		switch stride {
		case MpegTsPacketSize:
			// (0, 0)
		case 192:
			headerLen = 4
		case 204:
			trailerLen = 16
		default:
			// Unnamed stride: the prefix/trailer split is carried through
			// from the position of the earliest covering sync byte, which
			// for a stream starting on a packet boundary sits header_len
			// bytes into the file.
			headerLen = s
			if headerLen > split {
				headerLen = split
			}
			trailerLen = split - headerLen
		}

		firstOffset := s - headerLen
		if firstOffset < 0 {
			continue
		}
		return PacketShape{HeaderLen: headerLen, TrailerLen: trailerLen, FirstPacketOffset: firstOffset}, nil
	}
	return PacketShape{}, ErrCannotIdentify
}

// medianStride computes the median gap between consecutive sync byte
// positions. Spurious 0x47 bytes inside packet bodies produce smaller gaps,
// but the median stays on the true stride as long as most gaps are real
// packet boundaries.
func medianStride(syncs []int) (int, error) {
	diffs := make([]float64, 0, len(syncs)-1)
	for i := 1; i < len(syncs); i++ {
		diffs = append(diffs, float64(syncs[i]-syncs[i-1]))
	}
	if len(diffs) == 0 {
		return 0, ErrCannotIdentify
	}
	sort.Float64s(diffs)
	med := stat.Quantile(0.5, stat.LinInterp, diffs, nil)
	return int(med + 0.5), nil
}

// IdentifyTransportStream identifies the shape of a file and asserts it is
// plain 188-byte TS, failing with ErrShapeMismatch otherwise.
func IdentifyTransportStream(r io.ReaderAt) (PacketShape, error) {
	s, err := IdentifyPacketShape(r)
	if err != nil {
		return PacketShape{}, err
	}
	if s.HeaderLen != 0 || s.TrailerLen != 0 {
		return PacketShape{}, fmt.Errorf("tsar: shape (header=%d, trailer=%d): %w", s.HeaderLen, s.TrailerLen, ErrShapeMismatch)
	}
	return s, nil
}

// IdentifyM2TransportStream identifies the shape of a file and asserts it is
// M2TS (4-byte header, no trailer), failing with ErrShapeMismatch otherwise.
func IdentifyM2TransportStream(r io.ReaderAt) (PacketShape, error) {
	s, err := IdentifyPacketShape(r)
	if err != nil {
		return PacketShape{}, err
	}
	if s.HeaderLen != 4 || s.TrailerLen != 0 {
		return PacketShape{}, fmt.Errorf("tsar: shape (header=%d, trailer=%d): %w", s.HeaderLen, s.TrailerLen, ErrShapeMismatch)
	}
	return s, nil
}
