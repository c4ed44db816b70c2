package tsar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/icza/bitio"
)

// PacketAttribute is one decoded PAF record: the number and total byte
// length of the transport packets that carried a PES packet, plus its
// presentation and decoding timestamps.
type PacketAttribute struct {
	TPCount int
	PckSize int
	PTS     int64
	DTS     int64
}

// PAFWriter appends PacketAttribute records to per-PID .paf files in an
// output directory. The directory must already exist; creating it is the
// caller's responsibility.
type PAFWriter struct {
	dir   string
	files map[uint16]*os.File
}

// NewPAFWriter builds a writer rooted at dir.
func NewPAFWriter(dir string) *PAFWriter {
	return &PAFWriter{dir: dir, files: make(map[uint16]*os.File)}
}

// pafPath returns the {PID:04X}.paf path for pid.
func (w *PAFWriter) pafPath(pid uint16) string {
	return filepath.Join(w.dir, fmt.Sprintf("%04X.paf", pid))
}

// fileFor returns the open file for pid, creating it (and writing the
// header) on first use.
func (w *PAFWriter) fileFor(pid uint16) (*os.File, error) {
	if f, ok := w.files[pid]; ok {
		return f, nil
	}
	if pid == 0 || pid >= 0x1FFF {
		return nil, fmt.Errorf("tsar: PID 0x%04X out of range: %w", pid, ErrBadPAFHeader)
	}

	f, err := os.Create(w.pafPath(pid))
	if err != nil {
		return nil, fmt.Errorf("tsar: creating PAF file for PID 0x%04X failed: %w", pid, err)
	}

	// meta_len is always 0 in this version.
	header := []byte{byte(pid >> 8), byte(pid), 0}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("tsar: writing PAF header for PID 0x%04X failed: %w", pid, err)
	}

	w.files[pid] = f
	return f, nil
}

// WritePES writes one PAF record for a completed PES. DTS defaults to PTS
// when the PES carries none; both-zero is rejected.
func (w *PAFWriter) WritePES(pid uint16, pes *PESPacket, tpCount int) error {
	var ptsBase, dtsBase int64
	if pts := pes.PTS(); pts != nil {
		ptsBase = pts.Base()
	}
	dtsBase = ptsBase
	if dts := pes.DTS(); dts != nil {
		dtsBase = dts.Base()
	}
	if err := w.WriteRecord(pid, PacketAttribute{
		TPCount: tpCount,
		PckSize: pes.TotalLength,
		PTS:     ptsBase,
		DTS:     dtsBase,
	}); err != nil {
		return fmt.Errorf("tsar: PID 0x%04X: %w", pid, err)
	}
	return nil
}

// WriteRecord appends a into pid's .paf file, creating the file if this is
// the first record seen for pid. Rejects zero PTS-and-DTS. Each record goes
// out as a single 15-byte write so a partial file stays valid at record
// granularity.
func (w *PAFWriter) WriteRecord(pid uint16, a PacketAttribute) error {
	if a.PTS == 0 && a.DTS == 0 {
		return ErrZeroTimestamps
	}

	f, err := w.fileFor(pid)
	if err != nil {
		return err
	}

	record := make([]byte, pafRecordSize)
	record[0] = pafRecordMarker
	record[1] = byte(a.TPCount >> 8)
	record[2] = byte(a.TPCount)
	record[3] = byte(a.PckSize >> 16)
	record[4] = byte(a.PckSize >> 8)
	record[5] = byte(a.PckSize)
	encodePTSDTS(record[6:15], a.PTS, a.DTS)

	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("tsar: appending PAF record for PID 0x%04X failed: %w", pid, err)
	}
	return nil
}

// Close closes every open .paf file. Safe to call once at end-of-run.
func (w *PAFWriter) Close() error {
	var firstErr error
	for pid, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tsar: closing PAF file for PID 0x%04X failed: %w", pid, err)
		}
	}
	w.files = make(map[uint16]*os.File)
	return firstErr
}

// encodePTSDTS packs a 33-bit PTS and a 33-bit DTS into the 9-byte temporal
// block: bytes[0:4] carry DTS's high 32 bits, byte 4's top bit carries DTS's
// LSB, and bytes[4:9] carry PTS<<6 as a 40-bit big-endian word.
func encodePTSDTS(out []byte, pts, dts int64) {
	w := bitio.NewCountWriter(sliceWriter{out})
	w.TryWriteBits(uint64(dts)>>1, 32)
	w.TryWriteBits(uint64(pts)<<6, 40)
	_ = w.Close()
	// pts<<6 always leaves byte 4's top bit at 0 (pts is 33 bits, so pts<<6
	// fits in 39 bits); that bit carries dts's LSB.
	out[4] = (out[4] &^ 0x80) | byte((dts&1)<<7)
}

// decodePTSDTS is the exact inverse of encodePTSDTS.
func decodePTSDTS(in []byte) (pts, dts int64) {
	dtsHi := uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3])
	dts = int64(dtsHi)<<1 | int64(in[4]>>7)
	ptsHi := uint64(in[4]&0x7F)<<32 | uint64(in[5])<<24 | uint64(in[6])<<16 | uint64(in[7])<<8 | uint64(in[8])
	pts = int64(ptsHi >> 6)
	return
}

// sliceWriter adapts a fixed-size byte slice to io.Writer so bitio.Writer
// can pack the temporal block directly into the record buffer.
type sliceWriter struct{ b []byte }

func (s sliceWriter) Write(p []byte) (int, error) {
	if len(p) > len(s.b) {
		return 0, fmt.Errorf("tsar: temporal block write overruns buffer")
	}
	copy(s.b, p)
	return len(p), nil
}

// PAFReader lazily reads PacketAttribute records out of a .paf file.
type PAFReader struct {
	f    *os.File
	r    *bufio.Reader
	PID  uint16
	Meta []byte
}

// OpenPAFReader opens path, parses its header, and positions the reader at
// the first record.
func OpenPAFReader(path string) (*PAFReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tsar: opening PAF file failed: %w", err)
	}

	r := bufio.NewReader(f)
	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("tsar: reading PAF header failed: %w", err)
	}
	pid := uint16(header[0])<<8 | uint16(header[1])
	if pid == 0 || pid >= 0x1FFF {
		f.Close()
		return nil, fmt.Errorf("tsar: PID 0x%04X: %w", pid, ErrBadPAFHeader)
	}

	metaLen := int(header[2])
	meta := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := io.ReadFull(r, meta); err != nil {
			f.Close()
			return nil, fmt.Errorf("tsar: reading PAF metadata failed: %w", err)
		}
		// This version never writes metadata; carry unknown bytes through.
		logger.Printf("tsar: PAF file for PID 0x%04X carries %d bytes of unknown metadata", pid, metaLen)
	}

	return &PAFReader{f: f, r: r, PID: pid, Meta: meta}, nil
}

// Next returns the next record, or io.EOF once the file is exhausted.
func (r *PAFReader) Next() (*PacketAttribute, error) {
	record := make([]byte, pafRecordSize)
	if _, err := io.ReadFull(r.r, record); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("tsar: truncated PAF record: %w", ErrTruncatedStream)
		}
		return nil, err
	}
	if record[0] != pafRecordMarker {
		return nil, fmt.Errorf("tsar: PAF record missing 'P' marker")
	}

	tpCount := int(record[1])<<8 | int(record[2])
	pckSize := int(record[3])<<16 | int(record[4])<<8 | int(record[5])
	pts, dts := decodePTSDTS(record[6:15])

	return &PacketAttribute{TPCount: tpCount, PckSize: pckSize, PTS: pts, DTS: dts}, nil
}

// Close closes the underlying file.
func (r *PAFReader) Close() error {
	return r.f.Close()
}
