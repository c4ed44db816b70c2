package tsar

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTSStream concatenates already-built TS packets into a contiguous
// plain-188-byte TS byte stream. It pads nothing itself: buildTSPacket has
// already filled each short payload out with a stuffed adaptation field.
func buildTSStream(packets []*TSPacket) []byte {
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p.Bytes)
	}
	return buf.Bytes()
}

func TestDemux_S1_SinglePIDOnePES(t *testing.T) {
	payload := make([]byte, 400)
	for i := range payload {
		payload[i] = byte(i)
	}
	pes := buildPESWithPTSDTS(0xE0, 0x123456789, 0x023456789, payload)
	chunks := splitInto(pes, 3)

	packets := []*TSPacket{
		buildTSPacket(0x0120, true, chunks[0]),
		buildTSPacket(0x0120, false, chunks[1]),
		buildTSPacket(0x0120, false, chunks[2]),
	}
	// No closing PUSI follows; the group is flushed by the end-of-stream
	// residual drain.
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{HeaderLen: 0, TrailerLen: 0, FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	require.NoError(t, dmx.Run())

	pafPath := filepath.Join(dir, "0120.paf")
	require.FileExists(t, pafPath)

	pr, err := OpenPAFReader(pafPath)
	require.NoError(t, err)
	defer pr.Close()
	assert.Equal(t, uint16(0x0120), pr.PID)

	rec, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TPCount)
	assert.EqualValues(t, 0x123456789, rec.PTS)
	assert.EqualValues(t, 0x023456789, rec.DTS)
	assert.Equal(t, len(pes), rec.PckSize)

	_, err = pr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDemux_S3_PTSOnlyDTSEqualsPTS(t *testing.T) {
	payload := []byte("pts-only-payload")
	headerData := encodeTimestamp(0b0010, 0x1FFFFFFFF)
	optHeader := append([]byte{0b10_00_0000, 0b10 << 6, byte(len(headerData))}, headerData...)
	body := append(optHeader, payload...)
	pes := append([]byte{0x00, 0x00, 0x01, 0xE0, byte(len(body) >> 8), byte(len(body))}, body...)

	packets := []*TSPacket{
		buildTSPacket(0x0130, true, pes),
		buildTSPacket(0x0130, true, []byte{0}), // closes the PID 0x0130 group
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	require.NoError(t, dmx.Run())

	pr, err := OpenPAFReader(filepath.Join(dir, "0130.paf"))
	require.NoError(t, err)
	defer pr.Close()

	rec, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, rec.PTS, rec.DTS)
}

func TestDemux_S5_InvalidPTSDTSFlagsSurface(t *testing.T) {
	// pts_dts_flags == 0b01 is illegal; the demux must fail the run when the
	// PUSI closing the group triggers the PES parse.
	pes := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x03, 0b10_00_0000, 0b01 << 6, 0x00}
	packets := []*TSPacket{
		buildTSPacket(0x0120, true, pes),
		buildTSPacket(0x0120, true, []byte{0}),
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	assert.ErrorIs(t, dmx.Run(), ErrInvalidPTSDTSFlags)
}

func TestDemux_S6_ExcludedPIDsSkipped(t *testing.T) {
	packets := []*TSPacket{
		buildTSPacket(PIDNull, true, make([]byte, 184)),
		buildTSPacket(PIDNull, false, make([]byte, 184)),
	}
	pes := buildPESWithPTSDTS(0xE0, 1, 1, []byte("x"))
	packets = append(packets,
		buildTSPacket(0x0120, true, pes),
		buildTSPacket(0x0120, true, []byte{0}),
	)
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	require.NoError(t, dmx.Run())

	assert.NoFileExists(t, filepath.Join(dir, "1FFF.paf"))
	assert.FileExists(t, filepath.Join(dir, "0120.paf"))
}

func TestDemux_CallerDenylistRespected(t *testing.T) {
	pes := buildPESWithPTSDTS(0xE0, 7, 7, []byte("denied"))
	packets := []*TSPacket{
		buildTSPacket(0x0200, true, pes),
		buildTSPacket(0x0200, true, []byte{0}),
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir, WithExcludedPIDs(0x0200))
	require.NoError(t, dmx.Run())

	assert.NoFileExists(t, filepath.Join(dir, "0200.paf"))
}

func TestDemux_ResidualDrainedAtEndOfStream(t *testing.T) {
	payload := make([]byte, 100)
	pes := buildPESWithPTSDTS(0xE0, 5, 5, payload)
	packets := []*TSPacket{
		buildTSPacket(0x0140, true, pes),
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	require.NoError(t, dmx.Run())

	pr, err := OpenPAFReader(filepath.Join(dir, "0140.paf"))
	require.NoError(t, err)
	defer pr.Close()
	rec, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TPCount)
}

func TestDemux_WithProgressSink(t *testing.T) {
	packets := []*TSPacket{
		buildTSPacket(0x0150, true, make([]byte, 20)),
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	sink := &countingSink{}
	dir := t.TempDir()
	dmx := NewDemux(ps, dir, WithProgressSink(sink))
	require.NoError(t, dmx.Run())

	assert.Equal(t, 1, sink.begins)
	assert.Equal(t, 1, sink.ends)
	assert.Equal(t, 1, sink.updates)
}

type countingSink struct{ begins, updates, ends int }

func (s *countingSink) Begin()  { s.begins++ }
func (s *countingSink) Update() { s.updates++ }
func (s *countingSink) End()    { s.ends++ }

func TestDemux_WithLogger(t *testing.T) {
	defer SetLogger(nil)

	// A PUSI-opened group whose bytes aren't a PES gets dropped at the
	// end-of-stream drain, which is the logger's one call site in a run.
	packets := []*TSPacket{
		buildTSPacket(0x0160, true, []byte{1, 2, 3, 4}),
	}
	stream := buildTSStream(packets)

	r := bytes.NewReader(stream)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	rec := &recordingLogger{}
	dir := t.TempDir()
	dmx := NewDemux(ps, dir, WithLogger(rec))
	require.NoError(t, dmx.Run())

	assert.NotZero(t, rec.printfs)
}

type recordingLogger struct{ printfs int }

func (l *recordingLogger) Fatal(v ...interface{})                 {}
func (l *recordingLogger) Fatalf(format string, v ...interface{}) {}
func (l *recordingLogger) Print(v ...interface{})                 {}
func (l *recordingLogger) Printf(format string, v ...interface{}) { l.printfs++ }

func TestDemux_TruncatedStreamFails(t *testing.T) {
	full := buildTSPacket(0x0120, true, make([]byte, 184)).Bytes
	truncated := full[:100] // cut mid-packet

	r := bytes.NewReader(truncated)
	ps, err := NewPacketStream(r, PacketShape{FirstPacketOffset: 0})
	require.NoError(t, err)

	dir := t.TempDir()
	dmx := NewDemux(ps, dir)
	err = dmx.Run()
	assert.ErrorIs(t, err, ErrTruncatedStream)
}

