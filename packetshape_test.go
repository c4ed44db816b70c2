package tsar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bytesReaderAt adapts a byte slice to io.ReaderAt without touching a real
// file.
type bytesReaderAt struct{ b []byte }

func (r bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(r.b).ReadAt(p, off)
}

// buildShapedStream synthesizes n packets of prefix(h) || TS(188) ||
// trailer(t), with 0x47-free prefix, trailer and TS bodies so the only sync
// bytes are the real ones.
func buildShapedStream(h, t, n int) []byte {
	var buf bytes.Buffer
	for k := 0; k < n; k++ {
		for i := 0; i < h; i++ {
			buf.WriteByte(0xAA)
		}
		body := make([]byte, MpegTsPacketSize)
		body[0] = syncByte
		body[1] = 0x01 // PID 0x0120
		body[2] = 0x20
		body[3] = AFCPayloadOnly << 4
		buf.Write(body)
		for i := 0; i < t; i++ {
			buf.WriteByte(0xBB)
		}
	}
	return buf.Bytes()
}

func TestIdentify_PlainTS(t *testing.T) {
	s, err := IdentifyPacketShape(bytesReaderAt{buildShapedStream(0, 0, 90)})
	require.NoError(t, err)
	assert.Equal(t, PacketShape{HeaderLen: 0, TrailerLen: 0, FirstPacketOffset: 0}, s)
	assert.Equal(t, 188, s.Total())
}

func TestIdentify_M2TS(t *testing.T) {
	s, err := IdentifyPacketShape(bytesReaderAt{buildShapedStream(4, 0, 90)})
	require.NoError(t, err)
	assert.Equal(t, PacketShape{HeaderLen: 4, TrailerLen: 0, FirstPacketOffset: 0}, s)
	assert.Equal(t, 192, s.Total())
}

func TestIdentify_204ByteShape(t *testing.T) {
	s, err := IdentifyPacketShape(bytesReaderAt{buildShapedStream(0, 16, 80)})
	require.NoError(t, err)
	assert.Equal(t, PacketShape{HeaderLen: 0, TrailerLen: 16, FirstPacketOffset: 0}, s)
	assert.Equal(t, 204, s.Total())
}

func TestIdentify_ArbitraryShapeRoundTrip(t *testing.T) {
	// Strides that don't collide with the named 188/192/204 shapes.
	for _, c := range []struct{ h, tr int }{
		{8, 12},
		{0, 30},
		{25, 0},
	} {
		s, err := IdentifyPacketShape(bytesReaderAt{buildShapedStream(c.h, c.tr, 70)})
		require.NoError(t, err, "shape (%d,%d)", c.h, c.tr)
		assert.Equal(t, PacketShape{HeaderLen: c.h, TrailerLen: c.tr, FirstPacketOffset: 0}, s)
	}
}

func TestIdentify_Idempotent(t *testing.T) {
	stream := buildShapedStream(4, 0, 90)
	a, err := IdentifyPacketShape(bytesReaderAt{stream})
	require.NoError(t, err)
	b, err := IdentifyPacketShape(bytesReaderAt{stream})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIdentify_TooFewSyncsFails(t *testing.T) {
	_, err := IdentifyPacketShape(bytesReaderAt{make([]byte, 1024)})
	assert.ErrorIs(t, err, ErrCannotIdentify)

	// Three sync bytes still aren't enough.
	buf := make([]byte, 1024)
	buf[0], buf[188], buf[376] = syncByte, syncByte, syncByte
	_, err = IdentifyPacketShape(bytesReaderAt{buf})
	assert.ErrorIs(t, err, ErrCannotIdentify)
}

func TestIdentifyTransportStream_Mismatch(t *testing.T) {
	_, err := IdentifyTransportStream(bytesReaderAt{buildShapedStream(4, 0, 90)})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	s, err := IdentifyTransportStream(bytesReaderAt{buildShapedStream(0, 0, 90)})
	require.NoError(t, err)
	assert.Equal(t, 0, s.HeaderLen)
}

func TestIdentifyM2TransportStream_Mismatch(t *testing.T) {
	_, err := IdentifyM2TransportStream(bytesReaderAt{buildShapedStream(0, 0, 90)})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	s, err := IdentifyM2TransportStream(bytesReaderAt{buildShapedStream(4, 0, 90)})
	require.NoError(t, err)
	assert.Equal(t, 4, s.HeaderLen)
}
