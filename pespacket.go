package tsar

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// Trick mode controls.
const (
	TrickModeControlFastForward = 0
	TrickModeControlSlowMotion  = 1
	TrickModeControlFreezeFrame = 2
	TrickModeControlFastReverse = 3
	TrickModeControlSlowReverse = 4
)

// PESPacket is a view over a reassembled PES buffer: the first six bytes
// must be 00 00 01 stream_id pes_len_hi pes_len_lo. Construction rejects a
// buffer without that start code.
type PESPacket struct {
	Header *PESHeader
	Data   []byte
	// TotalLength is the byte length of the full PES packet (header +
	// payload) actually used, after non-video truncation to the declared
	// pes_packet_length or, for video, whatever buffer the caller supplied.
	TotalLength int
}

// PESHeader represents the fixed 6-byte PES prefix plus its optional header.
type PESHeader struct {
	StreamID       uint8
	PacketLength   uint16
	OptionalHeader *PESOptionalHeader
}

// PESOptionalHeader represents a PES optional header's decoded fields. Field
// accessors are infallible: every flag-gated field that wasn't present in
// the wire bytes simply holds its zero value.
type PESOptionalHeader struct {
	ScramblingControl      uint8 // 2 bits
	Priority               bool
	DataAlignmentIndicator bool
	IsCopyrighted          bool
	IsOriginal             bool

	PTSDTSIndicator       uint8 // 2 bits
	HasESCR               bool
	HasESRate             bool
	HasDSMTrickMode       bool
	HasAdditionalCopyInfo bool
	HasCRC                bool
	HasExtension          bool

	HeaderLength uint8

	PTS                *ClockReference
	DTS                *ClockReference
	ESCR               *ClockReference
	ESRate             uint32
	DSMTrickMode       *DSMTrickMode
	AdditionalCopyInfo uint8
	CRC                uint16

	Extension *PESExtension
}

// PESExtension represents the PES extension field's decoded flags.
type PESExtension struct {
	PrivateData                     []byte // 16 bytes, present when HasPrivateData
	HasPrivateData                  bool
	HasPackHeaderField              bool
	HasProgramPacketSequenceCounter bool
	HasPSTDBuffer                   bool
	HasExtension2                   bool

	PackHeader []byte

	PacketSequenceCounter  uint8
	MPEG1OrMPEG2ID         bool
	OriginalStuffingLength uint8

	PSTDBufferScale bool
	PSTDBufferSize  uint16

	Extension2Data []byte
}

// DSMTrickMode represents a decoded DSM trick mode field.
type DSMTrickMode struct {
	TrickModeControl    uint8 // 3 bits
	FieldID             uint8 // 2 bits
	IntraSliceRefresh   bool
	FrequencyTruncation uint8 // 2 bits
	RepeatControl       uint8 // 5 bits
}

// PTS returns the packet's presentation timestamp, or nil if none is
// present (no optional header, or PTSDTSIndicator == none).
func (p *PESPacket) PTS() *ClockReference {
	if p.Header.OptionalHeader == nil {
		return nil
	}
	return p.Header.OptionalHeader.PTS
}

// DTS returns the packet's decoding timestamp, or nil if none is present.
func (p *PESPacket) DTS() *ClockReference {
	if p.Header.OptionalHeader == nil {
		return nil
	}
	return p.Header.OptionalHeader.DTS
}

// parsePESPacket parses buf (the full concatenated payload for one PES
// group) into a PESPacket. buf must start with the 00 00 01 start code.
func parsePESPacket(buf []byte) (*PESPacket, error) {
	if len(buf) < 6 {
		return nil, fmt.Errorf("tsar: PES buffer shorter than fixed prefix: %w", ErrBadPESStartCode)
	}
	if buf[0] != 0x00 || buf[1] != 0x00 || buf[2] != 0x01 {
		return nil, ErrBadPESStartCode
	}

	streamID := buf[3]
	packetLength := uint16(buf[4])<<8 | uint16(buf[5])

	// Video streams may declare a zero ("unbounded") or understated length;
	// their buffer always passes through as-is. Only non-video streams are
	// truncated to the declared length.
	if !isVideoStreamID(streamID) {
		want := 6 + int(packetLength)
		if len(buf) < want {
			return nil, fmt.Errorf("tsar: non-video PES shorter than declared length")
		}
		buf = buf[:want]
	}

	h := &PESHeader{StreamID: streamID, PacketLength: packetLength}

	r := bitio.NewCountReader(bytes.NewReader(buf[6:]))
	dataStart := int64(48) // 6 bytes already consumed

	if hasPESOptionalHeader(streamID) {
		oh, consumed, err := parsePESOptionalHeader(r)
		if err != nil {
			return nil, fmt.Errorf("tsar: parsing PES optional header failed: %w", err)
		}
		h.OptionalHeader = oh
		dataStart += consumed
	}

	dataOffset := dataStart / 8
	if int(dataOffset) > len(buf) {
		return nil, fmt.Errorf("tsar: PES optional header overruns buffer")
	}

	return &PESPacket{Header: h, Data: buf[dataOffset:], TotalLength: len(buf)}, nil
}

// parsePESOptionalHeader parses the optional header starting right after
// the fixed 6-byte PES prefix. It returns the number of bits consumed from
// that point (i.e. including header_data_length's own 3 bytes and any
// stuffing), so the caller can locate packet_data.
func parsePESOptionalHeader(r *bitio.CountReader) (*PESOptionalHeader, int64, error) {
	h := &PESOptionalHeader{}

	marker := uint8(r.TryReadBits(2))
	if marker != 0b10 {
		return nil, 0, fmt.Errorf("tsar: PES optional header marker bits must be 10, got %02b", marker)
	}
	h.ScramblingControl = uint8(r.TryReadBits(2))
	h.Priority = r.TryReadBool()
	h.DataAlignmentIndicator = r.TryReadBool()
	h.IsCopyrighted = r.TryReadBool()
	h.IsOriginal = r.TryReadBool()

	h.PTSDTSIndicator = uint8(r.TryReadBits(2))
	if err := validatePTSDTSFlags(h.PTSDTSIndicator); err != nil {
		return nil, 0, err
	}
	h.HasESCR = r.TryReadBool()
	h.HasESRate = r.TryReadBool()
	h.HasDSMTrickMode = r.TryReadBool()
	h.HasAdditionalCopyInfo = r.TryReadBool()
	h.HasCRC = r.TryReadBool()
	h.HasExtension = r.TryReadBool()

	h.HeaderLength = r.TryReadByte()
	if r.TryError != nil {
		return nil, 0, r.TryError
	}

	var err error
	switch h.PTSDTSIndicator {
	case PTSDTSIndicatorPTSOnly:
		if h.PTS, err = parsePTSOrDTS(r, 0b0010); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing PTS failed: %w", err)
		}
	case PTSDTSIndicatorBoth:
		if h.PTS, err = parsePTSOrDTS(r, 0b0011); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing PTS failed: %w", err)
		}
		if h.DTS, err = parsePTSOrDTS(r, 0b0001); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing DTS failed: %w", err)
		}
	}

	if h.HasESCR {
		if h.ESCR, err = parseESCR(r); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing ESCR failed: %w", err)
		}
	}

	if h.HasESRate {
		_ = r.TryReadBool()
		h.ESRate = uint32(r.TryReadBits(22))
		_ = r.TryReadBool()
	}

	if h.HasDSMTrickMode {
		if h.DSMTrickMode, err = parseDSMTrickMode(r); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing DSM trick mode failed: %w", err)
		}
	}

	if h.HasAdditionalCopyInfo {
		_ = r.TryReadBool()
		h.AdditionalCopyInfo = uint8(r.TryReadBits(7))
	}

	if h.HasCRC {
		h.CRC = uint16(r.TryReadBits(16))
	}

	if h.HasExtension {
		if h.Extension, err = parsePESExtension(r); err != nil {
			return nil, 0, fmt.Errorf("tsar: parsing PES extension failed: %w", err)
		}
	}

	if r.TryError != nil {
		return nil, 0, r.TryError
	}

	// Consume stuffing: packet_data begins at byte 9 + header_data_length of
	// the PES buffer, i.e. 3 + header_data_length bytes past byte 6, where
	// this reader started. We've read
	// 3 bytes (marker..flags, already inclusive of header_length byte) plus
	// whatever optional fields were present; the remainder up to
	// HeaderLength must be all-0xFF stuffing.
	consumedBits := r.BitsCount
	declaredBits := int64(3+int(h.HeaderLength)) * 8
	if consumedBits > declaredBits {
		return nil, 0, fmt.Errorf("tsar: PES optional fields overran header_data_length")
	}
	stuffBytes := (declaredBits - consumedBits) / 8
	for k := int64(0); k < stuffBytes; k++ {
		b := r.TryReadByte()
		if r.TryError != nil {
			return nil, 0, r.TryError
		}
		if b != 0xFF {
			return nil, 0, ErrBadStuffing
		}
	}

	return h, declaredBits, nil
}

// parsePESExtension parses the PES extension block, whose total length is
// computed from its own flag byte.
func parsePESExtension(r *bitio.CountReader) (*PESExtension, error) {
	e := &PESExtension{}
	e.HasPrivateData = r.TryReadBool()
	e.HasPackHeaderField = r.TryReadBool()
	e.HasProgramPacketSequenceCounter = r.TryReadBool()
	e.HasPSTDBuffer = r.TryReadBool()
	_ = r.TryReadBits(3)
	e.HasExtension2 = r.TryReadBool()

	if e.HasPrivateData {
		e.PrivateData = make([]byte, 16)
		TryReadFull(r, e.PrivateData)
	}

	if e.HasPackHeaderField {
		// pack_field_length byte, then that many bytes of pack_header.
		l := r.TryReadByte()
		e.PackHeader = make([]byte, l)
		TryReadFull(r, e.PackHeader)
	}

	if e.HasProgramPacketSequenceCounter {
		_ = r.TryReadBool()
		e.PacketSequenceCounter = uint8(r.TryReadBits(7))
		e.MPEG1OrMPEG2ID = r.TryReadBool()
		e.OriginalStuffingLength = uint8(r.TryReadBits(7))
	}

	if e.HasPSTDBuffer {
		_ = r.TryReadBits(2)
		e.PSTDBufferScale = r.TryReadBool()
		e.PSTDBufferSize = uint16(r.TryReadBits(13))
	}

	if e.HasExtension2 {
		// The sub-byte's marker bit must be set; its low 7 bits carry the
		// extension2 field length.
		marker := r.TryReadBool()
		if r.TryError == nil && !marker {
			return nil, fmt.Errorf("tsar: PES extension2 marker bit not set")
		}
		length := uint8(r.TryReadBits(7))
		e.Extension2Data = make([]byte, length)
		TryReadFull(r, e.Extension2Data)
	}

	return e, r.TryError
}

// parseDSMTrickMode parses the 1-byte DSM trick mode field.
func parseDSMTrickMode(r *bitio.CountReader) (*DSMTrickMode, error) {
	m := &DSMTrickMode{}
	m.TrickModeControl = uint8(r.TryReadBits(3))

	switch m.TrickModeControl {
	case TrickModeControlFastForward, TrickModeControlFastReverse:
		m.FieldID = uint8(r.TryReadBits(2))
		m.IntraSliceRefresh = r.TryReadBool()
		m.FrequencyTruncation = uint8(r.TryReadBits(2))
	case TrickModeControlFreezeFrame:
		m.FieldID = uint8(r.TryReadBits(2))
		_ = r.TryReadBits(3)
	case TrickModeControlSlowMotion, TrickModeControlSlowReverse:
		m.RepeatControl = uint8(r.TryReadBits(5))
	default:
		_ = r.TryReadBits(5)
	}
	return m, r.TryError
}

// parsePTSOrDTS parses a 5-byte PTS or DTS field, checking that its leading
// 4-bit tag matches wantTag (0010 for PTS-only, 0011 for PTS-with-DTS,
// 0001 for the DTS half).
func parsePTSOrDTS(r *bitio.CountReader, wantTag uint8) (*ClockReference, error) {
	tag := uint8(r.TryReadBits(4))
	if tag != wantTag {
		return nil, fmt.Errorf("tsar: expected PTS/DTS tag %04b, got %04b", wantTag, tag)
	}
	base, err := readTimestampBase(r)
	if err != nil {
		return nil, err
	}
	return newClockReference(base, 0), nil
}

// readTimestampBase reads the 36 remaining bits (3+15+15 value bits,
// interleaved with three marker bits set to 1) of a PTS/DTS base field, assuming the
// leading 4-bit tag has already been consumed.
func readTimestampBase(r *bitio.CountReader) (int64, error) {
	hi := r.TryReadBits(3)
	_ = r.TryReadBool()
	mid := r.TryReadBits(15)
	_ = r.TryReadBool()
	lo := r.TryReadBits(15)
	_ = r.TryReadBool()

	if r.TryError != nil {
		return 0, r.TryError
	}
	return int64(hi<<30 | mid<<15 | lo), nil
}

// parseESCR parses a 6-byte Elementary Stream Clock Reference.
func parseESCR(r *bitio.CountReader) (*ClockReference, error) {
	_ = r.TryReadBits(2)
	hi := r.TryReadBits(3)
	_ = r.TryReadBool()
	mid := r.TryReadBits(15)
	_ = r.TryReadBool()
	lo := r.TryReadBits(15)
	_ = r.TryReadBool()
	base := int64(hi<<30 | mid<<15 | lo)

	ext := int64(r.TryReadBits(9))
	_ = r.TryReadBool()

	if r.TryError != nil {
		return nil, r.TryError
	}
	return newClockReference(base, ext), nil
}
