package tsar

import "fmt"

// TSPacket represents a single 188-byte MPEG-2 transport stream packet.
// https://en.wikipedia.org/wiki/MPEG_transport_stream
//
// It is a view: Bytes is borrowed from whatever buffer produced it (a
// PacketStream chunk) and must not be retained past the caller's use of the
// packet, unless the caller copies it first.
type TSPacket struct {
	AdaptationField *AdaptationField
	Bytes           []byte // the full 188-byte packet
	Header          *PacketHeader
	Payload         []byte // nil when the packet carries no payload
	Prefix          []byte // the M2TS header bytes preceding this packet, if any
	Trailer         []byte // the 204-byte-shape FEC trailer following this packet, if any
}

// PacketHeader represents the 4-byte TS packet header.
type PacketHeader struct {
	TransportErrorIndicator    bool
	PayloadUnitStartIndicator  bool // PUSI: set on the first TS packet of a PES/PSI unit
	TransportPriority          bool
	PID                        uint16 // 13 bits
	TransportScramblingControl uint8  // 2 bits
	AdaptationFieldControl     uint8  // 2 bits: 0b01 payload, 0b10 adaptation, 0b11 both
	ContinuityCounter          uint8  // 4 bits
	HasAdaptationField         bool
	HasPayload                 bool
}

// parsePacket parses a 188-byte TS packet view out of i, which must be
// exactly 188 bytes and already aligned on a sync byte.
func parsePacket(i []byte) (p *TSPacket, err error) {
	if len(i) != MpegTsPacketSize {
		return nil, fmt.Errorf("tsar: TS packet must be %d bytes, got %d", MpegTsPacketSize, len(i))
	}
	if i[0] != syncByte {
		return nil, ErrBadSyncByte
	}

	p = &TSPacket{Bytes: i}
	if p.Header, err = parsePacketHeader(i); err != nil {
		return nil, fmt.Errorf("tsar: parsing TS packet header failed: %w", err)
	}

	if p.Header.HasAdaptationField {
		if p.AdaptationField, err = parseAdaptationField(i[4:]); err != nil {
			return nil, fmt.Errorf("tsar: parsing adaptation field failed: %w", err)
		}
	}

	if p.Header.HasPayload {
		p.Payload = i[payloadOffset(p.Header, p.AdaptationField):]
	}
	return p, nil
}

// M2TSPrefix returns a view over this packet's M2TS timestamp/CPI prefix, or
// nil for a plain TS packet that carries none.
func (p *TSPacket) M2TSPrefix() *M2TSPrefix {
	if len(p.Prefix) < 4 {
		return nil
	}
	return parseM2TSPrefix(p.Prefix)
}

// payloadOffset returns the offset, from the start of the packet, at which
// the payload begins.
func payloadOffset(h *PacketHeader, a *AdaptationField) int {
	offset := 4
	if h.HasAdaptationField {
		offset += 1 + a.Length
	}
	return offset
}

// parsePacketHeader parses the 4-byte TS packet header starting at i[0].
func parsePacketHeader(i []byte) (*PacketHeader, error) {
	afc := (i[3] >> 4) & 0b11
	if err := validateAFC(afc); err != nil {
		return nil, err
	}
	return &PacketHeader{
		TransportErrorIndicator:    i[1]&0x80 > 0,
		PayloadUnitStartIndicator:  i[1]&0x40 > 0,
		TransportPriority:          i[1]&0x20 > 0,
		PID:                        uint16(i[1]&0x1f)<<8 | uint16(i[2]),
		TransportScramblingControl: i[3] >> 6 & 0b11,
		AdaptationFieldControl:     afc,
		ContinuityCounter:          i[3] & 0xf,
		HasAdaptationField:         afc&AFCAdaptationOnly > 0,
		HasPayload:                 afc&AFCPayloadOnly > 0,
	}, nil
}
