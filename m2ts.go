package tsar

// M2TSPrefix represents the 4-byte timestamp/copy-permission prefix that
// precedes each 188-byte TS packet in an M2TS (BDAV) stream.
// https://en.wikipedia.org/wiki/MPEG_transport_stream#M2TS
//
// It is a view over the 4 raw bytes; the setters re-pack bits in place and
// never reallocate.
type M2TSPrefix struct {
	Bytes []byte // exactly 4 bytes
}

// ArrivalTimeStamp returns the 30-bit arrival time code: the low 6 bits of
// the first byte followed by the 3 remaining bytes.
func (m *M2TSPrefix) ArrivalTimeStamp() uint32 {
	atc := uint32(m.Bytes[0] & 0x3F)
	for k := 1; k < 4; k++ {
		atc = atc<<8 | uint32(m.Bytes[k])
	}
	return atc
}

// SetArrivalTimeStamp re-packs the 30-bit arrival time code in place,
// preserving the copy permission indicator in the top two bits of byte 0.
func (m *M2TSPrefix) SetArrivalTimeStamp(atc uint32) {
	m.Bytes[0] = (m.Bytes[0] & 0xC0) | uint8((atc>>24)&0x3F)
	for k := 1; k < 4; k++ {
		m.Bytes[k] = uint8(atc >> uint(24-k*8))
	}
}

// CopyPermissionIndicator returns the 2-bit copy permission indicator in
// the top two bits of the first prefix byte.
func (m *M2TSPrefix) CopyPermissionIndicator() uint8 {
	return m.Bytes[0] >> 6
}

// SetCopyPermissionIndicator re-packs the 2-bit copy permission indicator
// in place, preserving the arrival time stamp bits.
func (m *M2TSPrefix) SetCopyPermissionIndicator(cpi uint8) {
	m.Bytes[0] = (m.Bytes[0] & 0x3F) | ((cpi & 0b11) << 6)
}

// parseM2TSPrefix wraps the 4-byte M2TS prefix at the start of i.
func parseM2TSPrefix(i []byte) *M2TSPrefix {
	return &M2TSPrefix{Bytes: i[:4]}
}
