package tsar

import "fmt"

// AdaptationField represents a TS packet's adaptation field.
// https://en.wikipedia.org/wiki/MPEG_transport_stream#Adaptation_field
type AdaptationField struct {
	AdaptationFieldExtension          *AdaptationFieldExtension
	DiscontinuityIndicator            bool
	ElementaryStreamPriorityIndicator bool
	HasAdaptationFieldExtension       bool
	HasOPCR                           bool
	HasPCR                            bool
	HasSplicingCountdown              bool
	HasTransportPrivateData           bool
	Length                            int
	OPCR                              *ClockReference
	PCR                               *ClockReference
	RandomAccessIndicator             bool
	SpliceCountdown                   int8
	Stuffing                          []byte
	TransportPrivateData              *TransportPrivateData
}

// TransportPrivateData represents the adaptation field's transport private
// data block.
type TransportPrivateData struct {
	Length  int
	Payload []byte
}

// AdaptationFieldExtension represents the adaptation field's extension
// block. Only its declared length is decoded; the legal-time-window/
// piecewise-rate/seamless-splice fields are skipped over.
type AdaptationFieldExtension struct {
	Length int
}

// parseAdaptationField parses an adaptation field starting at i[0] (the
// length byte), cascading the offset through the optional fields in their
// canonical order.
func parseAdaptationField(i []byte) (a *AdaptationField, err error) {
	a = &AdaptationField{Length: int(i[0])}
	if a.Length == 0 {
		return a, nil
	}
	if a.Length+1 > len(i) {
		return nil, fmt.Errorf("tsar: adaptation field length %d overruns packet remainder", a.Length)
	}

	offset := 1
	a.DiscontinuityIndicator = i[offset]&0x80 > 0
	a.RandomAccessIndicator = i[offset]&0x40 > 0
	a.ElementaryStreamPriorityIndicator = i[offset]&0x20 > 0
	a.HasPCR = i[offset]&0x10 > 0
	a.HasOPCR = i[offset]&0x08 > 0
	a.HasSplicingCountdown = i[offset]&0x04 > 0
	a.HasTransportPrivateData = i[offset]&0x02 > 0
	a.HasAdaptationFieldExtension = i[offset]&0x01 > 0
	offset++

	if a.HasPCR {
		if offset+6 > len(i) {
			return nil, fmt.Errorf("tsar: adaptation field too short for PCR")
		}
		a.PCR = parsePCR(i[offset:])
		offset += 6
	}

	if a.HasOPCR {
		if offset+6 > len(i) {
			return nil, fmt.Errorf("tsar: adaptation field too short for OPCR")
		}
		a.OPCR = parsePCR(i[offset:])
		offset += 6
	}

	if a.HasSplicingCountdown {
		if offset >= len(i) {
			return nil, fmt.Errorf("tsar: adaptation field too short for splice countdown")
		}
		a.SpliceCountdown = int8(i[offset])
		offset++
	}

	if a.HasTransportPrivateData {
		if offset >= len(i) {
			return nil, fmt.Errorf("tsar: adaptation field too short for transport private data length")
		}
		l := int(i[offset])
		offset++
		a.TransportPrivateData = &TransportPrivateData{Length: l}
		if l > 0 {
			if offset+l > len(i) {
				return nil, fmt.Errorf("tsar: transport private data overruns adaptation field")
			}
			a.TransportPrivateData.Payload = i[offset : offset+l]
			offset += l
		}
	}

	if a.HasAdaptationFieldExtension {
		if offset >= len(i) {
			return nil, fmt.Errorf("tsar: adaptation field too short for extension length")
		}
		a.AdaptationFieldExtension = &AdaptationFieldExtension{Length: int(i[offset])}
		offset += 1 + a.AdaptationFieldExtension.Length
		if offset > len(i) {
			return nil, fmt.Errorf("tsar: adaptation field extension overruns adaptation field")
		}
	}

	stuffLen := a.Length + 1 - offset
	if stuffLen < 0 {
		return nil, fmt.Errorf("tsar: adaptation field offsets overrun declared length")
	}
	stuffing := i[offset : offset+stuffLen]
	for _, b := range stuffing {
		if b != 0xFF {
			return nil, ErrBadStuffing
		}
	}
	a.Stuffing = stuffing

	return a, nil
}

// parsePCR parses a Program Clock Reference: 33-bit base, 6 reserved bits,
// 9-bit extension.
func parsePCR(i []byte) *ClockReference {
	var pcr = uint64(i[0])<<40 | uint64(i[1])<<32 | uint64(i[2])<<24 | uint64(i[3])<<16 | uint64(i[4])<<8 | uint64(i[5])
	return newClockReference(int64(pcr>>15), int64(pcr&0x1ff))
}
