package tsar

import "errors"

// Sentinel errors for every failure kind this package reports. Callers
// should use errors.Is against these, as the wrapping functions attach
// context with fmt.Errorf("...: %w", err).
var (
	// ErrCannotIdentify means the identification phase could not find a
	// consistent packet stride in the first 16KiB of the file.
	ErrCannotIdentify = errors.New("tsar: cannot identify packet shape")

	// ErrShapeMismatch means the caller requested a specific stream shape
	// (TransportStream or M2TransportStream) and the file is another.
	ErrShapeMismatch = errors.New("tsar: packet shape mismatch")

	// ErrTruncatedStream means EOF was hit inside a TS packet.
	ErrTruncatedStream = errors.New("tsar: truncated stream")

	// ErrBadSyncByte means a packet carved at the expected stride does not
	// begin with the sync byte 0x47.
	ErrBadSyncByte = errors.New("tsar: packet must start with a sync byte")

	// ErrInvalidAFC means adaptation_field_control == 0b00 (reserved).
	ErrInvalidAFC = errors.New("tsar: invalid adaptation field control")

	// ErrInvalidPTSDTSFlags means pts_dts_flags == 0b01 (illegal).
	ErrInvalidPTSDTSFlags = errors.New("tsar: invalid pts_dts_flags")

	// ErrBadPESStartCode means a PES boundary did not start with 00 00 01.
	ErrBadPESStartCode = errors.New("tsar: bad PES start code")

	// ErrPESOverflow means a PID's buffered payload reached max_size before
	// a PUSI closed it.
	ErrPESOverflow = errors.New("tsar: PID reassembly buffer overflow")

	// ErrZeroTimestamps means a completed PES had both PTS and DTS equal to
	// zero, which a PAF record cannot represent.
	ErrZeroTimestamps = errors.New("tsar: zero PTS and DTS")

	// ErrBadStuffing means stuffing bytes were not all 0xFF.
	ErrBadStuffing = errors.New("tsar: stuffing bytes not all 0xFF")

	// ErrBadPAFHeader means a .paf file's header PID was out of the legal
	// 0 < pid < 0x1FFF range.
	ErrBadPAFHeader = errors.New("tsar: bad PAF file header")
)
