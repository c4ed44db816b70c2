package tsar

// ClockReference represents a 33-bit clock base with an optional 9-bit
// extension, as used both by PCR/OPCR (adaptation field) and by PTS/DTS
// (PES optional header, where the extension is always zero).
// https://en.wikipedia.org/wiki/Program_reference_clock
type ClockReference struct {
	base      int64 // 33 bits, 90kHz
	extension int64 // 9 bits, 27MHz
}

// newClockReference builds a ClockReference from its base and extension.
func newClockReference(base, extension int64) *ClockReference {
	return &ClockReference{base: base, extension: extension}
}

// Base returns the 33-bit, 90kHz clock base.
func (c *ClockReference) Base() int64 { return c.base }

// Extension returns the 9-bit, 27MHz extension.
func (c *ClockReference) Extension() int64 { return c.extension }

// PCR returns the combined 42-bit program clock reference value,
// base*300 + extension.
func (c *ClockReference) PCR() int64 {
	return c.base*300 + c.extension
}
