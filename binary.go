package tsar

import (
	"io"

	"github.com/icza/bitio"
)

// TryReadFull reads exactly len(p) bytes into p, short-circuiting if r is
// already in an error state.
func TryReadFull(r *bitio.CountReader, p []byte) {
	if r.TryError == nil {
		_, r.TryError = io.ReadFull(r, p)
	}
}
