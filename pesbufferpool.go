package tsar

import "sync"

// pesBufferPool recycles the byte buffers used to accumulate TS payloads
// into a PES group, so the reassembler doesn't allocate on every PUSI
// boundary. Don't use it anywhere else to avoid pool pollution.
type pesBufferPool struct {
	sp sync.Pool
}

func newPESBufferPool() *pesBufferPool {
	return &pesBufferPool{
		sp: sync.Pool{
			New: func() interface{} {
				return &pesBuffer{s: make([]byte, 0, 4096)}
			},
		},
	}
}

// pesBuffer owns a growable byte slice across the lifetime of one PID's
// in-progress PES group.
type pesBuffer struct {
	s []byte
}

// get returns a pesBuffer reset to zero length, ready for appends.
func (p *pesBufferPool) get() *pesBuffer {
	b := p.sp.Get().(*pesBuffer)
	b.s = b.s[:0]
	return b
}

// put returns the buffer to the pool. Don't use it after calling put.
func (p *pesBufferPool) put(b *pesBuffer) {
	p.sp.Put(b)
}
