package caformat

// Buffer is the growable byte buffer backing the encoder's single current
// output chunk (spec.md §2, "Growable byte buffer"). It mirrors the
// source's ReallocBuffer: callers acquire exactly the number of bytes they
// are about to fill, write into the returned slice, and the buffer is
// emptied (not deallocated) between chunks so its backing array is reused
// across the life of an Encoder.
type Buffer struct {
	data []byte
}

// Len reports the number of live bytes currently held.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the live bytes. The slice is only valid until the next call
// to Acquire or Empty.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Empty discards the live bytes without releasing the backing array,
// matching realloc_buffer_empty: the next Acquire reuses the capacity.
func (b *Buffer) Empty() {
	b.data = b.data[:0]
}

// Acquire grows the buffer to exactly n live bytes and returns that slice,
// zero-initialized, for the caller to fill. Any previously live bytes are
// discarded first, matching the builders' one-shot "fill the buffer exactly
// once per state visit" contract (spec.md §4.4).
func (b *Buffer) Acquire(n int) []byte {
	if cap(b.data) < n {
		b.data = make([]byte, n)
		return b.data
	}
	b.data = b.data[:n]
	for i := range b.data {
		b.data[i] = 0
	}
	return b.data
}

// Append grows the live region by len(p) and copies p into the new tail,
// used by record builders writing unaligned trailers (spec.md §9) right
// after a fixed-size header without leaving any gap.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}
