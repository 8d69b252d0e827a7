package caformat

import "encoding/binary"

// putHeader writes a 16-byte record header into b[:16].
func putHeader(b []byte, t RecordType, size uint64) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(t))
	binary.LittleEndian.PutUint64(b[8:16], size)
}

// BuildHello fills buf with a complete HELLO record (spec.md §4.4, §6).
func BuildHello(buf *Buffer, featureFlags uint64) {
	b := buf.Acquire(HelloSize)
	putHeader(b, TypeHello, HelloSize)
	binary.LittleEndian.PutUint64(b[16:24], HelloUUIDPart2)
	binary.LittleEndian.PutUint64(b[24:32], featureFlags)
}

// BuildGoodbye fills buf with the degenerate one-entry Goodbye record this
// encoder writes: header + a single table entry equal to the record's own
// size (spec.md §4.4).
func BuildGoodbye(buf *Buffer) {
	b := buf.Acquire(GoodbyeSize)
	putHeader(b, TypeGoodbye, GoodbyeSize)
	binary.LittleEndian.PutUint64(b[HeaderSize:HeaderSize+GoodbyeEntrySize], GoodbyeSize)
}

// BuildEntry fills buf with an ENTRY record's fixed fields and
// null-terminated name (spec.md §4.4, §6). Trailers (PAYLOAD/SYMLINK/DEVICE
// headers) are appended separately via the AppendXxxTrailer functions,
// since they are produced unaligned right after this record, in the same
// chunk, without padding (spec.md §9).
func BuildEntry(buf *Buffer, mode, uid, gid, mtime uint64, name string) {
	size := uint64(HeaderSize + EntryFixedSize + len(name) + 1)
	b := buf.Acquire(int(size))
	putHeader(b, TypeEntry, size)
	binary.LittleEndian.PutUint64(b[16:24], mode)
	binary.LittleEndian.PutUint64(b[24:32], uid)
	binary.LittleEndian.PutUint64(b[32:40], gid)
	binary.LittleEndian.PutUint64(b[40:48], mtime)
	copy(b[48:48+len(name)], name)
	b[48+len(name)] = 0
}

// AppendPayloadTrailer appends a PAYLOAD record header (spec.md §4.4) whose
// size field covers the header plus fileSize bytes of payload that follow
// later, emitted by the child's own regular-file state rather than by this
// builder.
func AppendPayloadTrailer(buf *Buffer, fileSize uint64) {
	var h [HeaderSize]byte
	putHeader(h[:], TypePayload, HeaderSize+fileSize)
	buf.Append(h[:])
}

// AppendSymlinkTrailer appends a SYMLINK record carrying the resolved,
// null-terminated link target.
func AppendSymlinkTrailer(buf *Buffer, target string) {
	size := uint64(HeaderSize + len(target) + 1)
	h := make([]byte, size)
	putHeader(h, TypeSymlink, size)
	copy(h[HeaderSize:], target)
	h[len(h)-1] = 0
	buf.Append(h)
}

// AppendDeviceTrailer appends a DEVICE record carrying major/minor numbers.
func AppendDeviceTrailer(buf *Buffer, major, minor uint64) {
	var h [DeviceSize]byte
	putHeader(h[:], TypeDevice, DeviceSize)
	binary.LittleEndian.PutUint64(h[HeaderSize:HeaderSize+8], major)
	binary.LittleEndian.PutUint64(h[HeaderSize+8:HeaderSize+16], minor)
	buf.Append(h[:])
}
