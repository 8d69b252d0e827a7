package caformat

import (
	"encoding/binary"
	"testing"
)

func TestBuildHello(t *testing.T) {
	var buf Buffer
	BuildHello(&buf, WithBest)

	b := buf.Bytes()
	if len(b) != HelloSize {
		t.Fatalf("len = %d, want %d", len(b), HelloSize)
	}
	if typ := RecordType(binary.LittleEndian.Uint64(b[0:8])); typ != TypeHello {
		t.Errorf("type = %v, want %v", typ, TypeHello)
	}
	if size := binary.LittleEndian.Uint64(b[8:16]); size != HelloSize {
		t.Errorf("header.size = %d, want %d", size, HelloSize)
	}
	if uuid := binary.LittleEndian.Uint64(b[16:24]); uuid != HelloUUIDPart2 {
		t.Errorf("uuid_part2 = %#x, want %#x", uuid, HelloUUIDPart2)
	}
	if flags := binary.LittleEndian.Uint64(b[24:32]); flags != WithBest {
		t.Errorf("feature_flags = %#x, want %#x", flags, WithBest)
	}
}

func TestBuildGoodbye(t *testing.T) {
	var buf Buffer
	BuildGoodbye(&buf)

	b := buf.Bytes()
	if len(b) != GoodbyeSize {
		t.Fatalf("len = %d, want %d (spec.md §8 scenario 1: 16 header + 8 table entry)", len(b), GoodbyeSize)
	}
	if typ := RecordType(binary.LittleEndian.Uint64(b[0:8])); typ != TypeGoodbye {
		t.Errorf("type = %v, want %v", typ, TypeGoodbye)
	}
	entry := binary.LittleEndian.Uint64(b[HeaderSize : HeaderSize+8])
	if entry != GoodbyeSize {
		t.Errorf("goodbye table entry = %d, want %d (the record's own size)", entry, GoodbyeSize)
	}
}

func TestBuildEntry(t *testing.T) {
	var buf Buffer
	BuildEntry(&buf, 0o755, 1000, 1000, 1_600_000_000_000_000_000, "hello")

	b := buf.Bytes()
	wantSize := HeaderSize + EntryFixedSize + len("hello") + 1
	if len(b) != wantSize {
		t.Fatalf("len = %d, want %d", len(b), wantSize)
	}
	if typ := RecordType(binary.LittleEndian.Uint64(b[0:8])); typ != TypeEntry {
		t.Errorf("type = %v, want %v", typ, TypeEntry)
	}
	if mode := binary.LittleEndian.Uint64(b[16:24]); mode != 0o755 {
		t.Errorf("mode = %#o, want %#o", mode, 0o755)
	}
	if uid := binary.LittleEndian.Uint64(b[24:32]); uid != 1000 {
		t.Errorf("uid = %d, want 1000", uid)
	}
	if gid := binary.LittleEndian.Uint64(b[32:40]); gid != 1000 {
		t.Errorf("gid = %d, want 1000", gid)
	}
	name := b[48 : len(b)-1]
	if string(name) != "hello" {
		t.Errorf("name = %q, want %q", name, "hello")
	}
	if b[len(b)-1] != 0 {
		t.Error("name is not null-terminated")
	}
}

func TestAppendPayloadTrailer(t *testing.T) {
	var buf Buffer
	BuildEntry(&buf, unixModeReg, 0, 0, 0, "f")
	prefixLen := buf.Len()
	AppendPayloadTrailer(&buf, 3)

	b := buf.Bytes()
	trailer := b[prefixLen:]
	if len(trailer) != HeaderSize {
		t.Fatalf("trailer len = %d, want %d", len(trailer), HeaderSize)
	}
	if typ := RecordType(binary.LittleEndian.Uint64(trailer[0:8])); typ != TypePayload {
		t.Errorf("type = %v, want %v", typ, TypePayload)
	}
	if size := binary.LittleEndian.Uint64(trailer[8:16]); size != HeaderSize+3 {
		t.Errorf("size = %d, want %d", size, HeaderSize+3)
	}
}

func TestAppendSymlinkTrailerUnaligned(t *testing.T) {
	var buf Buffer
	// Entry name length chosen to land the trailer at an unaligned offset,
	// exercising spec.md §9's "unaligned trailers" requirement.
	BuildEntry(&buf, unixModeLnk, 0, 0, 0, "odd")
	prefixLen := buf.Len()
	AppendSymlinkTrailer(&buf, "../target")

	b := buf.Bytes()
	trailer := b[prefixLen:]
	wantLen := HeaderSize + len("../target") + 1
	if len(trailer) != wantLen {
		t.Fatalf("trailer len = %d, want %d", len(trailer), wantLen)
	}
	target := trailer[HeaderSize : len(trailer)-1]
	if string(target) != "../target" {
		t.Errorf("target = %q, want %q", target, "../target")
	}
}

func TestAppendDeviceTrailer(t *testing.T) {
	var buf Buffer
	AppendDeviceTrailer(&buf, 8, 1)

	b := buf.Bytes()
	if len(b) != DeviceSize {
		t.Fatalf("len = %d, want %d", len(b), DeviceSize)
	}
	if major := binary.LittleEndian.Uint64(b[HeaderSize : HeaderSize+8]); major != 8 {
		t.Errorf("major = %d, want 8", major)
	}
	if minor := binary.LittleEndian.Uint64(b[HeaderSize+8 : HeaderSize+16]); minor != 1 {
		t.Errorf("minor = %d, want 1", minor)
	}
}

// Mode constants duplicated from unix.S_IFREG/S_IFLNK to keep this test
// file independent of golang.org/x/sys/unix.
const (
	unixModeReg = 0o100000
	unixModeLnk = 0o120000
)
