package encoder

import (
	"os"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// blkGetSize64 is the ioctl request number for BLKGETSIZE64 on Linux,
// returning the device size in bytes directly (unlike the legacy
// BLKGETSIZE, which returns a count of 512-byte sectors).
const blkGetSize64 = 0x80081272

// stat is a snapshot of the filesystem metadata spec.md §3 requires a Node
// to carry, decoupled from unix.Stat_t so the rest of the package only
// depends on the fields the encoder actually uses.
type stat struct {
	mode      uint32
	size      int64
	uid       uint32
	gid       uint32
	mtimeSec  int64
	mtimeNsec int64
	rdev      uint64
}

func statFromUnix(st *unix.Stat_t) stat {
	return stat{
		mode:      st.Mode,
		size:      st.Size,
		uid:       st.Uid,
		gid:       st.Gid,
		mtimeSec:  int64(st.Mtim.Sec),
		mtimeNsec: int64(st.Mtim.Nsec),
		rdev:      uint64(st.Rdev),
	}
}

func (s stat) isDir() bool     { return s.mode&unix.S_IFMT == unix.S_IFDIR }
func (s stat) isRegular() bool { return s.mode&unix.S_IFMT == unix.S_IFREG }
func (s stat) isSymlink() bool { return s.mode&unix.S_IFMT == unix.S_IFLNK }
func (s stat) isBlockDev() bool {
	return s.mode&unix.S_IFMT == unix.S_IFBLK
}
func (s stat) isCharDev() bool { return s.mode&unix.S_IFMT == unix.S_IFCHR }
func (s stat) isFIFO() bool    { return s.mode&unix.S_IFMT == unix.S_IFIFO }
func (s stat) isSocket() bool  { return s.mode&unix.S_IFMT == unix.S_IFSOCK }
func (s stat) isDevice() bool  { return s.isBlockDev() || s.isCharDev() }

// mtimeNsecTotal returns the mtime as nanoseconds since the epoch, matching
// util.h's timespec_to_nsec.
func (s stat) mtimeNsecTotal() uint64 {
	return uint64(s.mtimeSec)*1_000_000_000 + uint64(s.mtimeNsec)
}

// node is one element of the traversal stack (spec.md §3). file is nil
// until the node has been opened; it is always nil for symlink, device,
// FIFO and socket children, which are described but never entered. A
// block-device root carries the caller's descriptor.
type node struct {
	file  *os.File
	owned bool
	st    stat

	dirents       []string
	direntsLoaded bool
	direntIdx     int

	symlinkTarget string

	deviceSize      uint64
	deviceSizeKnown bool
}

// fd returns the raw descriptor number for syscalls that need it (openat,
// fstatat, readlinkat, ioctl), or -1 if the node has no open descriptor.
func (n *node) fd() int {
	if n.file == nil {
		return -1
	}
	return int(n.file.Fd())
}

// close releases the node's owned resources. Matching the source's
// ca_encoder_node_free, descriptors below 3 (the standard streams) are
// never closed even when nominally owned. The root node is never owned
// (SetBaseFD sets owned=false), so a caller-supplied root descriptor is not
// closed here whatever its number.
func (n *node) close() {
	if n.file != nil && n.owned && n.fd() >= 3 {
		n.file.Close()
	}
	n.file = nil
	n.dirents = nil
	n.direntsLoaded = false
	n.direntIdx = 0
	n.symlinkTarget = ""
	n.deviceSize = 0
	n.deviceSizeKnown = false
}

// currentDirent returns the dirent the node's cursor currently points at,
// or "" with ok=false once the directory listing is exhausted.
func (n *node) currentDirent() (string, bool) {
	if len(n.dirents) == 0 || n.direntIdx >= len(n.dirents) {
		return "", false
	}
	return n.dirents[n.direntIdx], true
}

// readDirents lazily populates and sorts the node's directory listing
// (spec.md §4.2): scan the descriptor, drop "." and "..", sort by raw
// byte-wise comparison of the name so ordering is locale-independent.
func (n *node) readDirents() error {
	if n.direntsLoaded {
		return nil
	}
	if !n.st.isDir() {
		return xerrors.Errorf("readDirents: %w", ErrUnsupportedKind)
	}
	if n.file == nil {
		return xerrors.New("encoder: readDirents on node with no descriptor")
	}

	entries, err := n.file.ReadDir(-1)
	if err != nil {
		return xerrors.Errorf("reading directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	n.dirents = names
	n.direntsLoaded = true
	n.direntIdx = 0
	return nil
}

// readDeviceSize resolves a block device's total size in bytes via
// BLKGETSIZE64, caching the result (spec.md §4.1's Node invariant: resolved
// before payload emission).
func (n *node) readDeviceSize() error {
	if n.deviceSizeKnown {
		return nil
	}
	if !n.st.isBlockDev() {
		return xerrors.Errorf("readDeviceSize: %w", ErrUnsupportedKind)
	}
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(n.fd()), blkGetSize64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return xerrors.Errorf("BLKGETSIZE64: %w", errno)
	}
	n.deviceSize = size
	n.deviceSizeKnown = true
	return nil
}

// readSymlinkAt resolves the target of the symlink named name inside the
// directory referenced by dirfd, using the classic readlink doubling-buffer
// sizing spec.md §4.2 calls for: keep doubling the buffer until the
// returned length is strictly shorter than it, which is the only way to be
// sure the result was not truncated.
func readSymlinkAt(dirfd int, name string) (string, error) {
	for size := 16; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(dirfd, name, buf)
		if err != nil {
			return "", xerrors.Errorf("readlinkat %q: %w", name, err)
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
}
