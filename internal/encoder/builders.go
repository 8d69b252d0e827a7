package encoder

import (
	"io"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/catar/internal/caformat"
)

// Reserved uid/gid sentinels that are always rejected, regardless of the
// selected width (spec.md §4.4, §9 Open Questions — the source's
// conservative behavior of rejecting UINT16_MAX even under the 32-bit flag
// is preserved here).
const (
	reservedUID16 = 0xFFFF
	reservedUID32 = 0xFFFFFFFF
)

func (e *Encoder) fillHello() error {
	if e.buffer.Len() > 0 {
		return nil
	}
	caformat.BuildHello(&e.buffer, e.featureFlags)
	return nil
}

func (e *Encoder) fillGoodbye() error {
	if e.buffer.Len() > 0 {
		return nil
	}
	caformat.BuildGoodbye(&e.buffer)
	return nil
}

func (e *Encoder) fillEntry(n *node) error {
	if e.buffer.Len() > 0 {
		return nil
	}

	name, ok := n.currentDirent()
	if !ok {
		return xerrors.Errorf("get entry data: %w", ErrMisuse)
	}
	child := e.currentChildNode()
	if child == nil {
		return xerrors.Errorf("get entry data: %w", ErrMisuse)
	}

	if err := checkReservedSentinels(child.st); err != nil {
		return err
	}
	if err := e.checkUIDGIDWidth(child.st); err != nil {
		return err
	}
	if err := e.checkKindAllowed(child.st); err != nil {
		return err
	}

	uid, gid := e.entryUIDGID(child.st)
	mtime := caformat.QuantizeTime(child.st.mtimeNsecTotal(), e.timeGranularity)
	mode := e.entryMode(child.st)

	caformat.BuildEntry(&e.buffer, uint64(mode), uid, gid, mtime, name)

	switch {
	case child.st.isRegular():
		caformat.AppendPayloadTrailer(&e.buffer, uint64(child.st.size))
	case child.st.isSymlink():
		caformat.AppendSymlinkTrailer(&e.buffer, child.symlinkTarget)
	case child.st.isDevice():
		major, minor := unix.Major(child.st.rdev), unix.Minor(child.st.rdev)
		caformat.AppendDeviceTrailer(&e.buffer, uint64(major), uint64(minor))
	}
	return nil
}

func checkReservedSentinels(st stat) error {
	if st.uid == reservedUID16 || st.uid == reservedUID32 ||
		st.gid == reservedUID16 || st.gid == reservedUID32 {
		return xerrors.Errorf("reserved uid/gid sentinel: %w", ErrProtocolUnsupported)
	}
	return nil
}

func (e *Encoder) checkUIDGIDWidth(st stat) error {
	if e.featureFlags&caformat.WithUIDGID16Bit != 0 &&
		(st.uid > reservedUID16 || st.gid > reservedUID16) {
		return xerrors.Errorf("uid/gid exceeds 16-bit width: %w", ErrProtocolUnsupported)
	}
	return nil
}

func (e *Encoder) entryUIDGID(st stat) (uid, gid uint64) {
	if e.featureFlags&(caformat.WithUIDGID16Bit|caformat.WithUIDGID32Bit) != 0 {
		return uint64(st.uid), uint64(st.gid)
	}
	return 0, 0
}

func (e *Encoder) checkKindAllowed(st stat) error {
	switch {
	case st.isSymlink() && e.featureFlags&caformat.WithSymlinks == 0:
		return xerrors.Errorf("symlink: %w", ErrProtocolUnsupported)
	case st.isDevice() && e.featureFlags&caformat.WithDeviceNodes == 0:
		return xerrors.Errorf("device node: %w", ErrProtocolUnsupported)
	case st.isFIFO() && e.featureFlags&caformat.WithFIFOs == 0:
		return xerrors.Errorf("fifo: %w", ErrProtocolUnsupported)
	case st.isSocket() && e.featureFlags&caformat.WithSockets == 0:
		return xerrors.Errorf("socket: %w", ErrProtocolUnsupported)
	}
	return nil
}

// entryMode derives the mode stamped into an ENTRY record (spec.md §4.4):
// symlinks are forced to S_IFLNK|0777, then the permission flags decide how
// much of the remaining bits survive.
func (e *Encoder) entryMode(st stat) uint32 {
	mode := st.mode
	if st.isSymlink() {
		mode = unix.S_IFLNK | 0777
	}

	switch {
	case e.featureFlags&caformat.WithPermissions != 0:
		return mode & (unix.S_IFMT | 07777)

	case e.featureFlags&caformat.WithReadOnly != 0:
		writable := mode&0222 != 0
		isDir := mode&unix.S_IFMT == unix.S_IFDIR
		var perm uint32
		switch {
		case writable && isDir:
			perm = 0777
		case writable:
			perm = 0666
		case isDir:
			perm = 0555
		default:
			perm = 0444
		}
		return (mode & unix.S_IFMT) | perm

	default:
		return mode & unix.S_IFMT
	}
}

// fillPayload fills the buffer with up to bufferSize bytes of raw payload
// read from the node's descriptor at the current payload offset (spec.md
// §4.4). A short read is treated as an I/O error: the encoder assumes a
// stable snapshot for the duration of the walk.
func (e *Encoder) fillPayload(n *node) error {
	if e.buffer.Len() > 0 {
		return nil
	}

	size, err := e.payloadSize(n)
	if err != nil {
		return err
	}
	if e.payloadOffset >= size {
		return nil
	}

	remaining := size - e.payloadOffset
	want := remaining
	if want > bufferSize {
		want = bufferSize
	}

	buf := e.buffer.Acquire(int(want))
	got, err := n.file.ReadAt(buf, int64(e.payloadOffset))
	if err != nil && err != io.EOF {
		return xerrors.Errorf("reading payload: %w", err)
	}
	if uint64(got) != want {
		return xerrors.Errorf("read %d of %d bytes: %w", got, want, ErrShortRead)
	}
	return nil
}
