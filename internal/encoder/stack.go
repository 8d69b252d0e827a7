package encoder

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

func (e *Encoder) currentNode() *node {
	if e.nodeIdx >= len(e.nodes) {
		return nil
	}
	return e.nodes[e.nodeIdx]
}

func (e *Encoder) currentChildNode() *node {
	if e.nodeIdx+1 >= len(e.nodes) {
		return nil
	}
	return e.nodes[e.nodeIdx+1]
}

// forgetChildren destroys and frees any stack entries above the current
// node (spec.md §4.2).
func (e *Encoder) forgetChildren() {
	for len(e.nodes)-1 > e.nodeIdx {
		last := e.nodes[len(e.nodes)-1]
		last.close()
		e.nodes = e.nodes[:len(e.nodes)-1]
	}
}

// initChild reserves a new stack slot for a pending child, first
// discarding any stale child left over from a previous sibling. It fails
// with ErrTooDeep if the stack's depth limit would be exceeded.
func (e *Encoder) initChild() (*node, error) {
	e.forgetChildren()
	if len(e.nodes) >= e.maxDepth {
		return nil, ErrTooDeep
	}
	n := &node{}
	e.nodes = append(e.nodes, n)
	return n, nil
}

// openChild opens (or, for kinds that are never entered, merely stats) the
// directory entry named name inside parent (spec.md §4.2). Every entry is
// first stat'd via fstatat(AT_SYMLINK_NOFOLLOW); only regular files and
// directories are then opened, and symlinks have their target read.
func (e *Encoder) openChild(parent *node, name string) error {
	if !parent.st.isDir() {
		return xerrors.Errorf("open child: %w", ErrUnsupportedKind)
	}
	dirfd := parent.fd()
	if dirfd < 0 {
		return xerrors.Errorf("open child: parent has no descriptor: %w", ErrMisuse)
	}

	child, err := e.initChild()
	if err != nil {
		return err
	}

	var st unix.Stat_t
	if err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return xerrors.Errorf("fstatat %q: %w", name, err)
	}
	child.st = statFromUnix(&st)

	if child.st.isRegular() || child.st.isDir() {
		openFlags := unix.O_RDONLY | unix.O_CLOEXEC | unix.O_NOCTTY | unix.O_NOFOLLOW
		if child.st.isDir() {
			openFlags |= unix.O_DIRECTORY
		}
		fd, err := unix.Openat(dirfd, name, openFlags, 0)
		if err != nil {
			return xerrors.Errorf("openat %q: %w", name, err)
		}
		child.file = os.NewFile(uintptr(fd), name)
		child.owned = true
	}

	if child.st.isSymlink() {
		target, err := readSymlinkAt(dirfd, name)
		if err != nil {
			return err
		}
		child.symlinkTarget = target
	}

	return nil
}

// enterChild descends into the pending child, which must be a regular file
// or directory with a valid descriptor (spec.md §4.2).
func (e *Encoder) enterChild() error {
	child := e.currentChildNode()
	if child == nil {
		return xerrors.Errorf("enter child: %w", ErrMisuse)
	}
	if !(child.st.isRegular() || child.st.isDir()) || child.file == nil {
		return xerrors.Errorf("enter child: %w", ErrUnsupportedKind)
	}
	e.nodeIdx++
	return nil
}

// leaveChild moves back up one level. It reports whether it moved up
// (false means the walk was already at the root).
func (e *Encoder) leaveChild() (movedUp bool, err error) {
	if e.nodeIdx <= 0 {
		return false, nil
	}
	e.nodeIdx--
	return true, nil
}
