package encoder

import (
	"strings"

	"golang.org/x/xerrors"
)

// CurrentPath concatenates the current-dirent names along the active stack
// with "/" separators (spec.md §4.5). It fails if no component has been
// opened yet.
func (e *Encoder) CurrentPath() (string, error) {
	if len(e.nodes) == 0 {
		return "", xerrors.Errorf("current path: %w", ErrMisuse)
	}

	var parts []string
	for _, n := range e.nodes {
		name, ok := n.currentDirent()
		if !ok {
			break
		}
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return "", xerrors.Errorf("current path: %w", ErrUnsupportedKind)
	}
	return strings.Join(parts, "/"), nil
}

// CurrentMode returns the mode of the pending child if one is open, else
// the mode of the current node (spec.md §4.5).
func (e *Encoder) CurrentMode() (uint32, error) {
	n := e.currentChildNode()
	if n == nil {
		n = e.currentNode()
		if n == nil {
			return 0, xerrors.Errorf("current mode: %w", ErrMisuse)
		}
	}
	return n.st.mode, nil
}

// CurrentPayloadOffset returns the offset within the current file or
// block-device payload. It is only valid on regular or block-device nodes.
func (e *Encoder) CurrentPayloadOffset() (uint64, error) {
	n := e.currentNode()
	if n == nil {
		return 0, xerrors.Errorf("current payload offset: %w", ErrMisuse)
	}
	if !(n.st.isRegular() || n.st.isBlockDev()) {
		return 0, xerrors.Errorf("current payload offset: %w", ErrUnsupportedKind)
	}
	return e.payloadOffset, nil
}

// CurrentArchiveOffset returns the total number of bytes successfully
// handed back so far. It is always valid, even before the first Step.
func (e *Encoder) CurrentArchiveOffset() uint64 {
	return e.archiveOffset
}
