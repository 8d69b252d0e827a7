package encoder

import "golang.org/x/xerrors"

// Sentinel errors forming the stable taxonomy from spec.md §7. Callers
// should use errors.Is against these rather than matching error strings.
var (
	// ErrMisuse covers calling-convention violations: flags changed after
	// the first Step, the base descriptor set twice, or a query made in a
	// state that does not support it.
	ErrMisuse = xerrors.New("encoder: misuse")

	// ErrTooDeep is returned when the traversal stack's depth limit is
	// exceeded.
	ErrTooDeep = xerrors.New("encoder: traversal stack too deep")

	// ErrUnsupportedKind is returned when the root, or a node queried for
	// a kind-specific operation, is not of a supported filesystem type.
	ErrUnsupportedKind = xerrors.New("encoder: unsupported filesystem object kind")

	// ErrProtocolUnsupported is returned when a child's kind requires a
	// feature flag that is not set, or its uid/gid is not representable
	// under the selected width.
	ErrProtocolUnsupported = xerrors.New("encoder: protocol unsupported")

	// ErrShortRead is returned when a payload read returns fewer bytes
	// than requested, which spec.md §4.4 treats as an I/O error under the
	// stable-snapshot assumption.
	ErrShortRead = xerrors.New("encoder: short read on payload")
)
