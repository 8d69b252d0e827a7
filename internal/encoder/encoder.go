// Package encoder implements the pull-based streaming archive encoder:
// given a root descriptor referring to a regular file, directory or block
// device, it walks the tree with an explicit, bounded traversal stack and
// produces archive bytes one chunk at a time via Step/GetData.
//
// Consumers drive it cooperatively: call Step to advance the state machine,
// then GetData to fetch the chunk (if any) the new state yields, then Step
// again. No full archive is ever held in memory; at most one chunk is.
package encoder

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/catar/internal/caformat"
)

// DefaultMaxDepth bounds the traversal stack's depth, mirroring the
// source's NODES_MAX compile-time constant (spec.md §3's "capacity bounded
// by a compile-time constant").
const DefaultMaxDepth = 2048

// bufferSize is the largest payload chunk a single GetData call produces
// for a regular file or block device, mirroring the source's BUFFER_SIZE.
const bufferSize = 256 * 1024

type state int

const (
	stateInit state = iota
	stateHello
	stateEntry
	statePostChild
	stateGoodbye
	stateEOF
)

// StepResult is the outcome of a call to Step, telling the caller whether
// and why a chunk is available via GetData (spec.md §4.3).
type StepResult int

const (
	// Data means a framing or payload chunk is available via GetData.
	Data StepResult = iota
	// NextFile is like Data, but additionally marks the boundary where a
	// new child begins, for progress reporting.
	NextFile
	// Finished means the archive is complete; further Step calls return
	// Finished idempotently.
	Finished
)

func (r StepResult) String() string {
	switch r {
	case Data:
		return "DATA"
	case NextFile:
		return "NEXT_FILE"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Encoder is the root encoder object (spec.md §3). The zero value is not
// usable; construct one with New.
type Encoder struct {
	state state

	featureFlags    uint64
	timeGranularity uint64
	flagsLocked     bool

	maxDepth int
	nodes    []*node
	nodeIdx  int
	baseSet  bool

	buffer caformat.Buffer

	archiveOffset uint64
	payloadOffset uint64
	stepSize      uint64
}

// New creates an Encoder with the default feature flags (caformat.WithBest)
// and nanosecond time granularity, matching ca_encoder_new's defaults.
// Flags and the base descriptor are set afterwards via SetFeatureFlags and
// SetBaseFD before the first Step call.
func New() *Encoder {
	return &Encoder{
		featureFlags:    caformat.WithBest,
		timeGranularity: caformat.DefaultGranularity,
		maxDepth:        DefaultMaxDepth,
	}
}

// SetFeatureFlags validates and normalizes flags (caformat.NormalizeFlags)
// and persists them on the encoder. It must be called before the first
// Step; calling it afterwards is a misuse error (spec.md §3 lifecycle).
func (e *Encoder) SetFeatureFlags(flags uint64) error {
	if e.flagsLocked {
		return xerrors.Errorf("set feature flags: %w", ErrMisuse)
	}
	normalized, granularity, err := caformat.NormalizeFlags(flags)
	if err != nil {
		return xerrors.Errorf("set feature flags: %w", err)
	}
	e.featureFlags = normalized
	e.timeGranularity = granularity
	return nil
}

// FeatureFlags returns the encoder's current, normalized feature flags.
func (e *Encoder) FeatureFlags() uint64 {
	return e.featureFlags
}

// SetBaseFD sets the root descriptor the encoder walks. It may be called
// exactly once, before any Step call, and fd must refer to a regular file,
// directory, or block device. The descriptor is borrowed, not owned: the
// caller remains responsible for closing it (spec.md §9 Design Notes).
func (e *Encoder) SetBaseFD(fd int) error {
	if e.baseSet {
		return xerrors.Errorf("set base fd: %w", ErrMisuse)
	}
	if fd < 0 {
		return xerrors.Errorf("set base fd: negative descriptor: %w", ErrMisuse)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return xerrors.Errorf("fstat base fd: %w", err)
	}
	s := statFromUnix(&st)
	if !(s.isRegular() || s.isDir() || s.isBlockDev()) {
		return xerrors.Errorf("set base fd: %w", ErrUnsupportedKind)
	}

	e.nodes = []*node{{
		file:  os.NewFile(uintptr(fd), "<base>"),
		owned: false,
		st:    s,
	}}
	e.nodeIdx = 0
	e.baseSet = true
	return nil
}

// Close releases every descriptor, dirent listing and buffer the encoder
// owns. It is safe to call between any two API calls, including after an
// error (spec.md §5).
func (e *Encoder) Close() {
	for _, n := range e.nodes {
		n.close()
	}
	e.nodes = nil
	e.buffer.Empty()
}

func (e *Encoder) enterState(s state) {
	e.state = s
	e.buffer.Empty()
	e.payloadOffset = 0
	e.stepSize = 0
}

// Step advances the encoder by one logical unit (spec.md §4.3). It
// consumes the step size reported by the previous GetData call, then
// repositions the state machine at the next chunk-yielding state.
func (e *Encoder) Step() (StepResult, error) {
	e.flagsLocked = true

	if e.state == stateEOF {
		return Finished, nil
	}

	e.payloadOffset += e.stepSize
	e.archiveOffset += e.stepSize
	e.stepSize = 0

	for {
		n := e.currentNode()
		if n == nil {
			return 0, xerrors.Errorf("step: no current node: %w", ErrMisuse)
		}

		var (
			res StepResult
			err error
		)
		switch {
		case n.st.isRegular() || n.st.isBlockDev():
			res, err = e.stepPayload(n)
		case n.st.isDir():
			res, err = e.stepDirectory(n)
		default:
			return 0, xerrors.Errorf("step: %w", ErrUnsupportedKind)
		}
		if err != nil {
			return 0, err
		}
		if res != Finished {
			return res, nil
		}

		movedUp, err := e.leaveChild()
		if err != nil {
			return 0, err
		}
		if !movedUp {
			break
		}
		e.enterState(statePostChild)
	}

	e.forgetChildren()
	return Finished, nil
}

func (e *Encoder) stepPayload(n *node) (StepResult, error) {
	size, err := e.payloadSize(n)
	if err != nil {
		return 0, err
	}
	if e.payloadOffset >= size {
		e.enterState(stateEOF)
		return Finished, nil
	}
	return Data, nil
}

func (e *Encoder) stepDirectory(n *node) (StepResult, error) {
	if err := n.readDirents(); err != nil {
		return 0, err
	}

	switch e.state {
	case stateInit:
		e.enterState(stateHello)
		return Data, nil

	case stateEntry:
		child := e.currentChildNode()
		if child == nil {
			return 0, xerrors.Errorf("step entry: %w", ErrMisuse)
		}
		if child.st.isDir() || child.st.isRegular() {
			if err := e.enterChild(); err != nil {
				return 0, err
			}
			e.enterState(stateInit)
			return e.Step()
		}
		fallthrough

	case statePostChild:
		n.direntIdx++
		fallthrough

	case stateHello:
		name, ok := n.currentDirent()
		if !ok {
			e.enterState(stateGoodbye)
			return Data, nil
		}
		if err := e.openChild(n, name); err != nil {
			return 0, err
		}
		e.enterState(stateEntry)
		return NextFile, nil

	case stateGoodbye:
		e.enterState(stateEOF)
		return Finished, nil

	default:
		return 0, xerrors.Errorf("step directory: invalid state %d: %w", e.state, ErrMisuse)
	}
}

func (e *Encoder) payloadSize(n *node) (uint64, error) {
	switch {
	case n.st.isRegular():
		return uint64(n.st.size), nil
	case n.st.isBlockDev():
		if err := n.readDeviceSize(); err != nil {
			return 0, err
		}
		return n.deviceSize, nil
	default:
		return 0, xerrors.Errorf("payload size: %w", ErrUnsupportedKind)
	}
}

// GetData lazily fills and returns the encoder's current chunk (spec.md
// §4.4). The returned slice is only valid until the next Step call, which
// implicitly discards it.
func (e *Encoder) GetData() ([]byte, error) {
	n := e.currentNode()
	if n == nil {
		return nil, xerrors.Errorf("get data: no current node: %w", ErrMisuse)
	}

	var err error
	switch {
	case n.st.isRegular() || n.st.isBlockDev():
		if e.state != stateInit {
			return nil, xerrors.Errorf("get data: wrong state: %w", ErrMisuse)
		}
		err = e.fillPayload(n)

	case n.st.isDir():
		switch e.state {
		case stateHello:
			err = e.fillHello()
		case stateEntry:
			err = e.fillEntry(n)
		case stateGoodbye:
			err = e.fillGoodbye()
		default:
			return nil, xerrors.Errorf("get data: wrong state: %w", ErrMisuse)
		}

	default:
		return nil, xerrors.Errorf("get data: %w", ErrUnsupportedKind)
	}

	if err != nil {
		e.buffer.Empty()
		return nil, err
	}

	e.stepSize = uint64(e.buffer.Len())
	return e.buffer.Bytes(), nil
}
