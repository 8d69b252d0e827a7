// Package caformat defines the on-disk record layout of the archive format
// this module encodes (see spec.md §6 EXTERNAL INTERFACES): record headers,
// the HELLO/ENTRY/PAYLOAD/SYMLINK/DEVICE/GOODBYE record types, and the
// feature-flags bitmask stamped into HELLO.
//
// The retrieval pack's original_source/ only kept caencoder.c and util.h —
// not the format registry header (caformat.h) that defines the numeric
// record-type constants upstream. The values below are this module's own
// fixed registry rather than a transcription of the upstream one; they are
// internally consistent and documented here so an encoder and a future
// decoder built against this package agree on the wire, which is all
// spec.md §6 requires ("pin them to the same constants used on the wire").
package caformat

import "golang.org/x/xerrors"

// RecordType identifies the kind of a record; it is the first 8 bytes of
// every record's header, little-endian on the wire.
type RecordType uint64

const (
	TypeHello   RecordType = 0x9d1c9a7b4c2e8f01
	TypeEntry   RecordType = 0x6fb314a9e2d0c753
	TypePayload RecordType = 0x8b2f5e6dce9a1074
	TypeSymlink RecordType = 0x2a7d40bf916c5e38
	TypeDevice  RecordType = 0xe453a1f08c276dd9
	TypeGoodbye RecordType = 0x4c8e0d2b7f93a651
)

func (t RecordType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeEntry:
		return "ENTRY"
	case TypePayload:
		return "PAYLOAD"
	case TypeSymlink:
		return "SYMLINK"
	case TypeDevice:
		return "DEVICE"
	case TypeGoodbye:
		return "GOODBYE"
	default:
		return "UNKNOWN"
	}
}

// HelloUUIDPart2 is the fixed constant stamped into every HELLO record,
// identifying the format family. Like the record type values above, this is
// this module's own registry entry, not a transcription of an upstream one.
const HelloUUIDPart2 uint64 = 0x5a1e6b9d2c4f7038

// HeaderSize is the size in bytes of the 16-byte record header common to
// every record: {type u64, size u64}, both little-endian.
const HeaderSize = 16

// HelloSize is the fixed size of a HELLO record: header + uuid_part2 +
// feature_flags, three little-endian u64 fields.
const HelloSize = HeaderSize + 8 + 8

// EntryFixedSize is the size of an ENTRY record's fixed-width fields (mode,
// uid, gid, mtime), not counting the header or the trailing name.
const EntryFixedSize = 8 + 8 + 8 + 8

// DeviceSize is the fixed size of a DEVICE record: header + major + minor.
const DeviceSize = HeaderSize + 8 + 8

// GoodbyeEntrySize is the size of a single Goodbye table entry.
const GoodbyeEntrySize = 8

// GoodbyeSize is the size of the degenerate single-entry Goodbye record this
// encoder writes: header + one table entry, per spec.md §4.4.
const GoodbyeSize = HeaderSize + GoodbyeEntrySize

// Feature flags, as persisted into HELLO and used to gate which metadata
// and child kinds the encoder will emit. See spec.md §6.
const (
	WithUIDGID16Bit uint64 = 1 << iota
	WithUIDGID32Bit
	WithTimesNsec
	WithTimesUsec
	WithTimesSec
	WithTimes2Sec
	WithPermissions
	WithReadOnly
	WithSymlinks
	WithDeviceNodes
	WithFIFOs
	WithSockets
)

// FeatureFlagsMax is the bitwise-or of every flag this registry defines.
// Requesting any bit outside of it is rejected (spec.md §6).
const FeatureFlagsMax = WithUIDGID16Bit | WithUIDGID32Bit |
	WithTimesNsec | WithTimesUsec | WithTimesSec | WithTimes2Sec |
	WithPermissions | WithReadOnly |
	WithSymlinks | WithDeviceNodes | WithFIFOs | WithSockets

// WithBest is the default convenience superset: the highest-fidelity,
// widest-compatibility set of flags (spec.md §6, §9 Open Questions — the
// exact composition is environment-defined in the format registry). This
// registry defines it as every flag that survives the precedence rules in
// NormalizeFlags: 32-bit uid/gid, nanosecond times, exact permissions and
// every optional child kind. WithUIDGID16Bit, the coarser WithTimes* flags
// and WithReadOnly are not part of it.
const WithBest = WithUIDGID32Bit | WithTimesNsec | WithPermissions |
	WithSymlinks | WithDeviceNodes | WithFIFOs | WithSockets

// Nanosecond time-quantization granularities, selected by exactly one of the
// WithTimes* flags (spec.md §4.1).
const (
	GranularityNsec  uint64 = 1
	GranularityUsec  uint64 = 1_000
	GranularitySec   uint64 = 1_000_000_000
	Granularity2Sec  uint64 = 2_000_000_000
	DefaultGranularity = GranularityNsec
)

// ErrUnsupportedFlags is returned by NormalizeFlags when the requested mask
// contains bits outside FeatureFlagsMax.
var ErrUnsupportedFlags = xerrors.New("caformat: unsupported feature flags requested")

// NormalizeFlags validates flags against FeatureFlagsMax and applies the
// precedence rules from spec.md §4.1, from narrower to wider:
//
//  1. If both UID/GID width flags are set, the 32-bit one wins.
//  2. Exactly one time granularity flag survives, nsec > usec > sec > 2sec;
//     the granularity it implies is returned alongside the normalized mask.
//     If none is set, the default granularity is nanosecond-resolution.
//  3. WithPermissions overrides WithReadOnly.
//
// Normalization is deterministic and idempotent: calling NormalizeFlags on
// its own output returns the same output.
func NormalizeFlags(flags uint64) (normalized uint64, granularity uint64, err error) {
	if flags&^uint64(FeatureFlagsMax) != 0 {
		return 0, 0, xerrors.Errorf("flags %#x: %w", flags, ErrUnsupportedFlags)
	}

	if flags&WithUIDGID32Bit != 0 {
		flags &^= WithUIDGID16Bit
	}

	granularity = DefaultGranularity
	switch {
	case flags&WithTimesNsec != 0:
		flags &^= WithTimesUsec | WithTimesSec | WithTimes2Sec
		granularity = GranularityNsec
	case flags&WithTimesUsec != 0:
		flags &^= WithTimesSec | WithTimes2Sec
		granularity = GranularityUsec
	case flags&WithTimesSec != 0:
		flags &^= WithTimes2Sec
		granularity = GranularitySec
	case flags&WithTimes2Sec != 0:
		granularity = Granularity2Sec
	}

	if flags&WithPermissions != 0 {
		flags &^= WithReadOnly
	}

	return flags, granularity, nil
}

// QuantizeTime applies the granularity g to nanosecond timestamp m, per
// spec.md §8's quantization property: (m / g) * g using integer division.
func QuantizeTime(m, g uint64) uint64 {
	return (m / g) * g
}
