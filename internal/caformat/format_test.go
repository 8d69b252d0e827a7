package caformat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeFlagsRejectsUnknownBits(t *testing.T) {
	_, _, err := NormalizeFlags(1 << 63)
	if err == nil {
		t.Fatal("expected an error for an out-of-range flag bit")
	}
}

func TestNormalizeFlagsUIDGIDWidthPrecedence(t *testing.T) {
	flags, _, err := NormalizeFlags(WithUIDGID16Bit | WithUIDGID32Bit)
	if err != nil {
		t.Fatal(err)
	}
	if flags&WithUIDGID16Bit != 0 {
		t.Errorf("16-bit flag survived alongside 32-bit: %#x", flags)
	}
	if flags&WithUIDGID32Bit == 0 {
		t.Errorf("32-bit flag did not survive: %#x", flags)
	}
}

func TestNormalizeFlagsTimeGranularityPrecedence(t *testing.T) {
	cases := []struct {
		name        string
		flags       uint64
		granularity uint64
	}{
		{"none set", 0, GranularityNsec},
		{"2sec only", WithTimes2Sec, Granularity2Sec},
		{"sec wins over 2sec", WithTimesSec | WithTimes2Sec, GranularitySec},
		{"usec wins over sec and 2sec", WithTimesUsec | WithTimesSec | WithTimes2Sec, GranularityUsec},
		{"nsec wins over everything", WithTimesNsec | WithTimesUsec | WithTimesSec | WithTimes2Sec, GranularityNsec},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, granularity, err := NormalizeFlags(tc.flags)
			if err != nil {
				t.Fatal(err)
			}
			if granularity != tc.granularity {
				t.Errorf("granularity = %d, want %d", granularity, tc.granularity)
			}
			// Exactly one (or zero) time flag should survive normalization.
			survivors := normalized & (WithTimesNsec | WithTimesUsec | WithTimesSec | WithTimes2Sec)
			if tc.flags != 0 {
				if survivors == 0 || survivors&(survivors-1) != 0 {
					t.Errorf("expected exactly one surviving time flag, got %#x", survivors)
				}
			}
		})
	}
}

func TestNormalizeFlagsPermissionsOverridesReadOnly(t *testing.T) {
	flags, _, err := NormalizeFlags(WithPermissions | WithReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	if flags&WithReadOnly != 0 {
		t.Errorf("WithReadOnly survived alongside WithPermissions: %#x", flags)
	}
}

func TestNormalizeFlagsIdempotent(t *testing.T) {
	once, g1, err := NormalizeFlags(WithBest)
	if err != nil {
		t.Fatal(err)
	}
	twice, g2, err := NormalizeFlags(once)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("normalization not idempotent (-once +twice):\n%s", diff)
	}
	if g1 != g2 {
		t.Errorf("granularity not idempotent: %d != %d", g1, g2)
	}
}

func TestQuantizeTime(t *testing.T) {
	const m = 1_234_567_890_123_456_789
	cases := []struct {
		granularity uint64
		want        uint64
	}{
		{GranularityNsec, m},
		{GranularityUsec, 1_234_567_890_123_456_000},
		{GranularitySec, 1_234_567_890_000_000_000},
		{Granularity2Sec, 1_234_567_890_000_000_000},
	}
	for _, tc := range cases {
		if got := QuantizeTime(m, tc.granularity); got != tc.want {
			t.Errorf("QuantizeTime(%d, %d) = %d, want %d", m, tc.granularity, got, tc.want)
		}
	}
}
