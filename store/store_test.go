package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/flexradio/flexcore/control"
)

var now = time.Unix(0, 0)

func apply(t *testing.T, s *Store, line string) []StateChange {
	t.Helper()
	return s.Apply(control.Parse(line, now))
}

func TestApplySliceUpsertAndFrequency(t *testing.T) {
	s := New(nil, nil)
	changes := apply(t, s, "S3A5E996B|slice 0 in_use=1 sample_rate=24000 RF_frequency=15.000000 mode=USB pan=0x40000000")
	require.Len(t, changes, 1) // no panadapter entity yet, so the derived attach is a no-op

	sl, err := s.GetSlice("0")
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000), sl.FrequencyHz())
	assert.Equal(t, int64(24000), sl.SampleRateHz)
	assert.Equal(t, "USB", sl.Mode)
	assert.True(t, sl.InUse)
	assert.Equal(t, "0x40000000", sl.PanadapterStreamID)
	assert.Equal(t, "15.000000", sl.Raw["RF_frequency"])
}

func TestApplyMeterStatus(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S3A5E996B|meter 1.src=TX-#1.num=0#1.nam=PWRFWD#1.low=0.0#1.hi=100.0#1.unit=SWR#1.fps=10")

	m, err := s.GetMeter("1")
	require.NoError(t, err)
	assert.Equal(t, "TX-", m.Source)
	assert.Equal(t, "PWRFWD", m.Name)
	assert.Equal(t, UnitsSWR, m.Units)
	assert.Equal(t, 10, m.FPS)
}

func TestApplyWaterfallLineDuration(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S3A5E996B|display waterfall 0x40000001 line_duration=100")

	w, err := s.GetWaterfall("0x40000001")
	require.NoError(t, err)
	assert.Equal(t, 100, w.LineSpeed)
	assert.Equal(t, 40, w.LineDurationMs())
}

func TestSliceAttachesToPanadapterAndDerivesAttachedSlices(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|display pan 0x40000000 x_pixels=800 y_pixels=400")
	apply(t, s, "S2|slice 0 pan=0x40000000")

	pan, err := s.GetPanadapter("0x40000000")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0"}, pan.AttachedSlices)

	apply(t, s, "S3|slice 0 removed")
	pan, err = s.GetPanadapter("0x40000000")
	require.NoError(t, err)
	assert.Empty(t, pan.AttachedSlices)
}

func TestSliceReattachmentMovesBetweenPanadapters(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|display pan 0x40000000")
	apply(t, s, "S2|display pan 0x40000001")
	apply(t, s, "S3|slice 0 pan=0x40000000")
	apply(t, s, "S4|slice 0 pan=0x40000001")

	a, _ := s.GetPanadapter("0x40000000")
	b, _ := s.GetPanadapter("0x40000001")
	assert.Empty(t, a.AttachedSlices)
	assert.Equal(t, []string{"0"}, b.AttachedSlices)
}

func TestRemovalIsTerminal(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|slice 0 mode=USB")
	changes := apply(t, s, "S2|slice 0 removed")
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Removed)

	_, err := s.GetSlice("0")
	require.Error(t, err)
	var unavailable *ErrStateUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestGetUnknownEntityReturnsStateUnavailable(t *testing.T) {
	s := New(nil, nil)
	_, err := s.GetSlice("9")
	require.Error(t, err)
}

func TestApplyEmitsOnEntityAndWildcardTopics(t *testing.T) {
	s := New(nil, nil)
	var exact, wild int
	s.Subscribe(KindSlice, "0", func(StateChange) { exact++ })
	s.Subscribe(KindSlice, "", func(StateChange) { wild++ })

	apply(t, s, "S1|slice 0 mode=USB")
	apply(t, s, "S2|slice 1 mode=CW")

	assert.Equal(t, 1, exact)
	assert.Equal(t, 2, wild)
}

// Idempotent status application: applying the same attribute value twice
// in a row produces a second diff with no changed fields.
func TestIdempotentStatusApplication(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|slice 0 mode=USB")
	changes := apply(t, s, "S2|slice 0 mode=USB")
	require.Len(t, changes, 1)
	assert.Empty(t, changes[0].Changed)
}

// Raw accumulates every attribute ever observed for an entity and never
// loses a key on a later partial update.
func TestRawIsMonotonic(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|slice 0 mode=USB")
	apply(t, s, "S2|slice 0 RF_frequency=14.200000")

	sl, err := s.GetSlice("0")
	require.NoError(t, err)
	assert.Equal(t, "USB", sl.Raw["mode"])
	assert.Equal(t, "14.200000", sl.Raw["RF_frequency"])
}

func TestUnclassifiedSourceFallsBackToRadio(t *testing.T) {
	s := New(nil, nil)
	apply(t, s, "S1|unknown_source callsign=W1AW")
	r, err := s.GetRadio()
	require.NoError(t, err)
	assert.Equal(t, "W1AW", r.Callsign)
}

func TestApplyPropertyRawNeverLosesAnObservedKey(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(nil, nil)
		n := rapid.IntRange(1, 6).Draw(rt, "updates")
		for i := 0; i < n; i++ {
			freq := rapid.SampledFrom([]string{"1.000000", "14.200000", "28.500000"}).Draw(rt, "f")
			s.Apply(control.Parse("S1|slice 0 RF_frequency="+freq, now))
		}
		if n == 0 {
			return
		}
		sl, err := s.GetSlice("0")
		if err != nil {
			rt.Fatalf("GetSlice: %v", err)
		}
		if _, ok := sl.Raw["RF_frequency"]; !ok {
			rt.Fatalf("Raw missing RF_frequency after %d updates", n)
		}
	})
}
