package kde

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bgsub/internal/testutil"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	m := newModel(t, 6, 5, 1, testParams(6))

	_, err := m.Snapshot()
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Nil(t, m.Bandwidths())

	for i := 0; i < 6; i++ {
		learn(t, m, testutil.NoisyFrame(6, 5, 128, 10, i))
	}
	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Rows)
	assert.Equal(t, 5, snap.Cols)
	assert.Equal(t, 1, snap.Channels)
	assert.Equal(t, 6, snap.Frame)
	assert.Equal(t, DefaultBandwidthBins, snap.KernelBins)

	bins, err := DecodeBandwidthBins(snap.BinsBlob)
	require.NoError(t, err)
	assert.Equal(t, m.bwBins, bins)

	bw, err := snap.Bandwidths()
	require.NoError(t, err)
	want := m.Bandwidths()
	require.Len(t, bw, len(want))
	for i := range want {
		assert.InDelta(t, want[i], bw[i], 1e-12)
	}
}

func TestDecodeBandwidthBins_Errors(t *testing.T) {
	t.Parallel()
	_, err := DecodeBandwidthBins(nil)
	assert.Error(t, err)
	_, err = DecodeBandwidthBins([]byte("not gzip"))
	assert.Error(t, err)

	snap := &BandwidthSnapshot{BinsBlob: []byte{1}}
	_, err = snap.Bandwidths()
	assert.Error(t, err)
}
