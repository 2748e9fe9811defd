package axis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Normalize(RawMin))
	assert.Equal(t, 0.5, Normalize(0))
	assert.InDelta(t, 1.0, Normalize(RawMax), 1e-4)

	t.Run("clamps out of range", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, Normalize(-70000))
		assert.Equal(t, 1.0, Normalize(70000))
		assert.Equal(t, 1.0, Normalize(32768))
	})
}

func TestLegacyRoundTrip(t *testing.T) {
	t.Parallel()

	for i := 0; i < AxisCount; i++ {
		s := Ordinary(i)
		assert.Equal(t, i, s.Legacy())
		assert.Equal(t, s, FromLegacy(s.Legacy()))
	}
	for i := 0; i < 4; i++ {
		s := Slider(i)
		assert.Equal(t, 100+i, s.Legacy())
		assert.True(t, FromLegacy(s.Legacy()).IsSlider())
		assert.Equal(t, s, FromLegacy(s.Legacy()))
	}
}

func TestSelectorString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "X Axis", Ordinary(0).String())
	assert.Equal(t, "Rotation Z", Ordinary(5).String())
	assert.Equal(t, "Axis 9", Ordinary(9).String())
	assert.Equal(t, "Slider 1", Slider(1).String())
}

func TestSelectorValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Ordinary(0).Valid())
	assert.True(t, Ordinary(5).Valid())
	assert.True(t, FromLegacy(103).Valid())
	assert.False(t, Ordinary(6).Valid())
	assert.False(t, FromLegacy(-1).Valid())
	assert.False(t, FromLegacy(42).Valid())
}

func TestSelectorJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		Axis Selector `json:"axis"`
	}{Slider(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"axis":102}`, string(b))

	var got struct {
		Axis Selector `json:"axis"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"axis":4}`), &got))
	assert.Equal(t, Ordinary(4), got.Axis)

	assert.Error(t, json.Unmarshal([]byte(`{"axis":"x"}`), &got))
}
