package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	var r Registry
	require.NoError(t, r.Acquire("a"))
	assert.True(t, r.Held("a"))

	err := r.Acquire("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, r.Acquire("b"))
	r.Release("a")
	r.Release("a")
	assert.False(t, r.Held("a"))
	require.NoError(t, r.Acquire("a"))
}

func TestDedup(t *testing.T) {
	t.Parallel()

	in := []Info{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "a", Name: "A again"}, {ID: "c", Name: "C"}}
	out := Dedup(in)
	assert.Equal(t, []Info{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}}, out)
}

func TestStateRaw(t *testing.T) {
	t.Parallel()

	s := State{Axes: [6]int{1, 2, 3, 4, 5, 6}, Sliders: []int{100}}

	v, ok := s.Raw(axis.Ordinary(2))
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = s.Raw(axis.Slider(0))
	assert.True(t, ok)
	assert.Equal(t, 100, v)

	_, ok = s.Raw(axis.Slider(1))
	assert.False(t, ok)
	_, ok = s.Raw(axis.Ordinary(6))
	assert.False(t, ok)
	_, ok = s.Raw(axis.Ordinary(-1))
	assert.False(t, ok)
}

func TestMockBackend_PollLatchesState(t *testing.T) {
	t.Parallel()

	dev := NewMockDevice("pedals", "Pedals", 1)
	b := NewMockBackend(dev)

	h, err := b.Open("pedals")
	require.NoError(t, err)
	defer b.Release(h)

	dev.Set(axis.Ordinary(1), 1234)
	dev.Set(axis.Slider(0), -500)

	st, err := h.State()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Axes[1], "state must be stale until polled")

	require.NoError(t, h.Poll())
	st, err = h.State()
	require.NoError(t, err)
	assert.Equal(t, 1234, st.Axes[1])
	assert.Equal(t, []int{-500}, st.Sliders)
	assert.Equal(t, 1, dev.Polls())
}

func TestMockBackend_Exclusive(t *testing.T) {
	t.Parallel()

	b := NewMockBackend(NewMockDevice("pedals", "Pedals", 0))

	h, err := b.Open("pedals")
	require.NoError(t, err)
	assert.True(t, b.Held("pedals"))

	_, err = b.Open("pedals")
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, b.Release(h))
	require.NoError(t, b.Release(h), "double release is a no-op")
	assert.False(t, b.Held("pedals"))
	assert.ErrorIs(t, h.Poll(), ErrUnavailable)

	h2, err := b.Open("pedals")
	require.NoError(t, err)
	require.NoError(t, b.Release(h2))

	_, err = b.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockBackend_Errors(t *testing.T) {
	t.Parallel()

	dev := NewMockDevice("pedals", "Pedals", 0)
	b := NewMockBackend(dev)

	boom := errors.New("boom")
	b.SetEnumerateError(boom)
	_, err := b.Enumerate()
	assert.ErrorIs(t, err, boom)
	b.SetEnumerateError(nil)

	dev.SetOpenError(ErrUnavailable)
	_, err = b.Open("pedals")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, b.Held("pedals"))
	dev.SetOpenError(nil)

	h, err := b.Open("pedals")
	require.NoError(t, err)
	dev.SetPollError(boom)
	assert.ErrorIs(t, h.Poll(), boom)
	require.NoError(t, b.Release(h))

	b.Remove("pedals")
	infos, err := b.Enumerate()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
