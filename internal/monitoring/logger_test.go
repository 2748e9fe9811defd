package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("poller: %s", "tick")
	assert.Equal(t, []string{"poller: tick"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("ignored %d", 1) })
	assert.Len(t, got, 1)
}
