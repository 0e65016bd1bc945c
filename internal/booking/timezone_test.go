package booking

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocations(t *testing.T) {
	l := NewLocations("America/Mexico_City", zerolog.Nop())

	mx := l.For("")
	require.Equal(t, "America/Mexico_City", mx.String())
	assert.Same(t, mx, l.For("Not/AZone"), "unknown zones fall back to the default")
	assert.Same(t, mx, l.For("America/Mexico_City"), "loaded zones are cached")
	assert.Equal(t, "Europe/Madrid", l.For("Europe/Madrid").String())

	assert.Equal(t, time.UTC, NewLocations("", zerolog.Nop()).For("Not/AZone"))
	assert.Equal(t, time.UTC, NewLocations("Bad/Default", zerolog.Nop()).For(""))
}
