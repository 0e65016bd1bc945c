package booking

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Locations resolves organization timezones, falling back to Default and
// then to UTC. Loaded zones are cached.
type Locations struct {
	Default string
	Logger  zerolog.Logger

	cache sync.Map
}

func NewLocations(def string, logger zerolog.Logger) *Locations {
	return &Locations{Default: def, Logger: logger}
}

func (l *Locations) For(tz string) *time.Location {
	for _, name := range []string{tz, l.Default} {
		if name == "" {
			continue
		}
		if v, ok := l.cache.Load(name); ok {
			return v.(*time.Location)
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			l.Logger.Warn().Err(err).Str("timezone", name).Msg("unknown timezone")
			continue
		}
		l.cache.Store(name, loc)
		return loc
	}
	return time.UTC
}
