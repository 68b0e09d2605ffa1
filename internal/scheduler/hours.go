package scheduler

import (
	"fmt"
	"time"

	"github.com/squeezewatch/squeezewatch/internal/config"
)

// MarketHours is an operating window: a set of weekdays and an inclusive
// hour range, evaluated in Location.
type MarketHours struct {
	Location  *time.Location
	Days      []time.Weekday
	StartHour int
	EndHour   int
}

// Admits is the pure window predicate over local weekday and hour.
func (m MarketHours) Admits(day time.Weekday, hour int) bool {
	if hour < m.StartHour || hour > m.EndHour {
		return false
	}
	for _, d := range m.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Open reports whether t falls inside the window.
func (m MarketHours) Open(t time.Time) bool {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return m.Admits(lt.Weekday(), lt.Hour())
}

// GateFromConfig builds the scheduler gate described by cfg.
func GateFromConfig(cfg config.MarketHoursConfig) (Gate, error) {
	if cfg.AlwaysOpen {
		return Always, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler: market hours timezone: %w", err)
	}
	days, err := cfg.Weekdays()
	if err != nil {
		return nil, fmt.Errorf("scheduler: market hours days: %w", err)
	}
	m := MarketHours{Location: loc, Days: days, StartHour: cfg.StartHour, EndHour: cfg.EndHour}
	return m.Open, nil
}
