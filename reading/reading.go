// Package reading defines the consumption data model and turns a DOM
// snapshot into typed readings.
//
// A Snapshot is immutable once built: Build copies its input and nothing in
// this package mutates a Snapshot afterwards. Each extraction cycle builds a
// fresh one.
package reading

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// DefaultUnit is used when a consumption line carries no unit label.
const DefaultUnit = "kWh"

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Value is either a parsed number or the Unparseable sentinel.
// The zero Value is Unparseable.
type Value struct {
	f  float64
	ok bool
}

// Numeric wraps a parsed number. NaN becomes Unparseable.
func Numeric(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{f: f, ok: true}
}

// Unparseable is the value of a reading whose text was not numeric.
func Unparseable() Value { return Value{} }

// Float returns the number and whether the value is numeric.
func (v Value) Float() (float64, bool) { return v.f, v.ok }

// IsUnparseable reports whether the source text failed numeric parsing.
func (v Value) IsUnparseable() bool { return !v.ok }

// MarshalJSON writes a number, or null for Unparseable and infinities.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok || math.IsInf(v.f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.f)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Unparseable()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Numeric(f)
	return nil
}

// Reading is one consumption line.
type Reading struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
	Unit  string `json:"unit"`
}

// Snapshot is the timestamped, ordered set of readings from one extraction.
type Snapshot struct {
	Timestamp string    `json:"timestamp"`
	Devices   []Reading `json:"devices"`
}

// MarshalJSON keeps "devices" an array even when empty.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	p := plain(s)
	if p.Devices == nil {
		p.Devices = []Reading{}
	}
	return json.Marshal(p)
}

// Time parses the snapshot timestamp.
func (s Snapshot) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, s.Timestamp)
}

// Clock supplies the extraction wall-clock time.
type Clock func() time.Time

// Build wraps readings with the current time. It is pure apart from
// reading the clock; the returned Snapshot owns its own slice.
func Build(readings []Reading, clock Clock) Snapshot {
	if clock == nil {
		clock = time.Now
	}
	devices := make([]Reading, len(readings))
	copy(devices, readings)
	return Snapshot{
		Timestamp: clock().UTC().Format(TimestampLayout),
		Devices:   devices,
	}
}
