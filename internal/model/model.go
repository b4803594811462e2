package model

import (
	"regexp"
	"sort"
	"time"
)

// Device IDs are printed as class:serial, e.g. "32:153289".
var deviceIDPattern = regexp.MustCompile(`^\d{2}:\d{6}$`)

func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// ParamRecord is the last-known authoritative value of one parameter on one
// device. Records are only mutated when a confirming message is seen on the
// device log; a write request never touches them directly.
type ParamRecord struct {
	ParamID     string    `json:"param_id"`
	RawValue    float64   `json:"raw_value"`
	Supported   bool      `json:"supported"`
	LastUpdated time.Time `json:"last_updated"`
}

// ParamMeta describes a single fan parameter: its numeric range and how its
// raw value maps to a display value.
type ParamMeta struct {
	ID          string
	Description string
	Min         float64 // raw range, as carried on the wire
	Max         float64
	Precision   float64
	Unit        string

	// Percentage parameters are stored 0.0-1.0 and displayed 0-100.
	Percentage bool

	// SendRaw parameters take the display value on the wire unscaled
	// (the boost rate quirk).
	SendRaw bool
}

// Params is the fan parameter table. Devices that speak the parameter
// protocol support this set; per-device support is tracked in the store.
var Params = map[string]ParamMeta{
	"31": {ID: "31", Description: "Filter replacement timer", Min: 0, Max: 255, Precision: 1, Unit: "day"},
	"4E": {ID: "4E", Description: "Low speed fan rate", Min: 0, Max: 1, Precision: 0.01, Unit: "%", Percentage: true},
	"4F": {ID: "4F", Description: "Medium speed fan rate", Min: 0, Max: 1, Precision: 0.01, Unit: "%", Percentage: true},
	"50": {ID: "50", Description: "High speed fan rate", Min: 0, Max: 1, Precision: 0.01, Unit: "%", Percentage: true},
	"52": {ID: "52", Description: "Moisture sensor sensitivity", Min: 0, Max: 100, Precision: 1, Unit: "%"},
	"54": {ID: "54", Description: "Moisture sensor overrun time", Min: 0, Max: 60, Precision: 1, Unit: "min"},
	"75": {ID: "75", Description: "Comfort temperature", Min: 0, Max: 30, Precision: 0.1, Unit: "°C"},
	"95": {ID: "95", Description: "Boost mode fan rate", Min: 0, Max: 1, Precision: 0.01, Unit: "%", Percentage: true, SendRaw: true},
}

// ParamIDs returns the parameter ids in a stable order, for read-all sweeps
// and deterministic tests.
func ParamIDs() []string {
	ids := make([]string, 0, len(Params))
	for id := range Params {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DisplayValue converts a raw stored value to its user-facing form.
func (m ParamMeta) DisplayValue(raw float64) float64 {
	if m.Percentage {
		return roundTo(raw*100.0, 1)
	}
	return raw
}

// RawFromDisplay converts a user-facing value to the raw form sent on the
// wire and held in the store.
func (m ParamMeta) RawFromDisplay(display float64) float64 {
	if m.SendRaw {
		return display
	}
	if m.Percentage {
		return display / 100.0
	}
	return display
}

func (m ParamMeta) DisplayMin() float64 {
	if m.Percentage {
		return m.Min * 100.0
	}
	return m.Min
}

func (m ParamMeta) DisplayMax() float64 {
	if m.Percentage {
		return m.Max * 100.0
	}
	return m.Max
}

// DisplayStep is the user-facing step size.
func (m ParamMeta) DisplayStep() float64 {
	if m.Percentage {
		return m.Precision * 100.0
	}
	return m.Precision
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
