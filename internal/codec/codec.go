// Package codec translates between parameter operations and the JSON frame
// envelope the gateway bridge carries on its MQTT topics. The RF wire format
// itself lives in the gateway firmware; this is the bridge contract only.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oebus/fansync/internal/model"
)

const CodeFanParam = "2411"

// Verbs follow the protocol's request/write/reply/broadcast convention.
const (
	VerbRequest = "RQ"
	VerbWrite   = "W"
	VerbReply   = "RP"
	VerbInform  = "I"
)

// Frame is one message on the gateway bridge.
type Frame struct {
	Timestamp time.Time `json:"ts"`
	Verb      string    `json:"verb"`
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	Code      string    `json:"code"`
	ParamID   string    `json:"param_id,omitempty"`
	Value     *float64  `json:"value,omitempty"`
}

// ParamUpdate is a decoded inbound parameter value: the unit of the device
// log the store consumes.
type ParamUpdate struct {
	DeviceID  string
	ParamID   string
	Value     float64
	Timestamp time.Time
}

func EncodeRead(deviceID, paramID, fromID string) ([]byte, error) {
	return marshal(Frame{
		Timestamp: time.Now(),
		Verb:      VerbRequest,
		Src:       fromID,
		Dst:       deviceID,
		Code:      CodeFanParam,
		ParamID:   paramID,
	})
}

func EncodeWrite(deviceID, paramID string, value float64, fromID string) ([]byte, error) {
	return marshal(Frame{
		Timestamp: time.Now(),
		Verb:      VerbWrite,
		Src:       fromID,
		Dst:       deviceID,
		Code:      CodeFanParam,
		ParamID:   paramID,
		Value:     &value,
	})
}

func marshal(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// DecodeUpdate parses an inbound payload into a parameter update. Anything
// that is not a well-formed parameter reply or broadcast returns an error;
// callers drop those without raising.
func DecodeUpdate(payload []byte) (ParamUpdate, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return ParamUpdate{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Code != CodeFanParam {
		return ParamUpdate{}, fmt.Errorf("not a fan parameter frame: code %q", f.Code)
	}
	if f.Verb != VerbReply && f.Verb != VerbInform {
		return ParamUpdate{}, fmt.Errorf("not a value-bearing frame: verb %q", f.Verb)
	}
	if !model.ValidDeviceID(f.Src) {
		return ParamUpdate{}, fmt.Errorf("bad source id %q", f.Src)
	}
	if f.ParamID == "" || f.Value == nil {
		return ParamUpdate{}, fmt.Errorf("frame missing param_id or value")
	}

	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ParamUpdate{
		DeviceID:  f.Src,
		ParamID:   f.ParamID,
		Value:     *f.Value,
		Timestamp: ts,
	}, nil
}
