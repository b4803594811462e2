package source

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/model"
)

// ErrNoViableSource means no identity can originate the operation. Fatal to
// the single call, not to the session.
var ErrNoViableSource = errors.New("no viable source device: need an explicit from_id, a bound REM/DIS device, or a configured gateway")

// Resolver picks the local identity that originates a parameter command.
// Fan units on this hardware class cannot reliably answer their own read
// requests, so a second party always fronts the operation.
type Resolver struct {
	bindings  map[string]string
	gatewayID string
}

// New builds a resolver over the configured binding table and optional
// gateway identity. Both are fixed for the lifetime of the session.
func New(bindings map[string]string, gatewayID string) *Resolver {
	b := make(map[string]string, len(bindings))
	for fan, bound := range bindings {
		b[fan] = bound
	}
	return &Resolver{bindings: b, gatewayID: gatewayID}
}

// Resolve returns the originating identity for an operation against fanID,
// in priority order: explicit override, configured binding, gateway.
func (r *Resolver) Resolve(fanID, explicitFromID string) (string, error) {
	if explicitFromID != "" {
		if !model.ValidDeviceID(explicitFromID) {
			log.Warn().
				Str("device_id", fanID).
				Str("from_id", explicitFromID).
				Msg("Ignoring malformed explicit from_id")
		} else {
			return explicitFromID, nil
		}
	}

	if bound, ok := r.bindings[fanID]; ok && bound != "" {
		return bound, nil
	}

	if r.gatewayID != "" {
		log.Debug().
			Str("device_id", fanID).
			Str("from_id", r.gatewayID).
			Msg("No explicit or bound from_id, using gateway id")
		return r.gatewayID, nil
	}

	return "", ErrNoViableSource
}

// BoundDevice reports the configured binding for a fan, if any.
func (r *Resolver) BoundDevice(fanID string) (string, bool) {
	bound, ok := r.bindings[fanID]
	return bound, ok && bound != ""
}
