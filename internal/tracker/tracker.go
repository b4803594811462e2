package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/model"
	"github.com/oebus/fansync/internal/source"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/transport"
)

var (
	ErrUnknownParam    = errors.New("unknown parameter id")
	ErrValueOutOfRange = errors.New("value out of range")
)

// PendingSetter is the slice of the pending-value controller the tracker
// touches when issuing a write.
type PendingSetter interface {
	SetPending(value float64)
	ClearPending()
}

// Tracker issues parameter operations against devices. Every operation is
// fire-and-forget at the transport: the tracker never waits for a reply, and
// replies (if any) surface through the store and dispatcher like any other
// inbound traffic.
type Tracker struct {
	sender         transport.Sender
	resolver       *source.Resolver
	store          *store.ParamStore
	readAllSpacing time.Duration
}

func New(sender transport.Sender, resolver *source.Resolver, st *store.ParamStore, readAllSpacing time.Duration) *Tracker {
	return &Tracker{
		sender:         sender,
		resolver:       resolver,
		store:          st,
		readAllSpacing: readAllSpacing,
	}
}

// Read requests the current value of one parameter. Returns once the command
// is on the wire; the reply, if the device answers at all, arrives on the
// device log.
func (t *Tracker) Read(deviceID, paramID, fromID string) error {
	if _, ok := model.Params[paramID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, paramID)
	}

	src, err := t.resolver.Resolve(deviceID, fromID)
	if err != nil {
		return err
	}

	log.Debug().
		Str("device_id", deviceID).
		Str("param_id", paramID).
		Str("from_id", src).
		Msg("Sending parameter read")

	return t.sender.SendRead(deviceID, paramID, src)
}

// WriteRequest carries one parameter write. Value is the user-facing
// (display) value; scaling to the wire form happens here.
type WriteRequest struct {
	DeviceID string
	ParamID  string
	Value    float64
	FromID   string

	// Pending, when set, is armed with the optimistic value just before the
	// send and cleared again if the send fails.
	Pending PendingSetter
}

// Write validates, resolves a source, arms the pending state and emits the
// write command. Validation failures reject before any transport I/O. A
// transport failure after the pending state was armed clears it: a value that
// never left the machine must not be shown as pending.
func (t *Tracker) Write(req WriteRequest) error {
	meta, ok := model.Params[req.ParamID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, req.ParamID)
	}

	if req.Value < meta.DisplayMin() || req.Value > meta.DisplayMax() {
		return fmt.Errorf("%w: %s=%v, allowed %v-%v",
			ErrValueOutOfRange, req.ParamID, req.Value, meta.DisplayMin(), meta.DisplayMax())
	}

	src, err := t.resolver.Resolve(req.DeviceID, req.FromID)
	if err != nil {
		return err
	}

	wireValue := meta.RawFromDisplay(req.Value)

	log.Info().
		Str("device_id", req.DeviceID).
		Str("param_id", req.ParamID).
		Float64("value", req.Value).
		Str("from_id", src).
		Msg("Sending parameter write")

	if req.Pending != nil {
		req.Pending.SetPending(req.Value)
	}

	if err := t.sender.SendWrite(req.DeviceID, req.ParamID, wireValue, src); err != nil {
		// The optimistic value never made it onto the wire.
		if req.Pending != nil {
			req.Pending.ClearPending()
		}
		return err
	}
	return nil
}

// ReadAll sweeps every parameter the device is known to support, pacing the
// reads so the RF link is not flooded. Best effort: individual failures are
// logged and skipped, and there is no aggregate completion signal; each
// value lands via the store as and when the device answers.
func (t *Tracker) ReadAll(ctx context.Context, deviceID, fromID string) {
	params := t.store.SupportedParams(deviceID)
	if len(params) == 0 {
		// Nothing observed from this device yet; sweep the full table.
		params = model.ParamIDs()
	}

	log.Info().
		Str("device_id", deviceID).
		Int("params", len(params)).
		Msg("Requesting all parameters")

	t.readPaced(ctx, deviceID, fromID, params)
}

// ReadMissing sweeps only the parameters the store holds no value for, with
// the same pacing as ReadAll. This is the initial solicitation when a device
// first shows up: its observers need values, one paced read each, not a
// simultaneous burst.
func (t *Tracker) ReadMissing(ctx context.Context, deviceID, fromID string) {
	var params []string
	for _, paramID := range model.ParamIDs() {
		if _, ok := t.store.Get(deviceID, paramID); !ok {
			params = append(params, paramID)
		}
	}
	if len(params) == 0 {
		return
	}

	log.Info().
		Str("device_id", deviceID).
		Int("params", len(params)).
		Msg("Requesting missing parameters")

	t.readPaced(ctx, deviceID, fromID, params)
}

func (t *Tracker) readPaced(ctx context.Context, deviceID, fromID string, params []string) {
	for i, paramID := range params {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.readAllSpacing):
			}
		}
		if err := t.Read(deviceID, paramID, fromID); err != nil {
			log.Warn().Err(err).
				Str("device_id", deviceID).
				Str("param_id", paramID).
				Msg("Failed to request parameter")
		}
	}
}
