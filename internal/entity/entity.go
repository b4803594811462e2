package entity

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/dispatch"
	"github.com/oebus/fansync/internal/model"
	"github.com/oebus/fansync/internal/pending"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/tracker"
)

// FanParam is one observer: a single parameter on a single device, exposed to
// consumers as a numeric value with optimistic write feedback.
type FanParam struct {
	deviceID string
	meta     model.ParamMeta

	store *store.ParamStore
	disp  *dispatch.Dispatcher
	trk   *tracker.Tracker
	ctl   *pending.Controller

	mu       sync.Mutex
	sub      dispatch.Subscription
	attached bool
}

func NewFanParam(deviceID string, meta model.ParamMeta, st *store.ParamStore, disp *dispatch.Dispatcher, trk *tracker.Tracker, pendingTimeout time.Duration) *FanParam {
	e := &FanParam{
		deviceID: deviceID,
		meta:     meta,
		store:    st,
		disp:     disp,
		trk:      trk,
	}
	e.ctl = pending.NewController(pendingTimeout, e.storeDisplayValue)
	return e
}

func (e *FanParam) DeviceID() string      { return e.deviceID }
func (e *FanParam) ParamID() string       { return e.meta.ID }
func (e *FanParam) Meta() model.ParamMeta { return e.meta }

// Attach subscribes to change notifications and then pulls the store once.
// The pull is not optional: events fired before the subscription existed were
// dropped, and this is the only way to observe their result.
//
// Attach never solicits the device itself. Reads for parameters with no
// stored value go through the manager's paced sweep; firing one read per
// observer here would put a burst of unspaced commands on the RF link.
func (e *FanParam) Attach() {
	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return
	}
	e.sub = e.disp.Subscribe(e.deviceID, e.meta.ID, e.onChange)
	e.attached = true
	e.mu.Unlock()

	log.Debug().
		Str("device_id", e.deviceID).
		Str("param_id", e.meta.ID).
		Msg("Observer attached")
}

// Detach unsubscribes and synchronously cancels any armed pending timer so
// nothing fires into a dead observer.
func (e *FanParam) Detach() {
	e.mu.Lock()
	if !e.attached {
		e.mu.Unlock()
		return
	}
	sub := e.sub
	e.attached = false
	e.mu.Unlock()

	e.disp.Unsubscribe(sub)
	e.ctl.Cancel()

	log.Debug().
		Str("device_id", e.deviceID).
		Str("param_id", e.meta.ID).
		Msg("Observer detached")
}

// Write issues an optimistic write of a display-scaled value.
func (e *FanParam) Write(value float64, fromID string) error {
	return e.trk.Write(tracker.WriteRequest{
		DeviceID: e.deviceID,
		ParamID:  e.meta.ID,
		Value:    value,
		FromID:   fromID,
		Pending:  e.ctl,
	})
}

// Value returns the display value: the pending target while a write is
// outstanding, otherwise the store's last-known value.
func (e *FanParam) Value() (float64, bool) {
	return e.ctl.DisplayValue()
}

// Available reports whether any authoritative value has ever been seen.
func (e *FanParam) Available() bool {
	_, ok := e.store.Get(e.deviceID, e.meta.ID)
	return ok
}

// Pending reports whether a write is awaiting confirmation.
func (e *FanParam) Pending() bool {
	return e.ctl.Pending()
}

func (e *FanParam) onChange(_ string, rec model.ParamRecord) {
	e.ctl.Confirm(e.meta.DisplayValue(rec.RawValue), rec.LastUpdated)
}

func (e *FanParam) storeDisplayValue() (float64, bool) {
	rec, ok := e.store.Get(e.deviceID, e.meta.ID)
	if !ok {
		return 0, false
	}
	return e.meta.DisplayValue(rec.RawValue), true
}
