// Package dispatch fans parameter change events out to registered observers.
//
// Delivery is at-most-once with no buffering: an event emitted before a
// subscription exists is gone for that observer. That is a deliberate
// trade-off inherited from the fire-and-forget link; observers compensate by
// pulling the store once when they attach.
package dispatch

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/datadog"
	"github.com/oebus/fansync/internal/model"
)

type Callback func(deviceID string, rec model.ParamRecord)

type key struct {
	deviceID string
	paramID  string
}

// Subscription identifies one registered callback for Unsubscribe.
type Subscription struct {
	key key
	id  uint64
}

type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[key]map[uint64]Callback
}

func New() *Dispatcher {
	return &Dispatcher{
		subs: make(map[key]map[uint64]Callback),
	}
}

func (d *Dispatcher) Subscribe(deviceID, paramID string, cb Callback) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{deviceID: deviceID, paramID: paramID}
	m, ok := d.subs[k]
	if !ok {
		m = make(map[uint64]Callback)
		d.subs[k] = m
	}
	d.nextID++
	m[d.nextID] = cb

	log.Debug().
		Str("device_id", deviceID).
		Str("param_id", paramID).
		Uint64("sub_id", d.nextID).
		Msg("Observer subscribed")

	return Subscription{key: k, id: d.nextID}
}

func (d *Dispatcher) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.subs[sub.key]
	if !ok {
		return
	}
	delete(m, sub.id)
	if len(m) == 0 {
		delete(d.subs, sub.key)
	}
}

// Publish invokes every currently-registered callback for the event's
// (device, param) pair exactly once. A callback that panics is isolated so
// the remaining subscribers still run. Called synchronously from the store's
// log goroutine, which is what keeps per-key ordering.
func (d *Dispatcher) Publish(deviceID string, rec model.ParamRecord) {
	d.mu.RLock()
	m := d.subs[key{deviceID: deviceID, paramID: rec.ParamID}]
	cbs := make([]Callback, 0, len(m))
	for _, cb := range m {
		cbs = append(cbs, cb)
	}
	d.mu.RUnlock()

	if len(cbs) == 0 {
		// Nobody is listening; the event is dropped, not buffered.
		log.Debug().
			Str("device_id", deviceID).
			Str("param_id", rec.ParamID).
			Msg("Change event with no subscribers")
		return
	}

	for _, cb := range cbs {
		d.deliver(deviceID, rec, cb)
	}
	datadog.Count("dispatch.deliveries", int64(len(cbs)))
}

func (d *Dispatcher) deliver(deviceID string, rec model.ParamRecord, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("device_id", deviceID).
				Str("param_id", rec.ParamID).
				Interface("panic", r).
				Msg("Subscriber callback panicked")
			datadog.Count("dispatch.callback_panics", 1)
		}
	}()
	cb(deviceID, rec)
}

// SubscriberCount reports the active subscriptions for one pair.
func (d *Dispatcher) SubscriberCount(deviceID, paramID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[key{deviceID: deviceID, paramID: paramID}])
}
