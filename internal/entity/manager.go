package entity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/dispatch"
	"github.com/oebus/fansync/internal/model"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/tracker"
)

// Manager owns the observer set. When a device first shows up on the log it
// gets one observer per parameter in the table, all attached, followed by a
// best-effort sweep of its current values.
type Manager struct {
	ctx            context.Context
	store          *store.ParamStore
	disp           *dispatch.Dispatcher
	trk            *tracker.Tracker
	pendingTimeout time.Duration

	mu        sync.RWMutex
	observers map[string]map[string]*FanParam
}

func NewManager(ctx context.Context, st *store.ParamStore, disp *dispatch.Dispatcher, trk *tracker.Tracker, pendingTimeout time.Duration) *Manager {
	return &Manager{
		ctx:            ctx,
		store:          st,
		disp:           disp,
		trk:            trk,
		pendingTimeout: pendingTimeout,
		observers:      make(map[string]map[string]*FanParam),
	}
}

// HandleNewDevice creates and attaches parameter observers for a device seen
// for the first time, then solicits its unknown parameters in a paced
// background sweep. Safe to call more than once per device.
func (m *Manager) HandleNewDevice(deviceID string) {
	m.mu.Lock()
	if _, ok := m.observers[deviceID]; ok {
		m.mu.Unlock()
		return
	}
	params := make(map[string]*FanParam, len(model.Params))
	for id, meta := range model.Params {
		params[id] = NewFanParam(deviceID, meta, m.store, m.disp, m.trk, m.pendingTimeout)
	}
	m.observers[deviceID] = params
	m.mu.Unlock()

	log.Info().
		Str("device_id", deviceID).
		Int("params", len(params)).
		Msg("Creating parameter observers for new device")

	for _, obs := range params {
		obs.Attach()
	}

	go m.trk.ReadMissing(m.ctx, deviceID, "")
}

// Observer returns the observer for one (device, parameter) pair.
func (m *Manager) Observer(deviceID, paramID string) (*FanParam, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obs, ok := m.observers[deviceID][paramID]
	return obs, ok
}

// DeviceObservers returns all observers for a device.
func (m *Manager) DeviceObservers(deviceID string) []*FanParam {
	m.mu.RLock()
	defer m.mu.RUnlock()

	params := m.observers[deviceID]
	out := make([]*FanParam, 0, len(params))
	for _, obs := range params {
		out = append(out, obs)
	}
	return out
}

// DetachAll tears every observer down; used on shutdown.
func (m *Manager) DetachAll() {
	m.mu.Lock()
	all := m.observers
	m.observers = make(map[string]map[string]*FanParam)
	m.mu.Unlock()

	for _, params := range all {
		for _, obs := range params {
			obs.Detach()
		}
	}
}
