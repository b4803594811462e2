package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/codec"
	"github.com/oebus/fansync/internal/datadog"
	"github.com/oebus/fansync/internal/model"
)

// ChangeFunc receives exactly one call per accepted update. Callbacks run on
// the device-log goroutine and must not block.
type ChangeFunc func(deviceID string, rec model.ParamRecord)

// NewDeviceFunc fires the first time a device appears on the log.
type NewDeviceFunc func(deviceID string)

// Persister writes accepted records through to durable storage.
type Persister interface {
	SaveRecord(deviceID string, rec model.ParamRecord) error
}

// ParamStore holds the last-known parameter values per device. It is the
// single authoritative local state: writes never touch it, only confirming
// messages from the device log do.
type ParamStore struct {
	mu      sync.RWMutex
	devices map[string]map[string]model.ParamRecord

	onChange    ChangeFunc
	onNewDevice NewDeviceFunc
	persist     Persister
}

func New() *ParamStore {
	return &ParamStore{
		devices: make(map[string]map[string]model.ParamRecord),
	}
}

// OnChange registers the downstream fan-out hook. Must be set before Run.
func (s *ParamStore) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

func (s *ParamStore) OnNewDevice(fn NewDeviceFunc) {
	s.onNewDevice = fn
}

func (s *ParamStore) SetPersister(p Persister) {
	s.persist = p
}

// Preload seeds records loaded from durable storage. No change events fire;
// observers reconcile on attach.
func (s *ParamStore) Preload(records map[string][]model.ParamRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for deviceID, recs := range records {
		params, ok := s.devices[deviceID]
		if !ok {
			params = make(map[string]model.ParamRecord)
			s.devices[deviceID] = params
		}
		for _, rec := range recs {
			params[rec.ParamID] = rec
		}
	}
}

func (s *ParamStore) Get(deviceID, paramID string) (model.ParamRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.devices[deviceID][paramID]
	return rec, ok
}

// Snapshot returns a copy of all records for a device.
func (s *ParamStore) Snapshot(deviceID string) []model.ParamRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := s.devices[deviceID]
	out := make([]model.ParamRecord, 0, len(params))
	for _, rec := range params {
		out = append(out, rec)
	}
	return out
}

// Devices lists every device the store has seen.
func (s *ParamStore) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, id)
	}
	return out
}

// SupportedParams lists the parameter ids a device has reported a value for.
func (s *ParamStore) SupportedParams(deviceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := s.devices[deviceID]
	out := make([]string, 0, len(params))
	for id, rec := range params {
		if rec.Supported {
			out = append(out, id)
		}
	}
	return out
}

// Apply records an authoritative value observed on the device log. It is
// idempotent: an unchanged value, or one older than the current record, is
// accepted nowhere and fans out nothing. Returns whether a change event was
// emitted.
//
// Per-(device,param) ordering of fan-out follows call order; Run serializes
// calls for updates arriving on the device log.
func (s *ParamStore) Apply(deviceID, paramID string, value float64, ts time.Time) bool {
	s.mu.Lock()

	params, ok := s.devices[deviceID]
	newDevice := !ok
	if !ok {
		params = make(map[string]model.ParamRecord)
		s.devices[deviceID] = params
	}

	prev, exists := params[paramID]
	if exists && ts.Before(prev.LastUpdated) {
		s.mu.Unlock()
		log.Debug().
			Str("device_id", deviceID).
			Str("param_id", paramID).
			Time("ts", ts).
			Msg("Dropping stale parameter update")
		datadog.Count("store.updates_deduped", 1, "reason:stale")
		return false
	}
	if exists && prev.RawValue == value {
		// Same value re-delivered; advance the timestamp, emit nothing. The
		// refreshed timestamp still goes to the persister so a restart does
		// not resurrect an older last_updated than the store last held.
		refreshed := ts.After(prev.LastUpdated)
		if refreshed {
			prev.LastUpdated = ts
			params[paramID] = prev
		}
		s.mu.Unlock()
		if refreshed && s.persist != nil {
			if err := s.persist.SaveRecord(deviceID, prev); err != nil {
				log.Error().Err(err).
					Str("device_id", deviceID).
					Str("param_id", paramID).
					Msg("Failed to persist parameter record")
			}
		}
		datadog.Count("store.updates_deduped", 1, "reason:unchanged")
		return false
	}

	rec := model.ParamRecord{
		ParamID:     paramID,
		RawValue:    value,
		Supported:   true,
		LastUpdated: ts,
	}
	params[paramID] = rec
	s.mu.Unlock()

	log.Debug().
		Str("device_id", deviceID).
		Str("param_id", paramID).
		Float64("value", value).
		Msg("Parameter record updated")
	datadog.Count("store.updates_accepted", 1)
	datadog.Gauge("store.param_value", value,
		fmt.Sprintf("device:%s", deviceID), fmt.Sprintf("param:%s", paramID))

	if s.persist != nil {
		if err := s.persist.SaveRecord(deviceID, rec); err != nil {
			log.Error().Err(err).
				Str("device_id", deviceID).
				Str("param_id", paramID).
				Msg("Failed to persist parameter record")
		}
	}

	if newDevice && s.onNewDevice != nil {
		s.onNewDevice(deviceID)
	}
	if s.onChange != nil {
		s.onChange(deviceID, rec)
	}
	return true
}

// Run consumes the device log until the context ends or the channel closes.
// One goroutine per log keeps per-key ordering.
func (s *ParamStore) Run(ctx context.Context, updates <-chan codec.ParamUpdate) {
	log.Info().Msg("Starting parameter store device log consumer")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Parameter store consumer stopped")
			return
		case u, ok := <-updates:
			if !ok {
				log.Info().Msg("Device log closed, parameter store consumer stopped")
				return
			}
			s.Apply(u.DeviceID, u.ParamID, u.Value, u.Timestamp)
		}
	}
}
