package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/fansync/internal/api"
	"github.com/oebus/fansync/internal/dispatch"
	"github.com/oebus/fansync/internal/entity"
	"github.com/oebus/fansync/internal/model"
	"github.com/oebus/fansync/internal/source"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/tracker"
	"github.com/oebus/fansync/internal/transport"
)

const (
	fanID     = "32:153289"
	gatewayID = "18:000730"
)

type fakeSender struct {
	mu     sync.Mutex
	writes int
	fail   error
}

func (f *fakeSender) SendRead(deviceID, paramID, fromID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeSender) SendWrite(deviceID, paramID string, value float64, fromID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.writes++
	return nil
}

// setFail is called while the manager's background sweep may be running.
func (f *fakeSender) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

type testServer struct {
	handler http.Handler
	store   *store.ParamStore
	manager *entity.Manager
	sender  *fakeSender
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	st := store.New()
	disp := dispatch.New()
	st.OnChange(disp.Publish)
	sender := &fakeSender{}
	trk := tracker.New(sender, source.New(nil, gatewayID), st, time.Millisecond)
	manager := entity.NewManager(context.Background(), st, disp, trk, time.Minute)
	st.OnNewDevice(manager.HandleNewDevice)
	t.Cleanup(manager.DetachAll)

	server := api.NewServer(st, manager, trk)
	return &testServer{
		handler: server.Handler(),
		store:   st,
		manager: manager,
		sender:  sender,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func floatPtr(v float64) *float64 { return &v }

func TestListDevices(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodGet, "/api/devices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var devices []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	assert.Equal(t, []string{fanID}, devices)
}

func TestListDevicesEmpty(t *testing.T) {
	ts := setupServer(t)

	rec := ts.request(t, http.MethodGet, "/api/devices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetParamsUnknownDevice(t *testing.T) {
	ts := setupServer(t)

	rec := ts.request(t, http.MethodGet, "/api/devices/29:999999/params", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetParams(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodGet, "/api/devices/"+fanID+"/params", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var params []api.ParamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	assert.Len(t, params, len(model.Params))
}

func TestGetParam(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodGet, "/api/devices/"+fanID+"/params/4e", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ParamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "4E", resp.ParamID, "parameter ids are case-insensitive in the path")
	require.NotNil(t, resp.Value)
	assert.Equal(t, 15.0, *resp.Value)
	assert.False(t, resp.Pending)
	assert.Equal(t, 0.0, resp.Min)
	assert.Equal(t, 100.0, resp.Max)
}

func TestGetParamUnknown(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodGet, "/api/devices/"+fanID+"/params/ZZ", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetParam(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodPut, "/api/devices/"+fanID+"/params/4E",
		api.SetParamRequest{Value: floatPtr(50)})

	require.Equal(t, http.StatusAccepted, rec.Code)

	obs, ok := ts.manager.Observer(fanID, "4E")
	require.True(t, ok)
	assert.True(t, obs.Pending())
	v, _ := obs.Value()
	assert.Equal(t, 50.0, v)
}

func TestSetParamOutOfRange(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodPut, "/api/devices/"+fanID+"/params/4E",
		api.SetParamRequest{Value: floatPtr(150)})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	obs, _ := ts.manager.Observer(fanID, "4E")
	assert.False(t, obs.Pending())
}

func TestSetParamMissingValue(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodPut, "/api/devices/"+fanID+"/params/4E",
		api.SetParamRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetParamSendFailure(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())
	ts.sender.setFail(&transport.SendError{Op: "write", DeviceID: fanID, Err: assert.AnError})

	rec := ts.request(t, http.MethodPut, "/api/devices/"+fanID+"/params/4E",
		api.SetParamRequest{Value: floatPtr(50)})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	obs, _ := ts.manager.Observer(fanID, "4E")
	assert.False(t, obs.Pending(), "a failed send must not leave the parameter pending")
}

func TestSetParamUnknownDevice(t *testing.T) {
	ts := setupServer(t)

	rec := ts.request(t, http.MethodPut, "/api/devices/29:999999/params/4E",
		api.SetParamRequest{Value: floatPtr(50)})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshDevice(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodPost, "/api/devices/"+fanID+"/refresh", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := setupServer(t)
	ts.store.Apply(fanID, "4E", 0.15, time.Now())

	rec := ts.request(t, http.MethodDelete, "/api/devices/"+fanID+"/params/4E", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/devices", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
