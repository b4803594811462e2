package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/entity"
	"github.com/oebus/fansync/internal/source"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/tracker"
	"github.com/oebus/fansync/internal/transport"
)

type Server struct {
	store   *store.ParamStore
	manager *entity.Manager
	tracker *tracker.Tracker
}

type ParamResponse struct {
	ParamID     string   `json:"param_id"`
	Description string   `json:"description"`
	Value       *float64 `json:"value"`
	Pending     bool     `json:"pending"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
	Step        float64  `json:"step"`
	Unit        string   `json:"unit,omitempty"`
}

type SetParamRequest struct {
	Value  *float64 `json:"value"`
	FromID string   `json:"from_id,omitempty"`
}

type RefreshRequest struct {
	FromID string `json:"from_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(st *store.ParamStore, manager *entity.Manager, trk *tracker.Tracker) *Server {
	return &Server{
		store:   st,
		manager: manager,
		tracker: trk,
	}
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	corsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/", s.handleDeviceOperations)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, corsHandler)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/", s.handleDeviceOperations)
	return mux
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Devices())
}

func (s *Server) handleDeviceOperations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "Device ID required")
		return
	}

	deviceID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "params":
		if r.Method == http.MethodGet {
			s.getParams(w, r, deviceID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "refresh":
		if r.Method == http.MethodPost {
			s.refreshParams(w, r, deviceID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 3 && parts[1] == "params":
		paramID := strings.ToUpper(parts[2])
		switch r.Method {
		case http.MethodGet:
			s.getParam(w, r, deviceID, paramID)
		case http.MethodPut:
			s.setParam(w, r, deviceID, paramID)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	default:
		s.writeError(w, http.StatusNotFound, "Invalid path")
	}
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request, deviceID string) {
	observers := s.manager.DeviceObservers(deviceID)
	if len(observers) == 0 {
		s.writeError(w, http.StatusNotFound, "Device not found")
		return
	}

	response := make([]ParamResponse, 0, len(observers))
	for _, obs := range observers {
		response = append(response, paramResponse(obs))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) getParam(w http.ResponseWriter, r *http.Request, deviceID, paramID string) {
	obs, ok := s.manager.Observer(deviceID, paramID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Parameter not found")
		return
	}
	s.writeJSON(w, http.StatusOK, paramResponse(obs))
}

func (s *Server) setParam(w http.ResponseWriter, r *http.Request, deviceID, paramID string) {
	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "Missing required field: value")
		return
	}

	obs, ok := s.manager.Observer(deviceID, paramID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Parameter not found")
		return
	}

	if err := obs.Write(*req.Value, req.FromID); err != nil {
		var sendErr *transport.SendError
		switch {
		case errors.Is(err, tracker.ErrValueOutOfRange), errors.Is(err, tracker.ErrUnknownParam):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, source.ErrNoViableSource):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &sendErr):
			log.Error().Err(err).
				Str("device_id", deviceID).
				Str("param_id", paramID).
				Msg("Transport send failed")
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			log.Error().Err(err).
				Str("device_id", deviceID).
				Str("param_id", paramID).
				Msg("Failed to set parameter")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Info().
		Str("device_id", deviceID).
		Str("param_id", paramID).
		Float64("value", *req.Value).
		Msg("Parameter write issued via API")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) refreshParams(w http.ResponseWriter, r *http.Request, deviceID string) {
	var req RefreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}

	// Fire-and-forget sweep; results land parameter by parameter. The sweep
	// outlives the request, so it does not inherit the request context.
	go s.tracker.ReadAll(context.Background(), deviceID, req.FromID)

	log.Info().Str("device_id", deviceID).Msg("Parameter refresh requested via API")
	w.WriteHeader(http.StatusAccepted)
}

func paramResponse(obs *entity.FanParam) ParamResponse {
	meta := obs.Meta()
	resp := ParamResponse{
		ParamID:     meta.ID,
		Description: meta.Description,
		Pending:     obs.Pending(),
		Min:         meta.DisplayMin(),
		Max:         meta.DisplayMax(),
		Step:        meta.DisplayStep(),
		Unit:        meta.Unit,
	}
	if v, ok := obs.Value(); ok {
		resp.Value = &v
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
