// Package httpapi exposes factory.Controller's six host-facing commands
// over HTTP, for a desktop UI or analysis pipeline that talks HTTP
// instead of linking the Go module directly.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/yawning/tickcap/factory"
	"github.com/yawning/tickcap/frames"
)

const (
	routeNameDevices = "devices"
	routeNameDevice  = "select-device"
	routeNameStart   = "start"
	routeNameReplay  = "replay"
	routeNameStop    = "stop"
	routeNameFrames  = "frames"
)

// Server is an http.Handler presenting a factory.Controller over HTTP.
type Server struct {
	router     *mux.Router
	controller *factory.Controller
	log        *logrus.Logger
}

// NewServer builds a Server routing requests to controller. log may be
// nil, in which case logrus.StandardLogger() is used.
func NewServer(controller *factory.Controller, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{controller: controller, log: log}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet).Name(routeNameDevices)
	router.HandleFunc("/device", s.handleSelectDevice).Methods(http.MethodPost).Name(routeNameDevice)
	router.HandleFunc("/start", s.handleStart).Methods(http.MethodPost).Name(routeNameStart)
	router.HandleFunc("/replay", s.handleReplay).Methods(http.MethodPost).Name(routeNameReplay)
	router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost).Name(routeNameStop)
	router.HandleFunc("/frames", s.handleDrain).Methods(http.MethodGet).Name(routeNameFrames)
	router.Use(s.requestIDMiddleware)
	s.router = router

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDMiddleware tags every request with an xid for log correlation
// and echoes it back in a response header.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		w.Header().Set("X-Request-Id", id)
		s.log.WithFields(logrus.Fields{
			"component":  "httpapi",
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Info("request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.controller.ListDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

type selectDeviceRequest struct {
	Device string `json:"device"`
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "tickcap: malformed request body", http.StatusBadRequest)
		return
	}
	s.controller.SelectDevice(req.Device)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replayRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "tickcap: malformed request body", http.StatusBadRequest)
		return
	}
	if err := s.controller.StartFromFile(req.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controller.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	fs := s.controller.Drain()
	if fs == nil {
		fs = []frames.Frame{}
	}
	writeJSON(w, http.StatusOK, fs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, factory.ErrNoDeviceSelected):
		status = http.StatusBadRequest
	case errors.Is(err, factory.ErrAlreadyCapturing):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
