// Package httpapi exposes an adapter's commands and telemetry over HTTP:
//
//	POST /api/pid    GainSet JSON
//	POST /api/order  Order JSON, {} stops
//	POST /api/stop
//	GET  /api/state  current setpoints and board liveness
//	GET  /ws         telemetry stream, when a handler is configured
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/notnil/canmotion"
	"github.com/notnil/canmotion/internal/clock"
	"github.com/notnil/canmotion/protocol"
)

// Status is the read side of an adapter.
type Status interface {
	Snapshot() canmotion.State
	LastHeartbeat(board protocol.Board) (time.Time, bool)
}

// Recorder keeps a log of accepted orders.
type Recorder interface {
	RecordOrder(at time.Time, kind string, value float64) error
}

// Options configures a Server. Every field is optional; the state and
// telemetry routes exist only when Status and Telemetry are set.
type Options struct {
	Status    Status
	Telemetry http.Handler
	Recorder  Recorder
	Logger    *slog.Logger

	// Clock must be the adapter's clock so heartbeat ages agree with it.
	// Defaults to the wall clock.
	Clock clock.Clock

	// BoardTimeout is how old a heartbeat may be before the board is
	// reported offline. Defaults to 3s.
	BoardTimeout time.Duration
}

// Server routes requests to a canmotion.Commander.
type Server struct {
	cmd  canmotion.Commander
	opts Options
	log  *slog.Logger
	mux  *http.ServeMux
}

// New returns a Server forwarding commands to cmd.
func New(cmd canmotion.Commander, o Options) *Server {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.BoardTimeout <= 0 {
		o.BoardTimeout = 3 * time.Second
	}
	s := &Server{cmd: cmd, opts: o, log: o.Logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/pid", s.handleGains)
	s.mux.HandleFunc("POST /api/order", s.handleOrder)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	if o.Status != nil {
		s.mux.HandleFunc("GET /api/state", s.handleState)
	}
	if o.Telemetry != nil {
		s.mux.Handle("GET /ws", o.Telemetry)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	var g canmotion.GainSet
	if !s.decode(w, r, &g) {
		return
	}
	if err := s.cmd.SubmitGains(r.Context(), g); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var o canmotion.Order
	if !s.decode(w, r, &o) {
		return
	}
	if err := s.cmd.SubmitOrder(r.Context(), o); err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(o)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cmd.Stop(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(canmotion.Order{})
	w.WriteHeader(http.StatusNoContent)
}

type stateResponse struct {
	Mode             string     `json:"mode"`
	SpeedSetpoint    float64    `json:"speed_setpoint"`
	PositionSetpoint *float64   `json:"position_setpoint,omitempty"`
	RotationSetpoint *float64   `json:"rotation_setpoint,omitempty"`
	BaselineTicks    [2]int32   `json:"baseline_ticks"`
	LastTicks        [2]int32   `json:"last_ticks"`
	BoardOnline      bool       `json:"board_online"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Status.Snapshot()
	resp := stateResponse{
		Mode:             st.Mode.String(),
		SpeedSetpoint:    st.SpeedSetpoint,
		PositionSetpoint: st.PositionSetpoint,
		RotationSetpoint: st.RotationSetpoint,
		BaselineTicks:    st.BaselineTicks,
		LastTicks:        st.LastTicks,
	}
	if at, ok := s.opts.Status.LastHeartbeat(protocol.BoardMotor); ok {
		resp.LastHeartbeat = &at
		resp.BoardOnline = s.opts.Clock.Now().Sub(at) < s.opts.BoardTimeout
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, canmotion.ErrInvalidGain), errors.Is(err, canmotion.ErrInvalidOrder):
		code = http.StatusBadRequest
	case errors.Is(err, canmotion.ErrTransport):
		code = http.StatusBadGateway
	case errors.Is(err, canmotion.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	s.log.Warn("request failed", "path", r.URL.Path, "status", code, "error", err)
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) record(o canmotion.Order) {
	if s.opts.Recorder == nil {
		return
	}
	kind, v := "stop", 0.0
	switch {
	case o.Speed != nil:
		kind, v = "speed", *o.Speed
	case o.Position != nil:
		kind, v = "position", *o.Position
	case o.Angle != nil:
		kind, v = "angle", *o.Angle
	}
	if err := s.opts.Recorder.RecordOrder(time.Now(), kind, v); err != nil {
		s.log.Warn("order not recorded", "kind", kind, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
