// Package httpapi is a thin external adapter: a plain net/http translator
// over the supervisor's command facade. It owns no motion state itself —
// every handler either reads GetStatus() or calls a single facade method
// and reports the result.
package httpapi

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/supervisor"
	"github.com/sirupsen/logrus"
)

// Facade is the subset of *supervisor.Supervisor the adapter depends on.
type Facade interface {
	GetStatus() supervisor.Status
	RecordCommand(action, detail string)
	SetMode(m supervisor.Mode) error
	ClearFault()
	StopAll(reason string, asFault bool)
	EmergencyStop(reason string)
	CancelJob(reason string)
	SetupJog(rpm uint16, seconds float64) error
	SetupHallRun(rpm uint16, seconds float64, reverse bool) error
	TestUp(rpm uint16, seconds float64) error
	TestDirection(name string, rpm uint16, seconds float64) error
}

// Server wires Facade methods to HTTP routes.
type Server struct {
	sup Facade
	mux *http.ServeMux
	log *logrus.Entry
}

// New builds a Server with all routes registered.
func New(sup Facade) *Server {
	s := &Server{sup: sup, mux: http.NewServeMux(), log: logrus.WithField("component", "httpapi")}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/mode", s.handleMode)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/emergency-stop", s.handleEmergencyStop)
	s.mux.HandleFunc("/clear-fault", s.handleClearFault)
	s.mux.HandleFunc("/setup/jog", s.handleSetupJog)
	s.mux.HandleFunc("/setup/hall-run", s.handleSetupHallRun)
	s.mux.HandleFunc("/test/up", s.handleTestUp)
	s.mux.HandleFunc("/test/direction", s.handleTestDirection)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

// handleEvents streams the status snapshot as Server-Sent Events, one
// event every 100ms, until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := json.Marshal(s.sup.GetStatus())
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sup.RecordCommand("set_mode", req.Mode)
	if err := s.sup.SetMode(supervisor.Mode(req.Mode)); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sup.RecordCommand("stop", "")
	s.sup.StopAll("operator stop", false)
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator emergency stop"
	}
	s.sup.RecordCommand("emergency_stop", req.Reason)
	s.sup.EmergencyStop(req.Reason)
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

func (s *Server) handleClearFault(w http.ResponseWriter, r *http.Request) {
	s.sup.RecordCommand("clear_fault", "")
	s.sup.ClearFault()
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

type jogRequest struct {
	RPM     uint16  `json:"rpm"`
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleSetupJog(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sup.RecordCommand("setup_jog", fmt.Sprintf("rpm=%d sec=%.1f", req.RPM, req.Seconds))
	if err := s.sup.SetupJog(req.RPM, req.Seconds); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sup.GetStatus())
}

type hallRunRequest struct {
	RPM     uint16  `json:"rpm"`
	Seconds float64 `json:"seconds"`
	Reverse bool    `json:"reverse"`
}

func (s *Server) handleSetupHallRun(w http.ResponseWriter, r *http.Request) {
	var req hallRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sup.RecordCommand("setup_hall_run", fmt.Sprintf("rpm=%d sec=%.1f reverse=%t", req.RPM, req.Seconds, req.Reverse))
	if err := s.sup.SetupHallRun(req.RPM, req.Seconds, req.Reverse); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sup.GetStatus())
}

func (s *Server) handleTestUp(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sup.RecordCommand("test_up", fmt.Sprintf("rpm=%d sec=%.1f", req.RPM, req.Seconds))
	if err := s.sup.TestUp(req.RPM, req.Seconds); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sup.GetStatus())
}

type directionRequest struct {
	Direction string  `json:"direction"`
	RPM       uint16  `json:"rpm"`
	Seconds   float64 `json:"seconds"`
}

func (s *Server) handleTestDirection(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sup.RecordCommand("test_direction", fmt.Sprintf("dir=%s rpm=%d sec=%.1f", req.Direction, req.RPM, req.Seconds))
	if err := s.sup.TestDirection(req.Direction, req.RPM, req.Seconds); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.sup.GetStatus())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>motion supervisor</title></head>
<body>
<h1>motion supervisor</h1>
<p>mode: {{.Mode}}</p>
<p>fault: {{if .Fault}}{{.Fault}}{{else}}none{{end}}</p>
<p>job: {{.Job.Label}} (active={{.Job.Active}}, generation={{.Job.Generation}})</p>
<p>last command: {{.LastCommand.Action}} {{.LastCommand.Detail}} at {{.LastCommand.At}}</p>
<p><a href="/status">raw status json</a></p>
</body>
</html>`))

// handleIndex serves a minimal read-only status page for operators without
// an SSE client, reusing the same GetStatus() call the /events stream uses.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.sup.GetStatus()); err != nil {
		s.log.Warnf("render index: %v", err)
	}
}
