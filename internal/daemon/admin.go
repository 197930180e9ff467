package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/outrigger-ai/outrigger/internal/logger"
	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/pkg/queue"
	"github.com/outrigger-ai/outrigger/pkg/recommend"
)

// adminServer exposes health, metrics and operational endpoints over HTTP.
// The CLI talks to a running daemon through these.
type adminServer struct {
	daemon *Daemon
	logger *logger.Logger
	server *http.Server
}

func newAdminServer(d *Daemon, host string, port int) *adminServer {
	a := &adminServer{
		daemon: d,
		logger: d.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/admin/queues", a.handleQueues)
	mux.HandleFunc("/admin/queues/", a.handleQueueAction)
	mux.HandleFunc("/admin/runs", a.handleRuns)
	mux.HandleFunc("/admin/recommend", a.handleRecommend)
	mux.HandleFunc("/admin/profiles", a.handleProfiles)

	a.server = &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a
}

func (a *adminServer) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("admin server listen: %w", err)
	}

	a.logger.Info().Str("addr", ln.Addr().String()).Msg("Admin server listening")
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

func (a *adminServer) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

func (a *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(a.daemon.Uptime().Seconds()),
	})
}

// queueStatus is the wire form of one queue's counters
type queueStatus struct {
	Name        string       `json:"name"`
	Counts      queue.Counts `json:"counts"`
	DeadLetters int          `json:"dead_letters"`
}

func (a *adminServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	statuses := make([]queueStatus, 0, 2)
	for _, q := range a.daemon.queues() {
		statuses = append(statuses, queueStatus{
			Name:        q.Name(),
			Counts:      q.Counts(),
			DeadLetters: q.DLQ().Size(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": statuses})
}

// handleQueueAction serves POST /admin/queues/{name}/{drain|pause|resume}
func (a *adminServer) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name, verb, ok := splitQueuePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "expected /admin/queues/{name}/{drain|pause|resume}")
		return
	}

	// "<name>:dlq" addresses a queue's companion dead-letter queue
	if primary, isDLQ := strings.CutSuffix(name, ":dlq"); isDLQ {
		q := a.daemon.queueByName(primary)
		if q == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown queue %q", name))
			return
		}
		if verb != "drain" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("dead-letter queues only support drain, not %q", verb))
			return
		}
		removed := q.DLQ().Drain(r.Context(), queue.DrainOptions{})
		a.logger.Info().Str("queue", name).Int("removed", removed).Msg("Dead-letter queue drained via admin API")
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "removed": removed})
		return
	}

	q := a.daemon.queueByName(name)
	if q == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown queue %q", name))
		return
	}

	switch verb {
	case "drain":
		includeDelayed := r.URL.Query().Get("delayed") == "true"
		removed := q.Drain(r.Context(), queue.DrainOptions{IncludeDelayed: includeDelayed})
		a.logger.Info().Str("queue", name).Int("removed", removed).Msg("Queue drained via admin API")
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "removed": removed})
	case "pause":
		q.Pause()
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "paused": true})
	case "resume":
		q.Resume()
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "paused": false})
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown queue action %q", verb))
	}
}

func (a *adminServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	job, err := a.daemon.SubmitRun(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"queue":  "runs",
	})
}

// recommendRequest is the admin API shape for a recommendation call
type recommendRequest struct {
	Scope      recommend.Scope         `json:"scope"`
	Candidates []recommend.Candidate   `json:"candidates"`
	Previous   []recommend.PreviousRun `json:"previous_runs,omitempty"`
}

func (a *adminServer) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := a.daemon.Recommend(r.Context(), req.Scope, req.Candidates, req.Previous)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *adminServer) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": a.daemon.profiles.List(),
	})
}

func splitQueuePath(path string) (name, verb string, ok bool) {
	const prefix = "/admin/queues/"
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			name, verb = rest[:i], rest[i+1:]
			return name, verb, name != "" && verb != ""
		}
	}
	return "", "", false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
