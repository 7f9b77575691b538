package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cartpilot/internal/domain"
	"cartpilot/internal/infra/config"
	"cartpilot/internal/usecase/orchestrator"
)

// Handlers wires the orchestrator into the panel's REST and RPC surface.
type Handlers struct {
	Launcher *orchestrator.Launcher
	Runner   *orchestrator.Runner
	Logs     *orchestrator.LogHub
	Tracker  *orchestrator.Tracker
	Registry domain.SessionRegistry

	// Heartbeat keeps idle log streams alive through proxies.
	Heartbeat time.Duration
	// DrainLimit caps how many buffered records a log query returns.
	DrainLimit int

	// AutomationPath is where panel edits to the worker settings persist.
	AutomationPath string

	startTime time.Time

	mu         sync.Mutex
	automation config.AutomationConfig
}

// NewHandlers creates the handler set with the current automation settings.
func NewHandlers(launcher *orchestrator.Launcher, runner *orchestrator.Runner, logs *orchestrator.LogHub, tracker *orchestrator.Tracker, reg domain.SessionRegistry, automation config.AutomationConfig) *Handlers {
	return &Handlers{
		Launcher:   launcher,
		Runner:     runner,
		Logs:       logs,
		Tracker:    tracker,
		Registry:   reg,
		Heartbeat:  5 * time.Second,
		DrainLimit: orchestrator.DefaultDrainLimit,
		startTime:  time.Now(),
		automation: automation,
	}
}

// Register attaches every REST route and RPC method to the server.
func (h *Handlers) Register(s *Server) {
	s.RegisterHTTPRoute("GET /api/sessions", h.listSessions)
	s.RegisterHTTPRoute("POST /api/sessions/{id}/start", h.startSession)
	s.RegisterHTTPRoute("POST /api/sessions/{id}/stop", h.stopSession)
	s.RegisterHTTPRoute("DELETE /api/sessions/{id}", h.deleteSession)
	s.RegisterHTTPRoute("POST /api/sessions/start-all", h.startAll)
	s.RegisterHTTPRoute("POST /api/sessions/start-all-sequential", h.startAllSequential)
	s.RegisterHTTPRoute("POST /api/sessions/stop-all", h.stopAll)
	s.RegisterHTTPRoute("GET /api/logs/{id}", h.getLogs)
	s.RegisterHTTPRoute("GET /api/logs/{id}/stream", h.streamLogs)
	s.RegisterHTTPRoute("GET /api/health", h.health)
	s.RegisterHTTPRoute("GET /api/config", h.getConfig)
	s.RegisterHTTPRoute("POST /api/config", h.updateConfig)

	s.RegisterHandler("sessions.list", h.rpcListSessions)
	s.RegisterHandler("sessions.start", h.rpcStartSession)
	s.RegisterHandler("sessions.stop", h.rpcStopSession)
}

type rpcSessionParams struct {
	SessionID string `json:"session_id"`
}

func (h *Handlers) rpcListSessions(ctx context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
	views, err := h.Launcher.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(views)
}

func (h *Handlers) rpcStartSession(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
	var params rpcSessionParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, domain.NewDomainError("gateway.rpc", domain.ErrInvalidInput, err.Error())
	}
	handle, err := h.Launcher.StartOne(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"session_id": params.SessionID, "pid": handle.PID()})
}

func (h *Handlers) rpcStopSession(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
	var params rpcSessionParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, domain.NewDomainError("gateway.rpc", domain.ErrInvalidInput, err.Error())
	}
	if err := h.Launcher.StopOne(ctx, params.SessionID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"session_id": params.SessionID})
}
