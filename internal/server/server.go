// Package server exposes the engine over HTTP: workflow admission, SSE
// session streams, the node catalog, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxus-dev/fluxus/internal/agent"
	"github.com/fluxus-dev/fluxus/internal/engine"
	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/internal/logging"
	"github.com/fluxus-dev/fluxus/internal/metrics"
	"github.com/fluxus-dev/fluxus/internal/session"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

const maxRequestBytes = 1 << 20

// Deps holds the collaborators the server needs. Translator, Explainer and
// Agent are nil when no language model is configured; the matching request
// shapes then return a validation error.
type Deps struct {
	Engine     *engine.Engine
	Registry   *catalog.Registry
	Bus        *session.Bus
	Translator *llm.Translator
	Explainer  *llm.Explainer
	Agent      *agent.Agent
	Logger     *slog.Logger

	// RunTimeout bounds one whole run, all retries included.
	RunTimeout time.Duration
}

// Server handles the HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 10 * time.Minute
	}
	return &Server{deps: deps}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("GET /api/stream/{chat_id}", s.handleStream)
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	return mux
}

// executeRequest is the admission payload. Exactly one of Workflow or Text
// must be set. Model selects how Text is interpreted: "workflow" translates
// it into a document, "agent" runs the planning loop against it. Seed
// values arrive under the reserved "global" id.
type executeRequest struct {
	Workflow     json.RawMessage `json:"workflow,omitempty"`
	GlobalParams map[string]any  `json:"global_params,omitempty"`
	Text         string          `json:"text,omitempty"`
	Model        string          `json:"model,omitempty"`
	Iterations   int             `json:"itecount,omitempty"`
	Explain      bool            `json:"explain,omitempty"`
}

const (
	modelWorkflow = "workflow"
	modelAgent    = "agent"
)

// GlobalSeedID is the store id global parameters are seeded under.
const GlobalSeedID = "global"

// handleExecute admits a run: it validates the shape of the request,
// opens a session, and answers immediately with the chat id. The run itself
// proceeds in the background; progress arrives on the stream endpoint.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "read request body"))
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "parse request: %s", err.Error()))
		return
	}

	if (len(req.Workflow) > 0) == (req.Text != "") {
		writeError(w, schema.NewError(schema.ErrCodeValidation,
			"provide exactly one of workflow or text"))
		return
	}
	if req.Model == "" {
		req.Model = modelWorkflow
	}
	if req.Model != modelWorkflow && req.Model != modelAgent {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "unknown model: %s", req.Model))
		return
	}
	if req.Text != "" {
		if req.Model == modelWorkflow && s.deps.Translator == nil {
			writeError(w, schema.NewError(schema.ErrCodeValidation, "no language model configured"))
			return
		}
		if req.Model == modelAgent && s.deps.Agent == nil {
			writeError(w, schema.NewError(schema.ErrCodeValidation, "no language model configured"))
			return
		}
	}

	sess := s.deps.Bus.Open()
	go s.runSession(sess, req)

	writeJSON(w, http.StatusAccepted, map[string]any{"chat_id": sess.ID()})
}

// runSession owns the run lifecycle and guarantees the stream ends with
// exactly one terminal event.
func (s *Server) runSession(sess *session.Session, req executeRequest) {
	cb := session.NewCallbacks(sess)
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.RunTimeout)
	defer cancel()
	ctx = logging.WithSessionID(ctx, sess.ID())
	log := logging.LogWith(ctx, s.deps.Logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("run panicked", slog.Any("panic", r))
			cb.Fail(schema.NewErrorf(schema.ErrCodeInternal, "run panicked: %v", r))
		}
	}()

	cb.Emit(schema.EventStatus, map[string]any{"state": "accepted"})

	if req.Text != "" && req.Model == modelAgent {
		if _, err := s.deps.Agent.RunBudget(ctx, sess.ID(), req.Text, req.Iterations, cb); err != nil {
			log.Error("agent run failed", slog.String("error", err.Error()))
			cb.Fail(err)
			metrics.RunsTotal.WithLabelValues("failed").Inc()
			return
		}
		cb.Complete(schema.RunSummary{})
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		return
	}

	wf, err := s.resolveWorkflow(ctx, req, cb)
	if err != nil {
		log.Error("workflow rejected", slog.String("error", err.Error()))
		cb.Fail(err)
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		return
	}

	opts := engine.RunOptions{
		SessionID: sess.ID(),
		Emitter:   cb,
	}
	if len(req.GlobalParams) > 0 {
		opts.Seed = map[string]map[string]any{GlobalSeedID: req.GlobalParams}
	}
	summary, outputs, err := s.deps.Engine.Execute(ctx, wf, opts)
	if err != nil {
		log.Error("run rejected", slog.String("error", err.Error()))
		cb.Fail(err)
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		return
	}

	if req.Explain && s.deps.Explainer != nil {
		// Explanation failures are cosmetic; the run result stands.
		_, eerr := s.deps.Explainer.Explain(ctx, req.Text, wf, outputs, summary, func(delta string) {
			cb.Emit(schema.EventExplanation, map[string]any{"delta": delta})
		})
		if eerr != nil {
			log.Warn("explanation failed", slog.String("error", eerr.Error()))
		}
	}

	cb.Complete(summary)
	outcome := "completed"
	if !summary.Success() {
		outcome = "failed"
	}
	metrics.RunsTotal.WithLabelValues(outcome).Inc()
	log.Info("run finished",
		slog.Int("total", summary.Total),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed))
}

// resolveWorkflow produces the document to run, translating natural
// language when needed. Translated documents are echoed on the stream so
// the client sees what will execute.
func (s *Server) resolveWorkflow(ctx context.Context, req executeRequest, cb *session.Callbacks) (*schema.Workflow, error) {
	if len(req.Workflow) > 0 {
		return schema.ParseWorkflow(req.Workflow)
	}

	wf, err := s.deps.Translator.Translate(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	cb.Emit(schema.EventWorkflow, wf)
	return wf, nil
}

// handleNodes serves the catalog.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": s.deps.Registry.List()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	eng := schema.AsEngineError(err, schema.ErrCodeInternal)
	status := http.StatusInternalServerError
	switch eng.Code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{
		"code":    eng.Code,
		"message": eng.Message,
	}})
}

var errStreamUnsupported = errors.New("streaming not supported")
