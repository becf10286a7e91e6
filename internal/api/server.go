package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gulfdesk/replyengine/internal/engine"
	"github.com/gulfdesk/replyengine/internal/models"
	"github.com/gulfdesk/replyengine/internal/store"
)

// Server wires the engine behind HTTP. The history store is optional; when
// present, processed turns are recorded so later extractions can mine them.
type Server struct {
	engine  *engine.Engine
	history store.HistoryStore
}

// NewServer creates an API server around an engine.
func NewServer(eng *engine.Engine, history store.HistoryStore) *Server {
	return &Server{engine: eng, history: history}
}

// Routes builds the chi router for the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/v1/reply", s.handleReply)
	r.Post("/v1/conversations/{conversationID}/stop", s.handleStop)
	r.Post("/v1/conversations/{conversationID}/reset", s.handleReset)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "replyengine"}))
}

// handleReply is the webhook entry point: one inbound message in, at most one
// reply out. The caller is responsible for sending result.text over the
// channel and for not sending when skipped is true.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req models.ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Server.handleReply: invalid request body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON body"))
		return
	}
	if req.ConversationID <= 0 || req.InboundMessageID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id and inbound_message_id are required"))
		return
	}

	result, err := s.engine.GenerateReply(r.Context(), req)
	if err != nil {
		slog.Error("Server.handleReply: engine failed", "error", err, "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to generate reply"))
		return
	}

	if result.Debug.Skipped {
		writeJSONResponse(w, http.StatusOK, models.Skipped(result.Debug.Reason, result))
		return
	}

	s.recordTurn(r.Context(), req, result)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// recordTurn appends the processed inbound and the produced reply to the
// message history. Best-effort: history is an extraction aid, not a ledger.
func (s *Server) recordTurn(ctx context.Context, req models.ReplyRequest, result *models.ReplyResult) {
	if s.history == nil {
		return
	}
	if _, err := s.history.AppendMessage(ctx, req.ConversationID, "in", req.InboundText); err != nil {
		slog.Warn("Server.recordTurn: failed to record inbound message", "error", err, "conversationID", req.ConversationID)
	}
	if _, err := s.history.AppendMessage(ctx, req.ConversationID, "out", result.Text); err != nil {
		slog.Warn("Server.recordTurn: failed to record outbound message", "error", err, "conversationID", req.ConversationID)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		// Reason is optional; decode errors just leave it empty.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.engine.Stop(r.Context(), conversationID, body.Reason); err != nil {
		slog.Error("Server.handleStop: failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to stop conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Reset(r.Context(), conversationID); err != nil {
		slog.Error("Server.handleReset: failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to reset conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid conversation id"))
		return 0, false
	}
	return id, true
}
