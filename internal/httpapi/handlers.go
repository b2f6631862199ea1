package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/branchpad/branchpad/internal/chat"
)

type addMessageRequest struct {
	ID        string          `json:"id,omitempty"`
	ParentID  *string         `json:"parentId"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Thinking  string          `json:"thinking,omitempty"`
	ToolCalls []chat.ToolCall `json:"toolCalls,omitempty"`
}

type selectBranchRequest struct {
	ParentID *string `json:"parentId"`
	ChildID  string  `json:"childId"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

type updateDraftRequest struct {
	Text string `json:"text"`
}

type threadResponse struct {
	Thread chat.Thread    `json:"thread"`
	Chain  []chat.Message `json:"chain,omitempty"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	id := s.store.CreateThread(r.Context())
	t, _ := s.store.Thread(id)
	writeJSON(w, http.StatusCreated, threadResponse{Thread: t})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"threads": s.store.Threads()})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Thread(chi.URLParam(r, "threadID"))
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{
		Thread: t,
		Chain:  s.store.MessageChain(t.LeafMessageID),
	})
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req updateTitleRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.store.UpdateThreadTitle(r.Context(), chi.URLParam(r, "threadID"), req.Title)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role == "" || req.Content == "" && len(req.ToolCalls) == 0 {
		writeError(w, http.StatusBadRequest, "role and content are required")
		return
	}
	msg, err := s.store.AddMessage(r.Context(), chi.URLParam(r, "threadID"), chat.AddMessageRequest{
		ID:        req.ID,
		ParentID:  req.ParentID,
		Role:      chat.Role(req.Role),
		Content:   req.Content,
		Thinking:  req.Thinking,
		ToolCalls: req.ToolCalls,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) handleMessageChain(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Thread(chi.URLParam(r, "threadID"))
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.store.MessageChain(t.LeafMessageID)})
}

func (s *Server) handleSelectBranch(w http.ResponseWriter, r *http.Request) {
	var req selectBranchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ChildID == "" {
		writeError(w, http.StatusBadRequest, "childId is required")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	s.store.SelectBranch(r.Context(), threadID, req.ParentID, req.ChildID)
	t, ok := s.store.Thread(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{Thread: t})
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var patch chat.MessagePatch
	if !s.decode(w, r, &patch) {
		return
	}
	msg, err := s.store.UpdateMessage(r.Context(), chi.URLParam(r, "messageID"), patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMessage(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.store.Draft(chi.URLParam(r, "threadID"))
	if !ok {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": d})
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req updateDraftRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.UpdateDraft(r.Context(), chi.URLParam(r, "threadID"), req.Text); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearDraft(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSetBorder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	if err := s.store.SetBorder(r.Context(), chi.URLParam(r, "borderID"), body); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRawOperation accepts a pre-built pending operation, validates it
// against the operation schema and submits it to the executor.
func (s *Server) handleRawOperation(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		writeError(w, http.StatusServiceUnavailable, "sync executor not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	op, err := s.validator.validate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.exec.Submit(r.Context(), op)
	if err != nil {
		s.olog.Error("failed to submit raw operation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue operation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(status)})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		writeError(w, http.StatusServiceUnavailable, "sync executor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":      s.exec.Online(),
		"pending":     s.exec.Depth(),
		"deadLetters": s.exec.DeadLetters(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrInvalidParent):
		writeError(w, http.StatusBadRequest, "parent does not resolve within thread")
	default:
		s.olog.Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
