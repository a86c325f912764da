package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/engine"
)

const maxMessageBytes = 64 << 10

type messageResponse struct {
	Handled bool   `json:"handled"`
	Reply   string `json:"reply,omitempty"`
	// ReloadTaskID identifies the reload scheduled by a successful update.
	ReloadTaskID string `json:"reload_task_id,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg engine.Message
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid message body: %v", err))
		return
	}
	if msg.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return
	}

	// Message text may carry an API key, so only the user is logged.
	AddLogField(r.Context(), "user_id", msg.UserID)

	res := s.engine.Handle(r.Context(), msg)

	out := messageResponse{Handled: res.Handled, Reply: res.Reply}
	if res.Task != nil {
		out.ReloadTaskID = res.Task.ID
		AddLogField(r.Context(), "reload_task_id", res.Task.ID)
	}
	AddLogField(r.Context(), "handled", strconv.FormatBool(res.Handled))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ports.AuditListOptions{UserID: q.Get("user_id")}

	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "limit: "+err.Error())
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "offset: "+err.Error())
		return
	}

	records, err := s.audit.ListUpdates(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		s.logger.Error("failed to list updates", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list updates")
		return
	}
	if records == nil {
		records = []*ports.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": records})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Type: errType, Message: message}})
}
