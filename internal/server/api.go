package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rasweb/internal/dispatch"
	"rasweb/pkg/httpx"
)

const maxJSONBody = 64 << 10

// opBody is the optional JSON body of the per-resource endpoints.
type opBody struct {
	Type   string `json:"type,omitempty"`
	File   string `json:"file,omitempty"`
	SizeMB int    `json:"sizeMB,omitempty"`
	Token  string `json:"token,omitempty"`
	Cancel bool   `json:"cancel,omitempty"`
}

func decodeOpBody(w http.ResponseWriter, r *http.Request) (opBody, error) {
	var b opBody
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return b, err
	}
	if b.Token == "" {
		b.Token = r.URL.Query().Get("token")
	}
	if b.Token == "" {
		b.Token = r.Header.Get("X-Confirm-Token")
	}
	if !b.Cancel {
		b.Cancel, _ = strconv.ParseBool(r.URL.Query().Get("cancel"))
	}
	return b, nil
}

func statusFor(out dispatch.Outcome) int {
	switch out.State {
	case dispatch.StateExecuted, dispatch.StateCancelled:
		return http.StatusOK
	case dispatch.StateConfirmationRequired:
		return http.StatusPreconditionRequired
	case dispatch.StateUnknown:
		return http.StatusNotFound
	}
	if out.Failure == nil {
		return http.StatusInternalServerError
	}
	return statusForKind(out.Failure.Kind)
}

func statusForKind(k dispatch.Kind) int {
	switch k {
	case dispatch.KindValidation:
		return http.StatusBadRequest
	case dispatch.KindNotFound, dispatch.KindUnknownAction:
		return http.StatusNotFound
	case dispatch.KindConflict, dispatch.KindConfirmation:
		return http.StatusConflict
	case dispatch.KindNoSpace:
		return http.StatusInsufficientStorage
	case dispatch.KindSubprocess:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeOutcome renders a dispatcher outcome. Failures use the standard error
// envelope with the failure as details; everything else is the outcome itself.
func writeOutcome(w http.ResponseWriter, out dispatch.Outcome) {
	code := statusFor(out)
	if out.Failure != nil {
		writeError(w, code, out.Failure)
		return
	}
	httpx.WriteJSON(w, code, out)
}

func writeError(w http.ResponseWriter, code int, f *dispatch.Failure) {
	httpx.WriteErrorWithDetails(w, code, string(f.Kind), f.Message, f)
}

func (s *Server) dispatchJSON(w http.ResponseWriter, r *http.Request, req dispatch.Request) {
	writeOutcome(w, s.d.Dispatch(r.Context(), req))
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, dispatch.Request{Action: dispatch.ActionListDevices})
}

func (s *Server) handleDeviceOp(w http.ResponseWriter, r *http.Request) {
	b, err := decodeOpBody(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	params := map[string]string{"id": chi.URLParam(r, "id")}
	if b.Type != "" {
		params["type"] = b.Type
	}
	if b.File != "" {
		params["file"] = b.File
	}
	s.dispatchJSON(w, r, dispatch.Request{Action: chi.URLParam(r, "op"), Params: params, Token: b.Token, Cancel: b.Cancel})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, dispatch.Request{Action: dispatch.ActionListImages})
}

func (s *Server) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	b, err := decodeOpBody(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	params := map[string]string{"file": b.File, "size": strconv.Itoa(b.SizeMB)}
	s.dispatchJSON(w, r, dispatch.Request{Action: dispatch.ActionCreateImage, Params: params})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	b, err := decodeOpBody(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	params := map[string]string{"file": chi.URLParam(r, "name")}
	s.dispatchJSON(w, r, dispatch.Request{Action: dispatch.ActionDeleteImage, Params: params, Token: b.Token, Cancel: b.Cancel})
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, dispatch.Request{Action: dispatch.ActionServiceStatus})
}

func (s *Server) handleServiceOp(w http.ResponseWriter, r *http.Request) {
	s.tokenOnlyOp(w, r, chi.URLParam(r, "op"))
}

func (s *Server) handleHostOp(w http.ResponseWriter, r *http.Request) {
	s.tokenOnlyOp(w, r, chi.URLParam(r, "op"))
}

func (s *Server) tokenOnlyOp(w http.ResponseWriter, r *http.Request, op string) {
	b, err := decodeOpBody(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.dispatchJSON(w, r, dispatch.Request{Action: op, Token: b.Token, Cancel: b.Cancel})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if err := validateActionRequest(body); err != nil {
		httpx.WriteErrorWithDetails(w, http.StatusBadRequest, string(dispatch.KindValidation), err.Error(), nil)
		return
	}
	var req dispatch.Request
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.dispatchJSON(w, r, req)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if s.audit == nil {
		writeJSON(w, map[string]any{"entries": []any{}})
		return
	}
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("audit query failed")
		httpx.WriteError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}
