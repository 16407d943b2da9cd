// Package api exposes the assignment operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/roach88/civicroute/internal/ledger"
)

// Service is the subset of engine.Controller the API drives.
type Service interface {
	CreateAssignment(ctx context.Context, issueID string, candidates []string) (ledger.Record, error)
	AcceptOffer(ctx context.Context, issueID, ngoID string) (bool, error)
	GetStatus(ctx context.Context, issueID string) (ledger.Record, error)
	MarkComplete(ctx context.Context, issueID string) (bool, error)
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Handler holds dependencies for the assignment endpoints.
type Handler struct {
	Svc Service
	IDs ledger.IDGenerator // issue ids for requests that omit one
	Log *zap.Logger
}

// NewHandler constructs a Handler. ids may be nil, in which case issue ids
// are UUIDv7.
func NewHandler(svc Service, ids ledger.IDGenerator, logger *zap.Logger) *Handler {
	if ids == nil {
		ids = ledger.UUIDv7Generator{}
	}
	return &Handler{Svc: svc, IDs: ids, Log: logger}
}

type createRequest struct {
	IssueID    string   `json:"issue_id"`
	Candidates []string `json:"candidates"`
}

type acceptRequest struct {
	NGOID string `json:"ngo_id"`
}

type acceptResponse struct {
	Won bool `json:"won"`
}

type completeResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Create handles POST /assignments.
//
// On success: 201 and the record snapshot (already offered to the first
// candidate). 409 if the issue exists, 400 on bad input.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IssueID == "" {
		req.IssueID = h.IDs.Generate()
	}

	rec, err := h.Svc.CreateAssignment(r.Context(), req.IssueID, req.Candidates)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Accept handles POST /assignments/{issueID}/accept.
//
// 200 {"won":true|false}. Losing is not an error; 404 for an unknown issue.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.NGOID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  string(ledger.ErrCodeInvalidArgument),
			Detail: "ngo_id is required",
		})
		return
	}

	won, err := h.Svc.AcceptOffer(r.Context(), chi.URLParam(r, "issueID"), req.NGOID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Won: won})
}

// Get handles GET /assignments/{issueID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Svc.GetStatus(r.Context(), chi.URLParam(r, "issueID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Complete handles POST /assignments/{issueID}/complete.
//
// 200 {"ok":true}; 409 {"ok":false,"error":"INVALID_STATE"} when the issue
// is not assigned; 404 for an unknown issue.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Svc.MarkComplete(r.Context(), chi.URLParam(r, "issueID"))
	switch {
	case ok:
		writeJSON(w, http.StatusOK, completeResponse{OK: true})
	case ledger.IsInvalidState(err):
		writeJSON(w, http.StatusConflict, completeResponse{Error: string(ledger.ErrCodeInvalidState)})
	default:
		h.writeError(w, r, err)
	}
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  string(ledger.ErrCodeInvalidArgument),
			Detail: "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps ledger error codes to HTTP statuses. Anything that is not
// a ledger error is a 500 and is logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
		return
	}
	writeJSON(w, StatusFor(le.Code), errorResponse{Error: string(le.Code), Detail: le.Error()})
}

// StatusFor returns the HTTP status for a ledger error code.
func StatusFor(code ledger.ErrorCode) int {
	switch code {
	case ledger.ErrCodeNotFound:
		return http.StatusNotFound
	case ledger.ErrCodeConflict, ledger.ErrCodeExhausted, ledger.ErrCodeAlreadyExists, ledger.ErrCodeInvalidState:
		return http.StatusConflict
	case ledger.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
