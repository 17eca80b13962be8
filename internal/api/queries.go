package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roomdoor/fan-out-call/internal/fanout"
	"github.com/roomdoor/fan-out-call/internal/model"
	"github.com/roomdoor/fan-out-call/internal/store"
)

const maxBodySize = 64 << 10

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	mode := chi.URLParam(r, "mode")

	var q model.LoanQuery
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.recordSubmission(mode, outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if headerID := borrowerIDFrom(r.Context()); q.BorrowerID != "" && q.BorrowerID != headerID {
		s.recordSubmission(mode, outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, "borrowerId does not match "+headerBorrowerID)
		return
	}

	snap, err := s.orchestrator.Submit(r.Context(), q, mode)
	switch {
	case errors.Is(err, model.ErrInvalidQuery), errors.Is(err, fanout.ErrUnknownMode):
		s.recordSubmission(mode, outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.recordSubmission(mode, outcomeError)
		s.logger.Error("submit loan limit query",
			"mode", mode,
			"borrower_id", q.BorrowerID,
			"request_id", requestID(r),
			"error", err,
		)
		s.writeError(w, http.StatusInternalServerError, "failed to submit query")
		return
	}

	s.recordSubmission(mode, outcomeAccepted)
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetByTransactionID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionId")

	snap, err := s.lifecycle.LookupByTransactionID(r.Context(), id)
	s.writeSnapshot(w, r, snap, err)
}

func (s *Server) handleGetByTransactionNo(w http.ResponseWriter, r *http.Request) {
	no, ok := s.parseTransactionNo(w, r)
	if !ok {
		return
	}

	snap, err := s.lifecycle.LookupByTransactionNo(r.Context(), no)
	s.writeSnapshot(w, r, snap, err)
}

func (s *Server) parseTransactionNo(w http.ResponseWriter, r *http.Request) (int64, bool) {
	no, err := strconv.ParseInt(chi.URLParam(r, "transactionNo"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "transactionNo must be an integer")
		return 0, false
	}
	return no, true
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, snap *model.RunSnapshot, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup run", "path", r.URL.Path, "request_id", requestID(r), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get query")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
