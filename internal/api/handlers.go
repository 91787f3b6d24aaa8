package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"identity-orchestrator/internal/identity"
	"identity-orchestrator/internal/models"
	"identity-orchestrator/internal/runner"
	"identity-orchestrator/internal/storage"
)

const maxBodyBytes = 1 << 20

// mutationRequest is the body of POST /profiles/{id}/identity/mutations
type mutationRequest struct {
	Reason  models.MutationReason `json:"reason"`
	Changes map[string]any        `json:"changes"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req models.LaunchRequest
	// the body is optional
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProfileID = chi.URLParam(r, "profileID")

	res := s.service.LaunchProfile(req)
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.service.StopProfile(chi.URLParam(r, "profileID"))
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunning(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Running())
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.Identity(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteIdentity(chi.URLParam(r, "profileID")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = models.ReasonUserRequested
	}

	id, err := s.service.MutateIdentity(chi.URLParam(r, "profileID"), req.Reason, req.Changes)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.RegenerateBundle(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleLaunches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	records, err := s.service.History(chi.URLParam(r, "profileID"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if records == nil {
		records = []*models.LaunchRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, identity.Fields())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrProfileRunning):
		return http.StatusConflict
	case errors.Is(err, runner.ErrInvalidProfileID),
		errors.Is(err, identity.ErrUnknownField),
		errors.Is(err, identity.ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
