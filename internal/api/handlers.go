package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/ml"
	"bot-scorer/internal/snapshot"
	"bot-scorer/internal/tracker"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// ScoreRequest is the body of POST /api/score. Boolean features may be sent
// as JSON booleans or as 0/1.
type ScoreRequest struct {
	Features   map[string]any `json:"features"`
	LastPostAt *time.Time     `json:"last_post_at,omitempty"`
}

type TrackRequest struct {
	TwitterID  int64  `json:"twitter_id"`
	ScreenName string `json:"screen_name"`
}

type UntrackResponse struct {
	AccountID uint64 `json:"account_id"`
	Deleted   bool   `json:"deleted"`
}

type ChangeResponse struct {
	SnapshotID uint64          `json:"snapshot_id"`
	Change     snapshot.Change `json:"change"`
}

type RemoveUserResponse struct {
	DeletedAccounts []uint64 `json:"deleted_accounts"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses. Server-side failures
// are counted in errors_total.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, features.ErrMissingFeature), errors.Is(err, features.ErrInvalidFeature),
		errors.Is(err, tracker.ErrInvalidAccount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, snapshot.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ml.ErrArtifactNotFound), errors.Is(err, ml.ErrArtifactCorrupt):
		s.countError()
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Classifier unavailable")
		writeError(w, http.StatusInternalServerError, "classifier unavailable")
	default:
		s.countError()
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) countError() {
	if s.recorder != nil {
		s.recorder.ErrorsInc()
	}
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"model_version": s.model.Version,
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.model)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	values, err := features.ValuesFromJSON(req.Features)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.ScoreFeatures(values, req.LastPostAt)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	screenName := r.URL.Query().Get("screen_name")
	if screenName == "" {
		writeError(w, http.StatusBadRequest, "screen_name is required")
		return
	}

	res, err := s.svc.Lookup(r.Context(), screenName)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidAccount) {
			s.writeServiceError(w, r, err)
			return
		}
		log.Error().Err(err).Str("screen_name", screenName).Msg("Lookup failed")
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Accounts(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []snapshot.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	acc, created, err := s.svc.Track(r.Context(), userFrom(r.Context()), req.TwitterID, req.ScreenName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, acc)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	deleted, err := s.svc.Untrack(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UntrackResponse{AccountID: id, Deleted: deleted})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	snaps, err := s.svc.Snapshots(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	detail, err := s.svc.Snapshot(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	change, err := s.svc.Change(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeResponse{SnapshotID: id, Change: change})
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.RemoveUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if deleted == nil {
		deleted = []uint64{}
	}
	writeJSON(w, http.StatusOK, RemoveUserResponse{DeletedAccounts: deleted})
}
