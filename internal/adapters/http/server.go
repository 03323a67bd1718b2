package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrsafe/internal/domain"
	"qrsafe/internal/services/feed"
	"qrsafe/internal/services/scanner"
)

// Votes is the authoritative rating store behind the vote API.
type Votes interface {
	SubmitVoteAt(ctx context.Context, v domain.Vote) (domain.CommunityRating, error)
	RetractVoteAt(ctx context.Context, voterID, hash string, at time.Time) (domain.CommunityRating, error)
	GetRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error)
}

type Scanner interface {
	ScanFor(ctx context.Context, session, raw string) (scanner.Result, error)
	Vote(ctx context.Context, voterID, entryID string, verdict *domain.Verdict) (domain.ScanHistoryEntry, error)
}

type History interface {
	List(ctx context.Context, limit int) []domain.ScanHistoryEntry
	Clear(ctx context.Context) error
}

type Deps struct {
	Votes    Votes
	Scanner  Scanner
	History  History
	Hub      *feed.Hub
	Gatherer prometheus.Gatherer // nil disables /metrics
	Logger   *slog.Logger
}

type Server struct {
	votes    Votes
	scanner  Scanner
	history  History
	hub      *feed.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		votes:    d.Votes,
		scanner:  d.Scanner,
		history:  d.History,
		hub:      d.Hub,
		gatherer: d.Gatherer,
		logger:   d.Logger,
	}
}

// Routes returns a chi.Router serving the vote, scan, history and live APIs.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if s.votes != nil {
			r.Post("/votes", s.postVote)
			r.Delete("/votes", s.deleteVote)
			r.Get("/ratings/{hash}", s.getRating)
		}
		if s.scanner != nil {
			r.Post("/scans", s.postScan)
			r.Post("/history/{id}/vote", s.postHistoryVote)
		}
		if s.history != nil {
			r.Get("/history", s.getHistory)
			r.Delete("/history", s.deleteHistory)
		}
		if s.hub != nil {
			r.Get("/live", s.getLive)
		}
	})
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type voteRequest struct {
	VoterID        string         `json:"voterId"`
	IdentifierHash string         `json:"identifierHash"`
	Verdict        domain.Verdict `json:"verdict"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (s *Server) postVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}
	rating, err := s.votes.SubmitVoteAt(r.Context(), domain.Vote{
		VoterID: req.VoterID, IdentifierHash: req.IdentifierHash, Verdict: req.Verdict, Timestamp: req.Timestamp,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) deleteVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}
	rating, err := s.votes.RetractVoteAt(r.Context(), req.VoterID, req.IdentifierHash, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) getRating(w http.ResponseWriter, r *http.Request) {
	rating, found, err := s.votes.GetRating(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

type scanRequest struct {
	Payload string `json:"payload"`
	VoterID string `json:"voterId,omitempty"`
}

func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.scanner.ScanFor(r.Context(), req.VoterID, req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeInvalidInput})
		return
	}
	writeJSON(w, http.StatusOK, s.history.List(r.Context(), limit))
}

type historyVoteRequest struct {
	VoterID string          `json:"voterId"`
	Verdict *domain.Verdict `json:"verdict"`
}

func (s *Server) postHistoryVote(w http.ResponseWriter, r *http.Request) {
	var req historyVoteRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.scanner.Vote(r.Context(), req.VoterID, chi.URLParam(r, "id"), req.Verdict)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const (
	codeRateLimited  = "RateLimited"
	codeAbuse        = "AbuseDetected"
	codeUnavailable  = "BackendUnavailable"
	codeInvalidInput = "InvalidInput"
	codeNotFound     = "NotFound"
	codeSuperseded   = "Superseded"
	codeInternal     = "Internal"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("http: request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	case errors.Is(err, domain.ErrAbuseDetected):
		return http.StatusForbidden, codeAbuse
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrInvalidVerdict):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, scanner.ErrSuperseded):
		return http.StatusConflict, codeSuperseded
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeInvalidInput})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
