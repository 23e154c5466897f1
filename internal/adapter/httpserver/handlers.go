// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the matching engine's REST surface: document ingestion,
// document/job lookup, synchronous and bulk matching, and health checks.
// The package follows clean architecture principles and provides a clear
// separation between HTTP concerns and business logic.
package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/usecase"
)

// Server aggregates the ports and usecases every handler needs.
type Server struct {
	Docs       domain.DocumentRepository
	Structured domain.StructuredRepository
	Jobs       domain.JobRepository
	Parser     domain.Parser

	Ingest    usecase.IngestService
	MatchSvc  usecase.MatchService
	Scorer    usecase.Scorer
	Readiness usecase.ReadinessService

	MaxUploadMB int64
}

// NewServer constructs an HTTP server with all handler dependencies wired.
func NewServer(docs domain.DocumentRepository, structured domain.StructuredRepository, jobs domain.JobRepository, parser domain.Parser, ingest usecase.IngestService, matchSvc usecase.MatchService, scorer usecase.Scorer, readiness usecase.ReadinessService, maxUploadMB int64) *Server {
	return &Server{
		Docs:        docs,
		Structured:  structured,
		Jobs:        jobs,
		Parser:      parser,
		Ingest:      ingest,
		MatchSvc:    matchSvc,
		Scorer:      scorer,
		Readiness:   readiness,
		MaxUploadMB: maxUploadMB,
	}
}

// ingestResponse is the shared shape for /ingest/cv and /ingest/jd.
type ingestResponse struct {
	DocumentID string   `json:"document_id"`
	JobID      string   `json:"job_id,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ingestHandler builds the shared multipart-upload handler for one
// document kind; IngestCVHandler/IngestJDHandler just bind kind.
func (s *Server) ingestHandler(kind domain.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrTooLarge, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		mime := mimetype.Detect(data).String()
		text, warnings, err := s.Parser.Parse(r.Context(), header.Filename, mime, data)
		if err != nil {
			writeError(w, r, err, map[string]string{"filename": header.Filename})
			return
		}

		sum := sha256.Sum256(data)
		doc := domain.Document{
			Kind:        kind,
			RawText:     text,
			ContentHash: hex.EncodeToString(sum[:]),
			Filename:    header.Filename,
			MIME:        mime,
			Size:        int64(len(data)),
			Status:      domain.DocumentReceived,
			Warnings:    warnings,
		}
		docID, jobID, err := s.Ingest.Enqueue(r.Context(), doc, r.Header.Get("Idempotency-Key"))
		if err != nil {
			writeError(w, r, fmt.Errorf("ingest: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, ingestResponse{DocumentID: docID, JobID: jobID, Warnings: warnings})
	}
}

// IngestCVHandler handles POST /ingest/cv.
func (s *Server) IngestCVHandler() http.HandlerFunc { return s.ingestHandler(domain.DocumentCV) }

// IngestJDHandler handles POST /ingest/jd.
func (s *Server) IngestJDHandler() http.HandlerFunc { return s.ingestHandler(domain.DocumentJD) }

type docResponse struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Status           string            `json:"status"`
	Filename         string            `json:"filename"`
	Warnings         []string          `json:"warnings,omitempty"`
	Title            string            `json:"title,omitempty"`
	Category         string            `json:"category,omitempty"`
	ExperienceYears  float64           `json:"experience_years,omitempty"`
	Skills           []string          `json:"skills,omitempty"`
	Responsibilities []string          `json:"responsibilities,omitempty"`
}

// DocHandler handles GET /doc/{id}: document metadata plus, once the
// extraction stage has completed, its Structured fields.
func (s *Server) DocHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		ctx := r.Context()
		doc, err := s.Docs.Get(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := docResponse{
			ID:       doc.ID,
			Kind:     string(doc.Kind),
			Status:   string(doc.Status),
			Filename: doc.Filename,
			Warnings: doc.Warnings,
		}
		if structured, err := s.Structured.GetByDocumentID(ctx, id); err == nil {
			resp.Title = structured.Title
			resp.Category = structured.Category
			resp.ExperienceYears = structured.ExperienceYears
			resp.Skills = stripPad(structured.Skills[:])
			resp.Responsibilities = stripPad(structured.Responsibilities[:])
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// stripPad drops domain.PadToken slots so API responses only show the
// skills/responsibilities actually extracted from the source document.
func stripPad(slots []string) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s != "" && s != domain.PadToken {
			out = append(out, s)
		}
	}
	return out
}

type scoreResponse struct {
	CVID           string                `json:"cv_id"`
	JDID           string                `json:"jd_id"`
	CompositeScore float64               `json:"composite_score"`
	Breakdown      domain.ScoreBreakdown `json:"breakdown"`
	WeightsVersion string                `json:"weights_version"`
}

func toScoreResponse(m domain.Match) scoreResponse {
	return scoreResponse{
		CVID:           m.CVID,
		JDID:           m.JDID,
		CompositeScore: m.CompositeScore,
		Breakdown:      m.Breakdown,
		WeightsVersion: m.WeightsVersion,
	}
}

// MatchHandler handles POST /match: {jd_id, cv_id} -> Score, computed
// synchronously (cache/repo-backed, see usecase.Scorer.MatchSync).
func (s *Server) MatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JDID string `json:"jd_id"`
			CVID string `json:"cv_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		m, err := s.Scorer.MatchSync(r.Context(), req.CVID, req.JDID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toScoreResponse(m))
	}
}

type bulkMatchResponse struct {
	JDID    string          `json:"jd_id"`
	JobIDs  []string        `json:"job_ids"`
	Ranked  []scoreResponse `json:"ranked"`
}

// BulkMatchHandler handles POST /match/bulk: {jd_id, cv_ids[]} -> ranked
// list. An async chunked job is enqueued for progress tracking via
// GET /job/{id} while the ranked list itself is computed synchronously
// (each pair going through the same cache/repo-backed MatchSync path).
func (s *Server) BulkMatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JDID  string   `json:"jd_id"`
			CVIDs []string `json:"cv_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		ctx := r.Context()
		jobIDs, err := s.MatchSvc.EnqueueBulkMatch(ctx, req.JDID, req.CVIDs, r.Header.Get("Idempotency-Key"))
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue bulk match: %w", err), nil)
			return
		}

		ranked := make([]scoreResponse, 0, len(req.CVIDs))
		for _, cvID := range req.CVIDs {
			m, err := s.Scorer.MatchSync(ctx, cvID, req.JDID)
			if err != nil {
				continue // not-yet-scorable pairs are dropped from the immediate response; GET /job/{id} still tracks them
			}
			ranked = append(ranked, toScoreResponse(m))
		}
		for i := 1; i < len(ranked); i++ {
			for j := i; j > 0 && ranked[j].CompositeScore > ranked[j-1].CompositeScore; j-- {
				ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			}
		}
		writeJSON(w, http.StatusOK, bulkMatchResponse{JDID: req.JDID, JobIDs: jobIDs, Ranked: ranked})
	}
}

type jobResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// JobHandler handles GET /job/{id}: the bookkeeping row's current progress.
func (s *Server) JobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse{
			ID:       job.ID,
			Kind:     string(job.Kind),
			Status:   string(job.Status),
			Attempts: job.Attempts,
			Error:    job.Error,
		})
	}
}

// HealthHandler handles GET /health: liveness plus a per-adapter readiness
// probe via usecase.ReadinessService.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.Readiness.Check(r.Context())
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
	}
}
