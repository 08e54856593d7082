// Package httpadapter is the thin HTTP dispatch surface over the
// orchestration services.
package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers dispatch to. Health may be nil.
type Deps struct {
	Companies  ports.Companies
	Financials ports.Financials
	Prefetch   ports.Prefetcher
	Status     ports.StatusReporter
	Health     Pinger
	Logger     *slog.Logger
}

type Server struct {
	companies  ports.Companies
	financials ports.Financials
	prefetch   ports.Prefetcher
	status     ports.StatusReporter
	health     Pinger
	logger     *slog.Logger
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Server{
		companies:  d.Companies,
		financials: d.Financials,
		prefetch:   d.Prefetch,
		status:     d.Status,
		health:     d.Health,
		logger:     d.Logger,
	}
}

// Routes returns a chi.Router with middleware and all handlers mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(correlationMiddleware, accessLogMiddleware(s.logger), recoverMiddleware(s.logger))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", s.getHealthz)
	r.Get("/status", s.getStatus)
	r.Get("/companies", s.searchCompanies)
	r.Route("/companies/{orgnr}", func(r chi.Router) {
		r.Get("/", s.getCompany)
		r.Get("/documents", s.getDocuments)
		r.Get("/financials", s.getFinancials)
		r.Post("/financials/prefetch", s.postPrefetch)
	})
	r.Get("/jobs/{id}", s.getJob)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Breakers []domain.CircuitState `json:"breakers"`
	Budgets  []domain.RateBudget   `json:"budgets"`
	Token    tokenStatus           `json:"token"`
}

type tokenStatus struct {
	Present   bool       `json:"present"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	tok := s.status.Token()
	resp := statusResponse{
		Breakers: s.status.Breakers(),
		Budgets:  s.status.Budgets(),
		Token:    tokenStatus{Present: tok.Value != "", Scope: tok.Scope},
	}
	if !tok.ExpiresAt.IsZero() {
		resp.Token.ExpiresAt = &tok.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) searchCompanies(w http.ResponseWriter, r *http.Request) {
	var (
		q     string
		limit *int
	)
	if err := runtime.BindQueryParameter("form", true, true, "q", r.URL.Query(), &q); err != nil {
		s.fail(w, r, bindError("q", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.fail(w, r, bindError("limit", err))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	rows, err := s.companies.Search(r.Context(), q, n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]replicaCompanyDTO, 0, len(rows))
	for _, c := range rows {
		out = append(out, replicaCompanyFrom(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	orgnr, ok := s.orgNumber(w, r)
	if !ok {
		return
	}
	id, err := s.companies.GetIdentity(r.Context(), orgnr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, companyFrom(id))
}

func (s *Server) getDocuments(w http.ResponseWriter, r *http.Request) {
	orgnr, ok := s.orgNumber(w, r)
	if !ok {
		return
	}
	docs, err := s.companies.ListDocuments(r.Context(), orgnr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]documentDTO, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentFrom(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) getFinancials(w http.ResponseWriter, r *http.Request) {
	orgnr, ok := s.orgNumber(w, r)
	if !ok {
		return
	}
	year, ok := s.year(w, r)
	if !ok {
		return
	}
	stmt, err := s.financials.GetFinancials(r.Context(), orgnr, year)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (s *Server) postPrefetch(w http.ResponseWriter, r *http.Request) {
	orgnr, ok := s.orgNumber(w, r)
	if !ok {
		return
	}
	year, ok := s.year(w, r)
	if !ok {
		return
	}
	id, err := s.prefetch.Enqueue(r.Context(), orgnr, year)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	if err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.fail(w, r, bindError("id", err))
		return
	}
	job, err := s.prefetch.Status(r.Context(), id.String())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) orgNumber(w http.ResponseWriter, r *http.Request) (domain.OrgNumber, bool) {
	var raw string
	if err := runtime.BindStyledParameterWithOptions("simple", "orgnr", chi.URLParam(r, "orgnr"), &raw,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.fail(w, r, bindError("orgnr", err))
		return "", false
	}
	orgnr, err := domain.ParseOrgNumber(raw)
	if err != nil {
		s.fail(w, r, domain.WithCorrelation(r.Context(), err))
		return "", false
	}
	return orgnr, true
}

// year reads the optional year query parameter; absent means latest.
func (s *Server) year(w http.ResponseWriter, r *http.Request) (int, bool) {
	var year *int
	if err := runtime.BindQueryParameter("form", true, false, "year", r.URL.Query(), &year); err != nil {
		s.fail(w, r, bindError("year", err))
		return 0, false
	}
	if year == nil {
		return 0, true
	}
	return *year, true
}

func bindError(field string, err error) error {
	return &domain.ValidationError{Field: field, Reason: err.Error()}
}
