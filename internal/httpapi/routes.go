package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-playground/validator/v10"

	"pushcron/internal/dispatch"
	"pushcron/internal/storage"
	"pushcron/internal/trigger"
	logx "pushcron/pkg/logx"
)

const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// CustomResponse is the success body of the custom endpoint.
type CustomResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// JobInfo is one row of GET /jobs.
type JobInfo struct {
	Name      string    `json:"name"`
	Scheduled bool      `json:"scheduled"`
	Schedule  string    `json:"schedule,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Target    string    `json:"target"`
	Variants  int       `json:"variants"`
	Next      time.Time `json:"next,omitzero"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}).Handler)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{name}/fire", s.fireJob)
	r.Post("/jobs/{name}/fire", s.fireJob)

	if s.custom.Enabled {
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(jwtauth.New("HS256", []byte(s.cfg.Auth.Secret), nil)))
			r.Use(authenticator(s.cfg.Auth))
			r.Post("/notifications/custom", s.sendCustom)
			if s.deps.Audit != nil {
				r.Get("/audit", s.listAudit)
			}
		})
	}

	if s.cfg.Metrics && s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	if s.cfg.Pprof {
		if isLoopbackAddr(s.cfg.ListenAddr()) {
			r.Mount("/debug", middleware.Profiler())
		} else {
			s.log.Warn("pprof not mounted: listen address is not loopback", logx.String("addr", s.cfg.ListenAddr()))
		}
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	next := map[string]time.Time{}
	if s.deps.Schedules != nil {
		for _, it := range s.deps.Schedules().Schedules {
			next[it.Name] = it.Next
		}
	}
	jobs := s.deps.Gateway.Registry().Jobs()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{Name: j.Name, Scheduled: j.Scheduled, Target: j.Policy.Describe(), Variants: j.Pool.Len()}
		if j.Scheduled {
			info.Schedule = j.Rule.Expr
			info.Timezone = j.Rule.Location.String()
			info.Next = next[j.Name]
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// fireJob runs a job now and answers in plain text.
func (s *Server) fireJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rc := dispatch.RequestContext{EntityID: r.URL.Query().Get("userId")}

	start := time.Now()
	ev, err := s.deps.Gateway.FireNow(r.Context(), name, rc)
	s.audit(r, "fire", name, ev, err, start)

	var (
		ite *dispatch.InvalidTargetError
		de  *trigger.DispatchError
	)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, fmt.Sprintf("Notification %s sent successfully to %s", name, ev.Target))
	case errors.Is(err, trigger.ErrUnknownJob):
		writeText(w, http.StatusNotFound, fmt.Sprintf("Unknown job %s", name))
	case errors.As(err, &ite):
		writeText(w, http.StatusBadRequest, "Invalid target: "+ite.Reason)
	case errors.As(err, &de):
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("Error sending notification: %s", de.Outcome.Reason))
	default:
		writeText(w, http.StatusInternalServerError, "Error sending notification")
	}
}

// sendCustom is the authenticated custom endpoint. Every failure after
// request validation is reported as INTERNAL.
func (s *Server) sendCustom(w http.ResponseWriter, r *http.Request) {
	var req trigger.CustomRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		ErrInvalidArgument.Withf("malformed body: %v", err).Write(w)
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrInvalidArgument.Withf("%v", err).Write(w)
		return
	}

	start := time.Now()
	ev, err := s.deps.Gateway.SendCustom(r.Context(), req)
	s.audit(r, "custom", trigger.CustomJobName, ev, err, start)
	if err != nil {
		apiErr := ErrInternal.Withf("Failed to send notification")
		var (
			ce  *dispatch.ConfigurationError
			ite *dispatch.InvalidTargetError
			de  *trigger.DispatchError
		)
		switch {
		case errors.As(err, &ce):
			ErrInvalidArgument.Withf("%v", ce.Err).Write(w)
			return
		case errors.As(err, &ite):
			apiErr = apiErr.WithDetail("reason", string(dispatch.ReasonInvalidTarget))
		case errors.As(err, &de):
			apiErr = apiErr.WithDetail("reason", string(de.Outcome.Reason))
		}
		s.log.Warn("custom notification rejected", logx.String("actor", actorFrom(r.Context())), logx.Err(err))
		apiErr.Write(w)
		return
	}
	writeJSON(w, http.StatusOK, CustomResponse{Success: true, Message: "Notification sent"})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			ErrInvalidArgument.Withf("limit must be between 1 and 1000").Write(w)
			return
		}
		limit = n
	}
	entries, err := s.deps.Audit.RecentAudit(r.Context(), limit)
	if err != nil {
		s.log.Error("audit read failed", logx.Err(err))
		ErrInternal.Write(w)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) audit(r *http.Request, action, job string, ev trigger.Event, err error, start time.Time) {
	if s.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        start,
		RequestID: middleware.GetReqID(r.Context()),
		Actor:     actorFrom(r.Context()),
		Remote:    r.RemoteAddr,
		Action:    action,
		Job:       job,
		OK:        err == nil,
		Reason:    string(ev.Outcome.Reason),
		TookMS:    time.Since(start).Milliseconds(),
	}
	if ev.Target.Kind != 0 {
		e.Target = ev.Target.String()
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.deps.Audit.AppendAudit(r.Context(), e); aerr != nil {
		s.log.Warn("audit append failed", logx.Err(aerr))
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
