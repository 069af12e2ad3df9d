package httpadapter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"imagewatch/internal/domain"
	"imagewatch/internal/session"
	scanrunner "imagewatch/internal/workers/scanrunner"
)

// AccountHeader carries the authenticated account id, set by the identity
// proxy in front of the service.
const AccountHeader = "X-Account-ID"

// Runner is the part of the scan runner exposed over HTTP.
type Runner interface {
	Invoke(ctx context.Context, name string) error
	RunOnce(ctx context.Context) (int, error)
}

var _ Runner = (*scanrunner.Runner)(nil)

type Server struct {
	sessions       *session.Manager
	runner         Runner
	gatherer       prometheus.Gatherer
	functionsToken string
}

// New returns the API server. runner and gatherer may be nil, in which case
// the simulator endpoint and /metrics are not mounted. When functionsToken is
// set, /functions requires it as a bearer token.
func New(sessions *session.Manager, runner Runner, gatherer prometheus.Gatherer, functionsToken string) *Server {
	return &Server{sessions: sessions, runner: runner, gatherer: gatherer, functionsToken: functionsToken}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.getHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.runner != nil {
		r.With(requireBearer(s.functionsToken)).Post("/functions/{name}", s.postFunction)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAccount)
		r.Get("/images", s.listImages)
		r.Post("/images", s.createImage)
		r.Post("/images/refresh", s.refresh)
		r.Post("/images/batch/scan", s.batchScan)
		r.Post("/images/batch/delete", s.batchDelete)
		r.Delete("/images/{id}", s.deleteImage)
		r.Post("/images/{id}/scan", s.requestScan)
		r.Get("/stats", s.getStats)
		r.Get("/compliance", s.getCompliance)
		r.Get("/notifications", s.getNotifications)
		r.Delete("/session", s.deleteSession)
	})
	return r
}

func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(AccountHeader))
		if id == "" {
			writeError(w, domain.ErrAuthRequired)
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithAccount(r.Context(), id)))
	})
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeMessage(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	filter, err := bindImageFilter(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	images, err := sess.Scanner.ListImages(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// bindImageFilter reads ?search, ?severity, ?last_scan and the comma
// separated ?ids list.
func bindImageFilter(r *http.Request) (domain.ImageFilter, error) {
	var f domain.ImageFilter
	q := r.URL.Query()
	for name, dst := range map[string]*string{
		"search":    &f.Search,
		"severity":  &f.Severity,
		"last_scan": &f.LastScan,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dst); err != nil {
			return f, err
		}
	}
	if err := runtime.BindQueryParameter("form", false, false, "ids", q, &f.IDs); err != nil {
		return f, err
	}
	f.IDs = lo.Compact(lo.Map(f.IDs, func(id string, _ int) string { return strings.TrimSpace(id) }))
	return f, nil
}

type createImageRequest struct {
	Name        string `json:"name"`
	RegistryURL string `json:"registry_url"`
}

func (s *Server) createImage(w http.ResponseWriter, r *http.Request) {
	var body createImageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, err := sess.Scanner.CreateImage(r.Context(), body.Name, body.RegistryURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) requestScan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, err := sess.Scanner.RequestScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, img)
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Scanner.DeleteImage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) batchScan(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, func(sess *session.Session, ctx context.Context, ids []string) (any, error) {
		return sess.Scanner.RequestBatchScan(ctx, ids)
	})
}

func (s *Server) batchDelete(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, func(sess *session.Session, ctx context.Context, ids []string) (any, error) {
		return sess.Scanner.RequestBatchDelete(ctx, ids)
	})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request, run func(*session.Session, context.Context, []string) (any, error)) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		writeMessage(w, http.StatusBadRequest, "ids are required")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := run(sess, r.Context(), body.IDs)
	if err != nil {
		if errors.Is(err, domain.ErrBatchFailed) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Scanner.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	st, err := sess.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getCompliance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	c, err := sess.Compliance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// getNotifications lists the session's notifications. ?drain=true also
// clears them.
func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if drain, _ := strconv.ParseBool(r.URL.Query().Get("drain")); drain {
		writeJSON(w, http.StatusOK, sess.Notes.Drain())
		return
	}
	writeJSON(w, http.StatusOK, sess.Notes.List())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	account, err := domain.AccountFrom(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.SignOut(account)
	w.WriteHeader(http.StatusNoContent)
}

// postFunction signals the scan runner. With ?wait=true it concludes every
// in-flight scan before answering.
func (s *Server) postFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != scanrunner.TriggerName {
		writeMessage(w, http.StatusNotFound, "unknown function "+name)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		n, err := s.runner.RunOnce(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"processed": n})
		return
	}
	if err := s.runner.Invoke(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
