package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/cropadvisor/internal/advisory"
	"github.com/briangreenhill/cropadvisor/internal/assetcache"
	"github.com/briangreenhill/cropadvisor/internal/dispatch"
	appmw "github.com/briangreenhill/cropadvisor/internal/http/middleware"
	"github.com/briangreenhill/cropadvisor/internal/jobs"
)

const (
	sessionAPIBase = "api_base"
	maxUploadBytes = 10 << 20
)

type Server struct {
	Router       *chi.Mux
	Sess         *scs.SessionManager
	Assets       *assetcache.Manager
	Views        *dispatch.Registry
	API          *advisory.Client
	Queue        jobs.Enqueuer // nil means installs run in the request
	ManifestPath string

	// baseCtx bounds background work started by handlers.
	baseCtx       context.Context
	adoptInterval time.Duration
	adopting      atomic.Bool
}

type ServerOptions struct {
	Sess         *scs.SessionManager
	Assets       *assetcache.Manager
	Views        *dispatch.Registry
	API          *advisory.Client
	Queue        jobs.Enqueuer
	ManifestPath string

	// BaseContext ends background polling started by queued installs.
	// Defaults to context.Background().
	BaseContext context.Context

	// AdoptInterval is how often a queued install is looked for in the
	// store. Defaults to jobs.DefaultAdoptInterval.
	AdoptInterval time.Duration
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	views := opts.Views
	if views == nil {
		views = dispatch.Default()
	}
	api := opts.API
	if api == nil {
		api = advisory.New()
	}
	s := &Server{
		Router:        r,
		Sess:          opts.Sess,
		Assets:        opts.Assets,
		Views:         views,
		API:           api,
		Queue:         opts.Queue,
		ManifestPath:  opts.ManifestPath,
		baseCtx:       opts.BaseContext,
		adoptInterval: opts.AdoptInterval,
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Route("/_offline", func(or chi.Router) {
		or.Use(appmw.NoStore)
		or.Get("/status", s.handleStatus)
		or.Post("/install", s.handleInstall)
		or.Post("/activate", s.handleActivate)
		or.Delete("/caches/{cacheID}", s.handleRetire)
	})

	r.Group(func(ar chi.Router) {
		ar.Use(s.sessionToContext)
		ar.Get("/api/views", s.handleListViews)
		ar.Post("/api/views/{tab}", s.handleRenderView)
		ar.Post("/api/voice", s.handleVoice)
		ar.Post("/settings/api-base", s.handleSetAPIBase)
	})

	// Everything else is a front-end asset.
	r.NotFound(s.Assets.ServeHTTP)

	return s
}

func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if base := s.Sess.GetString(r.Context(), sessionAPIBase); base != "" {
			r = r.WithContext(appmw.WithAPIBase(r.Context(), base))
		}
		next.ServeHTTP(w, r)
	})
}

// apiFor returns the advisory client for the caller's session.
func (s *Server) apiFor(r *http.Request) *advisory.Client {
	base, ok := appmw.APIBase(r.Context())
	if !ok {
		return s.API
	}
	c, err := s.API.WithBase(base)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("api_base", base).Msg("ignoring session api base")
		return s.API
	}
	return c
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

type statusResponse struct {
	assetcache.Status
	Keys []string `json:"keys"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Assets.Status()
	keys, err := s.Assets.Store().Keys(r.Context(), st.CacheID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list cache keys")
		writeError(w, r, http.StatusInternalServerError, "could not read cache")
		return
	}
	writeJSON(w, r, http.StatusOK, statusResponse{Status: st, Keys: keys})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if s.Queue != nil {
		runID := uuid.NewString()
		taskID, err := s.Queue.EnqueueInstall(r.Context(), jobs.InstallAssetsPayload{
			CacheID:      s.Assets.CacheID(),
			ManifestPath: s.ManifestPath,
			RunID:        runID,
		})
		if errors.Is(err, jobs.ErrAlreadyQueued) {
			writeError(w, r, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("enqueue install")
			writeError(w, r, http.StatusServiceUnavailable, "could not queue install")
			return
		}
		log.Info().Str("task_id", taskID).Str("run_id", runID).Msg("install queued")
		s.adoptQueuedInstall(log.With().Str("run_id", runID).Logger())
		writeJSON(w, r, http.StatusAccepted, map[string]string{"task_id": taskID, "run_id": runID})
		return
	}

	if err := s.Assets.Install(r.Context()); err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	if err := s.Assets.Activate(r.Context()); err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Assets.Status())
}

// adoptQueuedInstall starts one background poll that activates the cache
// once the worker has committed it. A poll already running is reused.
func (s *Server) adoptQueuedInstall(log zerolog.Logger) {
	if !s.adopting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.adopting.Store(false)
		jobs.AdoptInstall(s.baseCtx, s.Assets, s.adoptInterval, log)
	}()
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	ok, err := s.Assets.Restore(r.Context())
	if err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusConflict, "no complete cache to activate")
		return
	}
	if err := s.Assets.Activate(r.Context()); err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Assets.Status())
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cacheID")
	if err := s.Assets.Retire(r.Context(), id); err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Msg("cache lifecycle")
	var fe *assetcache.FetchError
	switch {
	case errors.Is(err, assetcache.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &fe):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

type viewInfo struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	names := s.Views.List()
	out := make([]viewInfo, 0, len(names))
	for _, n := range names {
		v, _ := s.Views.GetView(n)
		out = append(out, viewInfo{Name: n, Title: v.Title()})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"default": dispatch.DefaultTab, "views": out})
}

func (s *Server) handleRenderView(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, chi.URLParam(r, "tab"))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	tab := dispatch.IntentFor(r.FormValue("transcript"))
	w.Header().Set("X-View-Tab", tab)
	s.render(w, r, tab)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, tab string) {
	in, closeFile, err := readInput(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFile()

	out, err := s.Views.Render(r.Context(), tab, s.apiFor(r), in)
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(w, out); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write view response")
	}
}

// readInput accepts url-encoded and multipart forms. The uploaded file, if
// any, is taken from the "file" field.
func readInput(r *http.Request) (dispatch.Input, func(), error) {
	noop := func() {}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return dispatch.Input{}, noop, errors.New("bad multipart form")
		}
	} else if err := r.ParseForm(); err != nil {
		return dispatch.Input{}, noop, errors.New("bad form")
	}

	in := dispatch.Input{Form: r.Form}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return in, noop, nil
	}
	in.File = f
	in.Filename = hdr.Filename
	return in, func() { _ = f.Close() }, nil
}

func (s *Server) viewError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *advisory.APIError
	switch {
	case errors.Is(err, dispatch.ErrBadInput), errors.Is(err, advisory.ErrEmptyFile):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrUnknownView):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		hlog.FromRequest(r).Warn().Err(err).Msg("advisory api error")
		writeJSON(w, r, http.StatusBadGateway, map[string]any{"error": "advisory api error", "status": apiErr.Status, "body": apiErr.Body})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("render view")
		writeError(w, r, http.StatusBadGateway, "advisory api unreachable")
	}
}

func (s *Server) handleSetAPIBase(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad form")
		return
	}
	base := strings.TrimSpace(r.Form.Get("api_base"))
	if base == "" {
		s.Sess.Remove(r.Context(), sessionAPIBase)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err := s.API.WithBase(base); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.Sess.Put(r.Context(), sessionAPIBase, base)
	writeJSON(w, r, http.StatusOK, map[string]string{"api_base": base})
}
