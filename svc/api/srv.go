package api

import (
	"context"
	"net/http"
	"sharebin/cfg"
	"sharebin/svc/db"
	"sharebin/svc/mon"
	"sharebin/svc/svc"
	"sharebin/svc/util"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	cfg        *cfg.Cfg
	meta       pinger
	blobs      pinger
	rdb        *db.Redis
	httpServer *http.Server
}

// NewServer builds the router. rdb and detector may be nil.
func NewServer(c *cfg.Cfg, p *svc.Paste, detector *mon.AnomalyDetector, meta, blobs pinger, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(detector, c)
	s := &Server{
		router: r,
		paste:  p,
		cfg:    c,
		meta:   meta,
		blobs:  blobs,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.With(mw.BasicAuthMetrics).Mount("/debug", middleware.Profiler())

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.Observe)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		hdl := &Hdl{paste: p, cfg: c}
		r.Route("/api", func(r chi.Router) {
			r.Post("/users", hdl.RegisterUser)
			r.Post("/pastes", hdl.CreatePaste)
			r.Get("/pastes/user/{userId}", hdl.ListPastes)
			r.Get("/pastes/{slug}", hdl.ViewPaste)
			r.Get("/pastes/{slug}/download", hdl.DownloadPaste)
			r.Get("/pastes/{slug}/preview", hdl.PreviewPaste)
			r.Get("/pastes/{slug}/qr", hdl.PasteQR)
			r.Delete("/pastes/{slug}", hdl.DeletePaste)
		})
	})
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
