package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rasweb/internal/audit"
	"rasweb/internal/config"
	"rasweb/internal/dispatch"
	"rasweb/internal/images"
	"rasweb/internal/metrics"
	"rasweb/internal/system"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// ImageStore is the part of the image store the HTTP layer uses directly.
// Everything else goes through the dispatcher.
type ImageStore interface {
	Upload(ctx context.Context, name string, declared int64, r io.Reader) (images.ImageFile, error)
	Usage(ctx context.Context) (images.Usage, error)
	SuggestName() string
	Extensions() []string
	MaxUploadBytes() int64
}

type HostInfo interface {
	Info(ctx context.Context) (system.HostInfo, error)
}

type AuditLog interface {
	Record(ctx context.Context, e audit.Entry) error
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Images     ImageStore
	Host       HostInfo
	Audit      AuditLog
	Logger     *zerolog.Logger
}

type Server struct {
	cfg     config.Config
	d       *dispatch.Dispatcher
	images  ImageStore
	host    HostInfo
	audit   AuditLog
	log     *zerolog.Logger
	tmpl    *template.Template
	cookies *securecookie.SecureCookie
}

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = Logger(cfg)
	}
	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	key := cfg.CookieKey
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
	}
	sc := securecookie.New(key, nil)
	sc.MaxAge(300)
	return &Server{
		cfg:     cfg,
		d:       deps.Dispatcher,
		images:  deps.Images,
		host:    deps.Host,
		audit:   deps.Audit,
		log:     deps.Logger,
		tmpl:    tmpl,
		cookies: sc,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(s.log))
	r.Use(securityHeaders)

	if len(s.cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-Confirm-Token"},
			AllowCredentials: false,
		})
		r.Use(c.Handler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"ok": true, "version": metrics.Version})
		})
		api.Get("/status", s.handleStatus)

		api.Get("/devices", s.handleListDevices)
		api.Post("/devices/{id}/{op:attach|detach|insert|eject|protect|unprotect}", s.handleDeviceOp)

		api.Get("/images", s.handleListImages)
		api.Post("/images", s.handleCreateImage)
		api.Post("/images/upload", s.handleAPIUpload)
		api.Delete("/images/{name}", s.handleDeleteImage)

		api.Get("/service", s.handleServiceStatus)
		api.Post("/service/{op:restart|stop}", s.handleServiceOp)
		api.Post("/host/{op:reboot|shutdown}", s.handleHostOp)

		api.Post("/actions", s.handleActions)
		api.Get("/audit", s.handleAudit)
	})

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(pr chi.Router) {
		pr.Use(sameOrigin)
		pr.Get("/", s.handleIndex)
		pr.Post("/action", s.handleFormAction)
		pr.Post("/upload", s.handleFormUpload)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
