package http

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"counters/internal/cache"
	"counters/internal/core"
	"counters/internal/dashboard"
	"counters/internal/log"
	"counters/internal/middleware/ratelimit"
	"counters/internal/middleware/security"
	"counters/internal/middleware/trace"
	"counters/internal/store"
	appweb "counters/web"
)

// CategoryBackend is the store the dashboard writes through.
// Implemented by services.CategoryService.
type CategoryBackend interface {
	store.CategoryStore
	// Adjuster returns nil when the store has no atomic update.
	Adjuster() store.Adjuster
	Ping(ctx context.Context) error
}

// Config holds the server settings.
type Config struct {
	Addr               string
	Location           *time.Location
	StoreTimeout       time.Duration
	ViewTTL            time.Duration
	MaxViews           int
	RateLimitPerMinute int
	// AtomicCounters routes counter updates through the store adjuster
	// when the backend has one.
	AtomicCounters bool
}

// Deps are the collaborators shared by every view.
type Deps struct {
	Backend CategoryBackend
	Feed    store.ChangeFeed
	Sweeper dashboard.Sweeper
	Logger  *log.Logger
}

type appMetrics struct {
	categoriesCreated  atomic.Int64
	counterAdjustments atomic.Int64
	categoriesDeleted  atomic.Int64
	viewsMounted       atomic.Int64
	uptime             time.Time
}

type Server struct {
	http.Server
	cfg       Config
	deps      Deps
	logger    *log.Logger
	templates *template.Template

	views        *cache.LRUCache[*dashboard.Container]
	cacheManager *cache.Manager

	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware
	securityDetector *security.Detector
	appMetrics       appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = 30 * time.Minute
	}
	if cfg.MaxViews <= 0 {
		cfg.MaxViews = 500
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		cfg:              cfg,
		deps:             deps,
		logger:           deps.Logger.WithComponent(log.ComponentHTTP),
		views:            cache.NewLRUCache[*dashboard.Container](cfg.MaxViews, cfg.ViewTTL),
		cacheManager:     cache.NewManager(),
		securityDetector: security.NewDetector(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
	}
	s.appMetrics.uptime = time.Now()
	s.traceMiddleware = trace.NewMiddleware(deps.Logger, s.securityDetector.ExtractClientIP)

	s.views.OnEvict(func(id string, c *dashboard.Container) {
		c.Close()
		s.logger.Debug("View closed", log.FieldViewID, id)
	})
	s.cacheManager.Register("views", s.views)
	s.cacheManager.StartCleanup(time.Minute)

	t, err := template.New("").Funcs(s.templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = t

	mux := http.NewServeMux()

	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
	mux.Handle("/static/", security.StaticAssetMiddleware(3600)(static))

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/ui/dashboard", s.handleDashboard)
	mux.HandleFunc("/ui/sort", s.handleSort)
	mux.HandleFunc("/categories", s.handleCreateCategory)
	mux.HandleFunc("/categories/select", s.handleSelectCategory)
	mux.HandleFunc("/categories/delete", s.handleDeleteCategory)
	mux.HandleFunc("/counter/adjust", s.handleAdjustCounter)
	mux.HandleFunc("/counter/reset", s.handleResetCounter)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.rateLimited, http.MethodPost)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.flagSuspicious(handler)
	handler = headers.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}
	return s, nil
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"displayTime": func(ts string) string {
			return core.DisplayTimestamp(ts, s.cfg.Location)
		},
	}
}

// flagSuspicious logs probing requests. They are still served normally.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.IsSuspicious(r) {
			log.FromContext(r.Context()).Warn("Suspicious request",
				log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
				log.FieldPath, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).Warn("Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	NewHTMXResponse().
		Status(http.StatusTooManyRequests).
		TriggerErrorNotification("Too many requests", "Please try again in a minute.").
		Write(w)
}

// mountView creates and registers a new view.
func (s *Server) mountView(ctx context.Context) (string, *dashboard.Container, error) {
	var adjuster store.Adjuster
	if s.cfg.AtomicCounters {
		adjuster = s.deps.Backend.Adjuster()
	}

	c := dashboard.New(dashboard.Deps{
		Store:          s.deps.Backend,
		Feed:           s.deps.Feed,
		Adjuster:       adjuster,
		Sweeper:        s.deps.Sweeper,
		Location:       s.cfg.Location,
		Logger:         s.deps.Logger,
		RefreshTimeout: s.cfg.StoreTimeout,
	})
	id := newViewID()
	s.views.Set(id, c)
	s.appMetrics.viewsMounted.Add(1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return id, c, c.Mount(ctx)
}

// lookupView resolves the view of r. When it is unknown the response has
// already been written.
func (s *Server) lookupView(w http.ResponseWriter, r *http.Request) (string, *dashboard.Container, bool) {
	id := viewID(r)
	if id != "" {
		if c, ok := s.views.Get(id); ok {
			return id, c, true
		}
	}
	log.FromContext(r.Context()).Info("Unknown or expired view", log.FieldViewID, id)
	ViewExpired().Write(w)
	return "", nil, false
}

// storeContext bounds a store call made on behalf of r.
func (s *Server) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
}

func (s *Server) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Views returns the number of live views.
func (s *Server) Views() int {
	return s.views.Size()
}

// Shutdown gracefully shuts down the server and closes every view.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		s.views.Clear()
	})

	return shutdownErr
}
