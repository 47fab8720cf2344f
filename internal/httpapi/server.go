// Package httpapi implements the external-interface layer (§6.3): room
// listing, media file/track/thumbnail endpoints, CSRF issuance, and
// static page hosting, delegating playback/control traffic entirely to
// internal/ws. The Echo application shape — New() building routes,
// Run() blocking on context cancellation with a bounded shutdown,
// slog-based request logging middleware — is carried directly from the
// teacher's internal/httpapi/server.go.
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"syncplayer/internal/config"
	"syncplayer/internal/probe"
	"syncplayer/internal/ratelimit"
	"syncplayer/internal/registry"
	"syncplayer/internal/router"
	"syncplayer/internal/thumbnail"
	"syncplayer/internal/validate"
	"syncplayer/internal/ws"
)

// mediaExtensions is the allow-list for /api/files (§6.3).
var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true,
	".mp3": true, ".flac": true, ".ogg": true, ".wav": true, ".m4a": true,
}

// fileListCacheTTL matches §6.3's "cached (20 s) listing".
const fileListCacheTTL = 20 * time.Second

const sessionCookieName = "sync_session"

// Server is the Echo application exposing the HTTP surface.
type Server struct {
	echo     *echo.Echo
	cfg      config.Config
	registry *registry.Registry
	mediaDir string
	prober   *probe.Prober
	thumbs   *thumbnail.Generator
	logger   *slog.Logger

	csrf      *csrfStore
	fileCache *fileListCache

	filesLimiter     *endpointLimiter
	tracksLimiter    *endpointLimiter
	thumbnailLimiter *endpointLimiter
}

// New constructs the Echo application and registers every route,
// including the WebSocket upgrade handler.
func New(cfg config.Config, reg *registry.Registry, rt *router.Router, mediaDir string, prober *probe.Prober, thumbs *thumbnail.Generator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:             e,
		cfg:              cfg,
		registry:         reg,
		mediaDir:         mediaDir,
		prober:           prober,
		thumbs:           thumbs,
		logger:           logger,
		csrf:             newCSRFStore(),
		fileCache:        newFileListCache(mediaDir, fileListCacheTTL),
		filesLimiter:     newEndpointLimiter(35, time.Minute),
		tracksLimiter:    newEndpointLimiter(60, time.Minute),
		thumbnailLimiter: newEndpointLimiter(50, time.Minute),
	}
	s.registerRoutes()
	ws.NewHandler(rt, logger).Register(e)
	return s
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleLanding)
	s.echo.GET("/admin", s.handleAdmin)
	s.echo.GET("/admin/:code", s.handleAdmin)
	s.echo.GET("/watch/:code", s.handleWatch)

	api := s.echo.Group("/api", s.csrfMiddleware)
	api.GET("/rooms", s.handleListRooms)
	api.GET("/rooms/:code", s.handleRoomSummary)
	api.GET("/files", s.rateLimited(s.filesLimiter, s.handleFiles))
	api.GET("/tracks/:filename", s.rateLimited(s.tracksLimiter, s.handleTracks))
	api.GET("/thumbnail/:filename", s.rateLimited(s.thumbnailLimiter, s.handleThumbnail))
	api.GET("/csrf-token", s.handleCSRFToken)
	api.GET("/server-mode", s.handleServerMode)
	api.GET("/vpn-check", s.handleVPNCheck)
}

// Run starts the HTTP(S) server and blocks until ctx is canceled,
// shutting down within 5s of cancellation. A non-nil tlsConfig serves
// HTTPS with the given bootstrap certificate (§4.1 use_https); nil
// serves plain HTTP. Wrapping Echo in a plain *http.Server rather than
// using Echo's own Start/StartTLS mirrors the teacher's server.go, which
// builds its own http.Server around a mux for the same reason: direct
// control over TLSConfig and a single well-known shutdown path.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			s.logger.Warn("http shutdown error", "error", err)
		}
	}()

	var err error
	if tlsConfig != nil {
		err = httpSrv.ListenAndServeTLS("", "")
	} else {
		err = httpSrv.ListenAndServe()
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// --- pages ---

func (s *Server) handleLanding(c echo.Context) error {
	return c.HTML(http.StatusOK, "<!doctype html><title>Sync-Player</title><p>Sync-Player server running.</p>")
}

func (s *Server) handleAdmin(c echo.Context) error {
	token, _ := s.csrf.ensureSession(c)
	code := c.Param("code")
	return c.HTML(http.StatusOK, fmt.Sprintf(
		"<!doctype html><title>Sync-Player admin</title><div data-room-code=%q data-csrf-token=%q></div>",
		code, token))
}

func (s *Server) handleWatch(c echo.Context) error {
	code := c.Param("code")
	if _, ok := s.registry.GetRoom(code); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	return c.HTML(http.StatusOK, fmt.Sprintf("<!doctype html><title>Sync-Player</title><div data-room-code=%q></div>", code))
}

// --- rooms ---

type roomSummaryResponse struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Viewers   int    `json:"viewers"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleListRooms(c echo.Context) error {
	rooms := s.registry.ListPublic()
	out := make([]roomSummaryResponse, len(rooms))
	for i, r := range rooms {
		out[i] = roomSummaryResponse{Code: r.Code, Name: r.Name, Viewers: r.Viewers, CreatedAt: r.CreatedAt.UnixMilli()}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRoomSummary(c echo.Context) error {
	room, ok := s.registry.GetRoom(c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	return c.JSON(http.StatusOK, roomSummaryResponse{
		Code:      room.Code(),
		Name:      room.Name(),
		Viewers:   room.MemberCount(),
		CreatedAt: room.CreatedAt().UnixMilli(),
	})
}

// --- media ---

func (s *Server) handleFiles(c echo.Context) error {
	files, err := s.fileCache.list()
	if err != nil {
		s.logger.Warn("list media directory failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list media files")
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleTracks(c echo.Context) error {
	filename := c.Param("filename")
	if _, err := validate.Filename(filename); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.prober == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "probe is not configured")
	}
	res := s.prober.Probe(c.Request().Context(), filename)
	return c.JSON(http.StatusOK, map[string]any{
		"audioTracks":    res.AudioTracks,
		"subtitleTracks": res.SubtitleTracks,
		"usesHEVC":       res.UsesHEVC,
	})
}

func (s *Server) handleThumbnail(c echo.Context) error {
	filename := c.Param("filename")
	if s.thumbs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "thumbnail generation is not configured")
	}
	path, err := s.thumbs.Path(c.Request().Context(), filename)
	if err != nil {
		if _, verr := validate.Filename(filename); verr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		s.logger.Warn("thumbnail generation failed", "filename", filename, "error", err)
		return echo.NewHTTPError(http.StatusNotFound, "thumbnail not available")
	}
	return c.File(path)
}

// --- CSRF / mode hints ---

func (s *Server) handleCSRFToken(c echo.Context) error {
	token, _ := s.csrf.ensureSession(c)
	return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
}

func (s *Server) handleServerMode(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"serverMode": s.cfg.ServerMode})
}

func (s *Server) handleVPNCheck(c echo.Context) error {
	host := c.Request().Host
	isPrivate := strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") || strings.Contains(host, "localhost")
	return c.JSON(http.StatusOK, map[string]bool{"likelyLAN": isPrivate})
}

// --- CSRF enforcement (§6.3: "all mutating HTTP requests require a
// matching CSRF token"). No repo in the reference corpus imports a CSRF
// library; Echo's own middleware package ships one but keys it to a
// single global secret rather than per-session tokens, so a minimal
// session-bound token store implemented directly is the better fit and
// is documented in DESIGN.md as a stdlib-grounded exception. ---

type csrfStore struct {
	mu     sync.Mutex
	tokens map[string]string // session id -> token
}

func newCSRFStore() *csrfStore {
	return &csrfStore{tokens: make(map[string]string)}
}

func (s *csrfStore) ensureSession(c echo.Context) (token, sessionID string) {
	cookie, err := c.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		sessionID = cookie.Value
	} else {
		sessionID = randomHex(16)
		c.SetCookie(&http.Cookie{
			Name:     sessionCookieName,
			Value:    sessionID,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   int((24 * time.Hour).Seconds()),
			Path:     "/",
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[sessionID]
	if !ok {
		token = randomHex(32)
		s.tokens[sessionID] = token
	}
	return token, sessionID
}

func (s *csrfStore) verify(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[sessionID] == token
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *Server) csrfMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !isMutating(c.Request().Method) {
			return next(c)
		}
		cookie, err := c.Cookie(sessionCookieName)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "missing session cookie")
		}
		token := c.Request().Header.Get("x-csrf-token")
		if token == "" {
			token = c.FormValue("_csrf")
		}
		if !s.csrf.verify(cookie.Value, token) {
			return echo.NewHTTPError(http.StatusForbidden, "invalid csrf token")
		}
		return next(c)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// --- per-endpoint rate limiting (§6.3: "1-minute window with
// per-endpoint caps... localhost bypasses") ---

type endpointLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cap      int
	window   time.Duration
}

func newEndpointLimiter(cap int, window time.Duration) *endpointLimiter {
	return &endpointLimiter{limiters: make(map[string]*rate.Limiter), cap: cap, window: window}
}

func (l *endpointLimiter) allow(addr string) bool {
	if ratelimit.IsLoopback(addr) {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.cap)), l.cap)
		l.limiters[addr] = lim
	}
	return lim.Allow()
}

func (s *Server) rateLimited(l *endpointLimiter, handler echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !l.allow(c.RealIP()) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return handler(c)
	}
}

// --- file listing cache ---

type mediaFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type fileListCache struct {
	mu       sync.Mutex
	dir      string
	ttl      time.Duration
	cachedAt time.Time
	cached   []mediaFile
}

func newFileListCache(dir string, ttl time.Duration) *fileListCache {
	return &fileListCache{dir: dir, ttl: ttl}
}

func (c *fileListCache) list() ([]mediaFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.cachedAt) < c.ttl && c.cached != nil {
		return c.cached, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read media directory: %w", err)
	}
	var files []mediaFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, mediaFile{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	c.cached = files
	c.cachedAt = time.Now()
	return files, nil
}
