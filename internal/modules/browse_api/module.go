package browseapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	freecache "github.com/coocood/freecache"
	gocache "github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	gocachefreecache "github.com/eko/gocache/store/freecache/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
)

// DefaultListen is the API address used when none is configured.
const DefaultListen = "127.0.0.1:9098"

// Browser is the library surface served over HTTP.
type Browser interface {
	Players(ctx context.Context) (core.PlayersResult, error)
	List(ctx context.Context, req core.ListRequest) (core.ListResult, error)
	Search(ctx context.Context, term string) (core.SearchResult, error)
}

// Source reports connection changes that invalidate cached lists.
type Source interface {
	AddListener(l session.Listener) func()
}

// Config configures the browse API.
type Config struct {
	Listen string
	// CacheSize is the cache size in bytes. Negative disables caching.
	CacheSize int
	CacheTTL  time.Duration
	Compress  bool
	Timeout   time.Duration
}

// Module serves complete library lists as JSON, caching them between
// requests.
type Module struct {
	log     *zap.Logger
	browser Browser
	src     Source
	cfg     Config
	cache   gocache.CacheInterface[[]byte]
}

// NewModule creates the browse API.
func NewModule(log *zap.Logger, browser Browser, src Source, cfg Config) (*Module, error) {
	if browser == nil {
		return nil, errors.New("browser required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Module{
		log:     log.With(zap.String("module", "browse_api")),
		browser: browser,
		src:     src,
		cfg:     cfg,
		cache:   newCache(cfg.CacheSize),
	}, nil
}

func newCache(size int) gocache.CacheInterface[[]byte] {
	if size < 0 {
		return nil
	}
	if size == 0 {
		size = 32 * 1024 * 1024
	}
	store := gocachefreecache.NewFreecache(freecache.NewCache(size))
	return gocache.New[[]byte](store)
}

// Handler returns the HTTP handler serving the API.
func (m *Module) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /players", m.servePlayers)
	mux.HandleFunc("GET /lists/{kind}", m.serveList)
	mux.HandleFunc("GET /search", m.serveSearch)
	return mux
}

// Run serves until ctx is done. Cached lists are dropped whenever the session
// connects or disconnects.
func (m *Module) Run(ctx context.Context) error {
	if m.src != nil {
		remove := m.src.AddListener(session.Listener{
			Connection: func(_, postConnect bool) {
				if !postConnect {
					m.Invalidate()
				}
			},
		})
		defer remove()
	}

	ln, err := net.Listen("tcp", m.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.log.Info("browse api listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Invalidate drops every cached response.
func (m *Module) Invalidate() {
	if m.cache == nil {
		return
	}
	if err := m.cache.Clear(context.Background()); err != nil {
		m.log.Debug("cache clear failed", zap.Error(err))
	}
}

func (m *Module) servePlayers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.Timeout)
	defer cancel()
	result, err := m.browser.Players(ctx)
	m.respond(w, "", result, err)
}

func (m *Module) serveList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := core.ListRequest{
		Kind:       r.PathValue("kind"),
		Player:     q.Get("player"),
		Plugin:     q.Get("plugin"),
		Search:     q.Get("search"),
		ArtistID:   q.Get("artist"),
		AlbumID:    q.Get("album"),
		GenreID:    q.Get("genre"),
		Year:       q.Get("year"),
		PlaylistID: q.Get("playlist"),
		FolderID:   q.Get("folder"),
		ItemID:     q.Get("item"),
	}
	// Player and plugin lists change without a rescan.
	key := ""
	if req.Kind != "players" && req.Kind != "items" {
		key = cacheKey("list", req.Kind, q)
	}
	if m.serveCached(w, key) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.Timeout)
	defer cancel()
	result, err := m.browser.List(ctx, req)
	m.respond(w, key, result, err)
}

func (m *Module) serveSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	key := cacheKey("search", term, nil)
	if m.serveCached(w, key) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.Timeout)
	defer cancel()
	result, err := m.browser.Search(ctx, term)
	m.respond(w, key, result, err)
}

// cacheKey builds a stable key from the endpoint, its subject and the sorted
// query.
func cacheKey(endpoint, subject string, q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s", endpoint, subject)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%s", k, q.Get(k))
	}
	return b.String()
}

func (m *Module) serveCached(w http.ResponseWriter, key string) bool {
	if key == "" || m.cache == nil {
		return false
	}
	value, err := m.cache.Get(context.Background(), key)
	if err != nil {
		return false
	}
	if m.cfg.Compress {
		if value, err = snappy.Decode(nil, value); err != nil {
			m.log.Debug("cache decode failed", zap.String("key", key), zap.Error(err))
			return false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "hit")
	_, _ = w.Write(value)
	return true
}

func (m *Module) respond(w http.ResponseWriter, key string, result any, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			m.log.Warn("browse request failed", zap.Error(err))
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if key != "" && m.cache != nil {
		value := payload
		if m.cfg.Compress {
			value = snappy.Encode(nil, payload)
		}
		_ = m.cache.Set(context.Background(), key, value, libstore.WithExpiration(m.cfg.CacheTTL))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	_, _ = w.Write(payload)
}

func statusFor(err error) int {
	switch core.ExitCode(err) {
	case core.ExitUsage:
		return http.StatusBadRequest
	case core.ExitNotFound:
		return http.StatusNotFound
	case core.ExitConnect:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
