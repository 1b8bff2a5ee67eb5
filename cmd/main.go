// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"delivery-zone/internal/api"
	"delivery-zone/internal/geocache"
	"delivery-zone/internal/geocode"
	"delivery-zone/internal/live"
	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
	"delivery-zone/internal/middleware"
	"delivery-zone/internal/migrate"
	"delivery-zone/internal/model"
	"delivery-zone/internal/notify"
	"delivery-zone/internal/quote"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/store"
	"delivery-zone/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 设置后端：PostgreSQL（默认）或内存
	var (
		backend settings.Backend
		pg      *store.Postgres
	)
	if utils.PostgresEnabled() {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pg = store.AttachDB(db)
		if err := pg.Ping(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		backend = pg
	} else {
		l.Warn("db_disabled", "backend", "memory")
		backend = store.NewMemory()
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
		rc = nil
	} else {
		l.Info("redis_ping_ok")
		defer rc.Close()
	}

	n := openNotifier(ctx, rc, pg != nil)
	defer n.Close()

	ttl := time.Duration(utils.EnvSeconds("SETTINGS_CACHE_TTL_S", int(settings.DefaultSnapshotTTL/time.Second))) * time.Second
	st := settings.New(backend, settings.WithNotifier(n), settings.WithSnapshotTTL(ttl))
	defer st.Close()

	geoTTL := time.Duration(utils.EnvSeconds("GEOCODE_CACHE_TTL_S", int(geocache.DefaultTTL/time.Second))) * time.Second
	mem := geocache.NewMemory(geoTTL, uint64(utils.EnvSeconds("GEOCODE_CACHE_CAPACITY", 10000)))
	defer mem.Close()
	var cache geocache.Cache = geocache.NewChain(mem)
	if rc != nil {
		cache = geocache.NewChain(mem, geocache.NewRedis(rc, os.Getenv("GEOCODE_CACHE_PREFIX"), geoTTL))
		l.Info("geocache_tiers", "memory", true, "redis", true)
	}

	svc := quote.New(st, geocode.NewFromEnv(), cache, quote.WithAPIKeyFallback(os.Getenv("GEOCODING_API_KEY")))
	svc.Watch(n)
	defer svc.Close()

	hub := live.NewHub(st, model.KeyDeliverySettings, model.KeyDeliveryZones)
	hub.Watch(n)
	defer hub.Close()

	ping := func(ctx context.Context) error {
		if pg == nil {
			return nil
		}
		return pg.Ping(ctx)
	}
	apiMux := api.BuildRoutes(api.Deps{
		Settings:   st,
		Quotes:     svc,
		Live:       hub,
		Ping:       ping,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	})
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		l.Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	var err error
	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "delivery-zone.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
		}
		if os.Getenv("TLS_REDIRECT_ENABLE") == "true" {
			go serveRedirect(addr)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		err = s.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", addr)
		err = s.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}

// openNotifier：NOTIFY_BACKEND 取 local|redis|postgres；依赖不可用时退回进程内
func openNotifier(ctx context.Context, rc *redis.Client, havePG bool) notify.Notifier {
	l := logger.L()
	switch strings.ToLower(os.Getenv("NOTIFY_BACKEND")) {
	case "redis":
		if rc == nil {
			l.Warn("notify_fallback", "want", "redis", "reason", "redis_disabled")
			break
		}
		n, err := notify.NewRedis(ctx, rc, os.Getenv("NOTIFY_CHANNEL"))
		if err != nil {
			l.Error("notify_redis_error", "err", err)
			break
		}
		l.Info("notify_backend", "kind", "redis")
		return n
	case "postgres":
		if !havePG {
			l.Warn("notify_fallback", "want", "postgres", "reason", "db_disabled")
			break
		}
		n, err := notify.NewPostgres(utils.BuildPostgresDSNFromEnv(), os.Getenv("NOTIFY_CHANNEL"))
		if err != nil {
			l.Error("notify_postgres_error", "err", err)
			break
		}
		l.Info("notify_backend", "kind", "postgres")
		return n
	}
	l.Info("notify_backend", "kind", "local")
	return notify.NewLocal()
}

// serveRedirect：HTTP 重定向到 HTTPS 服务端口
func serveRedirect(addr string) {
	l := logger.L()
	redirAddr := os.Getenv("TLS_REDIRECT_ADDR")
	if redirAddr == "" {
		redirAddr = ":80"
	}
	httpsPort := strings.TrimPrefix(addr, ":")
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if httpsPort != "" {
			host += ":" + httpsPort
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+addr)
	_ = http.ListenAndServe(redirAddr, logger.AccessMiddleware(l)(h))
}
