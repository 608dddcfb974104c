// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tz-api/internal/api"
	"tz-api/internal/finder"
	"tz-api/internal/geoip"
	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/middleware"
	"tz-api/internal/migrate"
	"tz-api/internal/store"
	"tz-api/internal/tzdb"
	"tz-api/internal/utils"
	"tz-api/internal/version"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit, "build_time", version.BuildTime)
	apiBase := strings.TrimSuffix(utils.EnvString("API_BASE", "/api"), "/")
	l.Debug("config_api_base", "base", apiBase)

	cfg := api.Config{
		DataPath:     utils.EnvString("TZDB_PATH", filepath.Join("data", "tzdb", "timezones.bin")),
		DataOptions:  tzdb.Options{InMemory: utils.EnvBool("TZDB_IN_MEMORY", false)},
		Finder:       finder.Options{Workers: utils.EnvInt("LOOKUP_WORKERS", 0), Logger: l},
		ClosestMaxKm: utils.EnvFloat("CLOSEST_MAX_KM", 50),
		BatchMax:     utils.EnvInt("BATCH_MAX", 1000),
		CacheSize:    utils.EnvInt("CACHE_SIZE", 100_000),
		CacheTTL:     time.Duration(utils.EnvInt("CACHE_TTL_S", 3600)) * time.Second,
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
	}
	l.Debug("config_tzdb", "path", cfg.DataPath, "in_memory", cfg.DataOptions.InMemory, "workers", cfg.Finder.Workers)

	// 数据集是唯一的硬依赖：打开失败直接退出
	var dyn finder.Dynamic
	info, err := dyn.Reload(cfg.DataPath, cfg.DataOptions, cfg.Finder)
	if err != nil {
		l.Error("tzdb_open_error", "path", cfg.DataPath, "err", err)
		os.Exit(1)
	}
	metrics.DatasetReloadsTotal.WithLabelValues("ok").Inc()
	defer dyn.Close()

	// 背景：统计存储可选；未配置 PG_HOST 时不记录查询量
	var st *store.Store
	if utils.PostgresEnabled() {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			cancel()
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st = store.AttachDB(db)
		if err := st.RecordDatasetLoad(ctx, info); err != nil {
			l.Warn("dataset_load_record_error", "err", err)
		}
		cancel()
	} else {
		l.Info("db_disabled")
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := utils.PingRedis(context.Background(), rc); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	var geo *geoip.Locator
	if p := os.Getenv("GEOIP_PATH"); p != "" {
		if geo, err = geoip.Open(p); err != nil {
			l.Error("geoip_open_error", "path", p, "err", err)
			geo = nil
		} else {
			defer geo.Close()
		}
	}

	srv := api.NewServer(cfg, &dyn, rc, st, geo)
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, srv.BuildRoutes()))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := utils.EnvString("ADDR", ":8080")
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 优雅退出：收到信号后停止接收新连接，等待进行中的请求
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sig := <-ch
		l.Info("shutdown_begin", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
	}()

	if utils.EnvBool("TLS_ENABLE", false) {
		certPath := utils.EnvString("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt"))
		keyPath := utils.EnvString("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key"))
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "tz-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		err = s.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_ok")
}
