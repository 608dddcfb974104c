// 包 api：集中注册 HTTP API 路由，主入口只负责装配依赖
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"tz-api/internal/cache"
	"tz-api/internal/coord"
	"tz-api/internal/finder"
	"tz-api/internal/geoip"
	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/middleware"
	"tz-api/internal/store"
	"tz-api/internal/tzdb"
)

// Config：服务参数（由主入口从环境变量填充）
type Config struct {
	DataPath     string
	DataOptions  tzdb.Options
	Finder       finder.Options
	ClosestMaxKm float64
	BatchMax     int
	CacheSize    int
	CacheTTL     time.Duration
	AdminToken   string
}

// 文档注释：API 服务
// 背景：持有可热替换的查询器、两级缓存与可选的统计存储 / IP 定位；各依赖为 nil 时对应功能降级。
type Server struct {
	cfg   Config
	dyn   *finder.Dynamic
	cache *cache.Layered[cachedLookup]
	rc    *redis.Client
	st    *store.Store
	geo   *geoip.Locator
}

// NewServer rc、st、geo 均可为 nil
func NewServer(cfg Config, dyn *finder.Dynamic, rc *redis.Client, st *store.Store, geo *geoip.Locator) *Server {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 1000
	}
	if cfg.ClosestMaxKm < 0 {
		cfg.ClosestMaxKm = 0
	}
	s := &Server{
		cfg:   cfg,
		dyn:   dyn,
		cache: cache.NewLayered[cachedLookup](cfg.CacheSize, cfg.CacheTTL, rc, "tz"),
		rc:    rc,
		st:    st,
		geo:   geo,
	}
	if f := dyn.Load(); f != nil {
		if info, err := f.Stats(); err == nil {
			s.cache.SetGeneration(generation(info))
		}
	}
	return s
}

// generation 数据集代次标识（文件内容校验和），用作 Redis 键前缀；同一文件的多个实例共享缓存
func generation(info tzdb.Info) string { return info.Checksum }

// BuildRoutes 构建 API 路由：独立 ServeMux，由主入口挂载到 API_BASE 前缀
func (s *Server) BuildRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /tz", instrument("tz", s.handleTZ))
	mux.Handle("GET /tz/closest", instrument("tz_closest", s.handleClosest))
	mux.Handle("POST /tz/batch", instrument("tz_batch", s.handleBatch))
	mux.Handle("GET /tz/ip", instrument("tz_ip", s.handleIP))
	mux.Handle("GET /geometry", instrument("geometry", s.handleGeometry))
	mux.Handle("GET /zones", instrument("zones", s.handleZones))
	mux.Handle("GET /stats", instrument("stats", s.handleStats))
	mux.Handle("POST /reload", instrument("reload", s.handleReload))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.dyn.Load() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsTotal.WithLabelValues(route).Inc()
		h(w, r)
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1e3)
	})
}

// 文档注释：单点查询（带两级缓存）
// 约束：只缓存成功结果；缓存键为 模式 + 定点坐标（+ 最近边界距离上限），与浮点输入的写法无关。
func (s *Server) lookup(ctx context.Context, mode finder.Mode, lng, lat, maxKm float64) (tzResult, error) {
	res := tzResult{Lng: lng, Lat: lat, Mode: string(mode)}
	p, err := coord.Quantize(lng, lat)
	if err != nil {
		return res, err
	}
	key := fmt.Sprintf("%s:%d:%d", mode, p.X, p.Y)
	if mode == finder.ModeClosest {
		key += fmt.Sprintf(":%g", maxKm)
	}
	gen := s.cache.Generation()
	if c, ok := s.cache.Get(ctx, key); ok {
		res.Timezone, res.Found, res.DistanceKm, res.Exact, res.Cached = c.Zone, c.Found, c.DistanceKm, c.Exact, true
		return res, nil
	}
	var m finder.Match
	var found bool
	err = s.dyn.Do(func(f *finder.Finder) error {
		var err error
		m, found, err = f.Lookup(mode, lng, lat, maxKm)
		return err
	})
	if err != nil {
		return res, err
	}
	s.cache.SetAt(ctx, gen, key, cachedLookup{Zone: m.Zone, Found: found, DistanceKm: m.DistanceKm, Exact: m.Exact})
	res.Timezone, res.Found, res.DistanceKm, res.Exact = m.Zone, found, m.DistanceKm, m.Exact
	return res, nil
}

func (s *Server) handleTZ(w http.ResponseWriter, r *http.Request) {
	lng, lat, err := parsePoint(r)
	if err != nil {
		writeError(w, err)
		return
	}
	mode, err := finder.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	maxKm := s.cfg.ClosestMaxKm
	if mode == finder.ModeClosest {
		if maxKm, err = parseMaxKm(r, s.cfg.ClosestMaxKm); err != nil {
			writeError(w, err)
			return
		}
	}
	res, err := s.lookup(r.Context(), mode, lng, lat, maxKm)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, 1, res.Timezone, res.Found)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClosest(w http.ResponseWriter, r *http.Request) {
	lng, lat, err := parsePoint(r)
	if err != nil {
		writeError(w, err)
		return
	}
	maxKm, err := parseMaxKm(r, s.cfg.ClosestMaxKm)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lookup(r.Context(), finder.ModeClosest, lng, lat, maxKm)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r, 1, res.Timezone, res.Found)
	writeJSON(w, http.StatusOK, res)
}

// 文档注释：批量查询
// 约束：点数上限 BATCH_MAX；越界与歧义写在对应条目的 error 字段，整体仍为 200；数据集错误整体 500。
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, badRequest(fmt.Errorf("decode body: %w", err)))
		return
	}
	mode, err := finder.ParseMode(req.Mode)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	if len(req.Points) > s.cfg.BatchMax {
		writeError(w, badRequest(fmt.Errorf("%d points exceed batch limit %d", len(req.Points), s.cfg.BatchMax)))
		return
	}
	// 入口已扣 1 个令牌，其余点数在此补扣
	if !middleware.Charge(r.Context(), len(req.Points)-1) {
		middleware.Reject(w)
		return
	}
	maxKm := s.cfg.ClosestMaxKm
	if req.MaxKm != nil {
		maxKm = *req.MaxKm
	}
	qs := make([]finder.Query, len(req.Points))
	for i, p := range req.Points {
		qs[i] = finder.Query{Lng: p[0], Lat: p[1]}
	}
	var results []finder.Result
	err = s.dyn.Do(func(f *finder.Finder) error {
		var err error
		results, err = f.BatchAt(r.Context(), mode, maxKm, qs)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := batchResponse{Mode: string(mode), Count: len(results), Results: make([]batchItem, len(results))}
	hits := make(map[string]int64)
	for i, res := range results {
		it := batchItem{Lng: res.Lng, Lat: res.Lat, Timezone: res.Zone, Found: res.Found, DistanceKm: res.DistanceKm, Exact: res.Exact}
		if res.Err != nil {
			it.Error = res.Err.Error()
		}
		if res.Found {
			hits[res.Zone]++
		}
		resp.Results[i] = it
	}
	s.recordMany(r, int64(len(results)), hits)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	if s.geo == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "geoip disabled"})
		return
	}
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = getVisitorIP(r)
	}
	loc, ok, err := s.geo.Locate(ip)
	if err != nil {
		if errors.Is(err, geoip.ErrBadIP) {
			writeError(w, badRequest(err))
			return
		}
		writeError(w, err)
		return
	}
	out := ipResult{IP: ip, tzResult: tzResult{Mode: string(finder.ModeStandard)}}
	if !ok {
		writeJSON(w, http.StatusOK, out)
		return
	}
	out.Location = &loc
	res, err := s.lookup(r.Context(), finder.ModeStandard, loc.Lng, loc.Lat, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	out.tzResult = res
	s.record(r, 1, res.Timezone, res.Found)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	var names []string
	err := s.dyn.Do(func(f *finder.Finder) error {
		var err error
		names, err = f.ZoneNames()
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, zonesResponse{Count: len(names), Zones: names})
}

// 文档注释：热替换数据集
// 约束：需 x-admin-token 且与 ADMIN_TOKEN 一致（未配置 ADMIN_TOKEN 时一律拒绝）；打开失败保留旧数据集。
// path 参数只能指向 TZDB_PATH 所在目录下的文件。
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	t := r.Header.Get("x-admin-token")
	if s.cfg.AdminToken == "" || t != s.cfg.AdminToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	path := s.cfg.DataPath
	if p := r.URL.Query().Get("path"); p != "" {
		var err error
		if path, err = s.dataFile(p); err != nil {
			writeError(w, badRequest(err))
			return
		}
	}
	info, err := s.dyn.Reload(path, s.cfg.DataOptions, s.cfg.Finder)
	if err != nil {
		metrics.DatasetReloadsTotal.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	metrics.DatasetReloadsTotal.WithLabelValues("ok").Inc()
	s.cache.SetGeneration(generation(info))
	if s.st != nil {
		if err := s.st.RecordDatasetLoad(r.Context(), info); err != nil {
			logger.L().Warn("dataset_load_record_error", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// dataFile 把 name 解析为数据目录内的文件；拒绝目录穿越与其它目录的绝对路径
func (s *Server) dataFile(name string) (string, error) {
	dir, err := filepath.Abs(filepath.Dir(s.cfg.DataPath))
	if err != nil {
		return "", err
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	p = filepath.Clean(p)
	if filepath.Dir(p) != dir {
		return "", fmt.Errorf("path %q is outside the dataset directory", name)
	}
	return p, nil
}
