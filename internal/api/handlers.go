package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"tz-api/internal/finder"
	"tz-api/internal/logger"
	"tz-api/internal/tzerr"
	"tz-api/internal/version"
)

// errBadRequest 参数错误（缺失、非数字等），映射为 400
var errBadRequest = errors.New("bad request")

func badRequest(err error) error { return fmt.Errorf("%w: %v", errBadRequest, err) }

func parseFloatParam(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, badRequest(fmt.Errorf("missing %s", name))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, badRequest(fmt.Errorf("%s=%q is not a number", name, s))
	}
	return v, nil
}

// parsePoint 读取 lng / lat；越界由查询层以 ErrOutOfRange 拒绝
func parsePoint(r *http.Request) (float64, float64, error) {
	lng, err := parseFloatParam(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	return lng, lat, nil
}

func parseMaxKm(r *http.Request, def float64) (float64, error) {
	if r.URL.Query().Get("max_km") == "" {
		return def, nil
	}
	return parseFloatParam(r, "max_km")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 文档注释：错误映射
// 约束：调用方错误（参数、越界）→ 400；歧义 → 409 并列出时区；未装载或刚被替换 → 503；
// 数据集完整性错误 → 500（记录 error 日志）。
func writeError(w http.ResponseWriter, err error) {
	var amb *tzerr.AmbiguousZoneError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, tzerr.ErrOutOfRange):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &amb):
		writeJSON(w, http.StatusConflict, errorResponse{Error: tzerr.ErrAmbiguousZone.Error(), Zones: amb.Zones})
	case errors.Is(err, finder.ErrNotLoaded), errors.Is(err, finder.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		logger.L().Error("api_internal_error", "err", err, "fatal", tzerr.Fatal(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// 文档注释：时区几何（GeoJSON FeatureCollection）
// 约束：zone 为 IANA 名；未知名称属于调用方输入错误，返回 404。
func (s *Server) handleGeometry(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		writeError(w, badRequest(errors.New("missing zone")))
		return
	}
	var mp orb.MultiPolygon
	err := s.dyn.Do(func(f *finder.Finder) error {
		var err error
		mp, err = f.Geometry(zone)
		return err
	})
	if errors.Is(err, tzerr.ErrUnknownZone) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	feat := geojson.NewFeature(mp)
	feat.Properties["tzid"] = zone
	feat.BBox = geojson.NewBBox(mp.Bound())
	fc := geojson.NewFeatureCollection()
	fc.Append(feat)
	b, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("content-type", "application/geo+json; charset=utf-8")
	w.Header().Set("cache-control", "public, max-age=3600")
	_, _ = w.Write(b)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var out statsResponse
	err := s.dyn.Do(func(f *finder.Finder) error {
		var err error
		out.Dataset, err = f.Stats()
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out.Commit = version.Commit
	if s.st != nil {
		if t, err := s.st.GetTotals(r.Context()); err == nil {
			out.Queries = t
		} else {
			logger.L().Warn("stats_totals_error", "err", err)
		}
		if top, err := s.st.TopZones(r.Context(), 7, 10); err == nil {
			out.TopZones = top
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) record(r *http.Request, queries int64, zone string, found bool) {
	var hits map[string]int64
	if found {
		hits = map[string]int64{zone: 1}
	}
	s.recordMany(r, queries, hits)
}

// 文档注释：异步写入查询统计
// 背景：统计不影响响应时延；访客按当日布隆过滤去重。
// 约束：脱离请求取消，但带 3 秒超时；未配置存储时直接返回。
func (s *Server) recordMany(r *http.Request, queries int64, hits map[string]int64) {
	if s.st == nil || queries == 0 {
		return
	}
	visitor := getVisitorIP(r)
	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		first, err := bloomCheckAndSet(ctx, s.rc, visitorBloomKey(time.Now()), bloomPositions([]byte(visitor), 1<<20, 4), 26*time.Hour)
		if err != nil {
			logger.L().Debug("visitor_bloom_error", "request_id", logger.RequestID(ctx), "err", err)
		}
		if err := s.st.RecordLookups(ctx, queries, hits, first && visitor != ""); err != nil {
			logger.L().Warn("stats_record_error", "request_id", logger.RequestID(ctx), "err", err)
		}
	}()
}
