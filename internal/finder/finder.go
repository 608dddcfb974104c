// 包 finder：查询编排（定点量化 → 快捷网格候选 → 点入多边形 → 时区名）
package finder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"tz-api/internal/coord"
	"tz-api/internal/geom"
	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/tzdb"
	"tz-api/internal/tzerr"
)

// ErrClosed 数据集已被替换并关闭
var ErrClosed = errors.New("finder closed")

// OceanPrefix 海洋时区名前缀（Etc/GMT±N）
const OceanPrefix = "Etc/GMT"

// Options：查询器参数
type Options struct {
	// Workers 批量查询并发度，<=0 时取 GOMAXPROCS
	Workers int
	Logger  *slog.Logger
}

// 文档注释：时区查询器
// 背景：持有一个已打开的数据集，替代进程级单例；不同数据文件的多个查询器可同时存在。
// 约束：数据集只读，查询无共享可变状态，可被任意 goroutine 并发调用；
// 关闭与查询通过读写锁互斥，关闭会等待进行中的查询结束。
type Finder struct {
	ds      *tzdb.Dataset
	workers int
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Match：最近边界模式结果
type Match struct {
	Zone       string
	DistanceKm float64
	// Exact 为 true 表示点确实落在多边形内（距离为 0）
	Exact bool
}

func New(ds *tzdb.Dataset, opts Options) *Finder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.L()
	}
	return &Finder{ds: ds, workers: opts.Workers, log: opts.Logger}
}

// Open 打开数据文件并构造查询器
func Open(path string, dopts tzdb.Options, opts Options) (*Finder, error) {
	ds, err := tzdb.Open(path, dopts)
	if err != nil {
		return nil, err
	}
	return New(ds, opts), nil
}

// Close 等待进行中的查询后释放数据集；重复调用无副作用
func (f *Finder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.ds.Close()
}

func (f *Finder) enter() error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (f *Finder) leave() { f.mu.RUnlock() }

// 文档注释：标准模式
// 返回：候选按索引顺序逐个判定，首个包含该点的多边形所属时区；无命中时 ok=false（海上等），不是错误。
func (f *Finder) TimezoneAt(lng, lat float64) (string, bool, error) {
	if err := f.enter(); err != nil {
		return "", false, err
	}
	defer f.leave()
	start := time.Now()
	name, ok, err := f.timezoneAt(lng, lat)
	observe(ModeStandard, start, ok, err)
	return name, ok, err
}

func (f *Finder) timezoneAt(lng, lat float64) (string, bool, error) {
	p, err := coord.Quantize(lng, lat)
	if err != nil {
		return "", false, err
	}
	zid, ok, err := f.firstMatch(p)
	if err != nil || !ok {
		return "", false, err
	}
	name, err := f.ds.Registry().NameOf(zid)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// 文档注释：确定模式
// 返回：判定格内全部候选，收集命中的不同时区；多于一个时返回 *tzerr.AmbiguousZoneError，不做启发式取舍。
// 同一时区的多块多边形同时命中视为唯一。
func (f *Finder) UniqueTimezoneAt(lng, lat float64) (string, bool, error) {
	if err := f.enter(); err != nil {
		return "", false, err
	}
	defer f.leave()
	start := time.Now()
	name, ok, err := f.uniqueTimezoneAt(lng, lat)
	observe(ModeUnique, start, ok, err)
	return name, ok, err
}

func (f *Finder) uniqueTimezoneAt(lng, lat float64) (string, bool, error) {
	p, err := coord.Quantize(lng, lat)
	if err != nil {
		return "", false, err
	}
	sc := f.ds.Shortcuts()
	var zones []uint16
	tested := 0
	for _, id := range sc.Candidates(sc.CellKey(p)) {
		zid, err := f.ds.ZoneOf(id)
		if err != nil {
			return "", false, err
		}
		hit, full, err := f.contains(id, p)
		if full {
			tested++
		}
		if err != nil {
			return "", false, err
		}
		if hit && !containsZone(zones, zid) {
			zones = append(zones, zid)
		}
	}
	metrics.PolygonsTested.Observe(float64(tested))
	if len(zones) == 0 {
		return "", false, nil
	}
	names := make([]string, len(zones))
	for i, zid := range zones {
		if names[i], err = f.ds.Registry().NameOf(zid); err != nil {
			return "", false, err
		}
	}
	if len(names) > 1 {
		f.log.Warn("lookup_ambiguous", "lng", lng, "lat", lat, "zones", names)
		return "", false, &tzerr.AmbiguousZoneError{Lng: lng, Lat: lat, Zones: names}
	}
	return names[0], true, nil
}

// 文档注释：最近边界模式
// 背景：简化后的海岸线会把近岸点漏在多边形外，标准模式未命中时取中心格及 8 邻格候选外环的最近边。
// 约束：maxDistanceKm 为球面千米，距离 <= maxDistanceKm 才返回；负值或 NaN 视为 0。
// 距离相同时取先遍历到的候选（中心格优先，格内按索引顺序），结果确定。
func (f *Finder) ClosestTimezoneAt(lng, lat, maxDistanceKm float64) (Match, bool, error) {
	if err := f.enter(); err != nil {
		return Match{}, false, err
	}
	defer f.leave()
	start := time.Now()
	m, ok, err := f.closestTimezoneAt(lng, lat, maxDistanceKm)
	observe(ModeClosest, start, ok, err)
	return m, ok, err
}

func (f *Finder) closestTimezoneAt(lng, lat, maxDistanceKm float64) (Match, bool, error) {
	p, err := coord.Quantize(lng, lat)
	if err != nil {
		return Match{}, false, err
	}
	zid, ok, err := f.firstMatch(p)
	if err != nil {
		return Match{}, false, err
	}
	if ok {
		name, err := f.ds.Registry().NameOf(zid)
		if err != nil {
			return Match{}, false, err
		}
		return Match{Zone: name, Exact: true}, true, nil
	}
	if math.IsNaN(maxDistanceKm) || maxDistanceKm < 0 {
		maxDistanceKm = 0
	}

	sc := f.ds.Shortcuts()
	seen := make(map[uint32]struct{})
	best, bestID, found := math.Inf(1), uint32(0), false
	for _, k := range sc.Grid().NeighborKeys(sc.CellKey(p)) {
		for _, id := range sc.Candidates(k) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			outer, err := f.ds.Boundary(id)
			if err != nil {
				return Match{}, false, err
			}
			if d := geom.DistanceToRingKm(outer, lng, lat); d < best {
				best, bestID, found = d, id, true
			}
		}
	}
	if !found || best > maxDistanceKm {
		return Match{}, false, nil
	}
	zid, err = f.ds.ZoneOf(bestID)
	if err != nil {
		return Match{}, false, err
	}
	name, err := f.ds.Registry().NameOf(zid)
	if err != nil {
		return Match{}, false, err
	}
	f.log.Debug("lookup_closest", "lng", lng, "lat", lat, "zone", name, "distance_km", best)
	return Match{Zone: name, DistanceKm: best}, true, nil
}

// TimezoneAtLand 标准模式，但海洋时区（Etc/GMT±N）视为未命中
func (f *Finder) TimezoneAtLand(lng, lat float64) (string, bool, error) {
	if err := f.enter(); err != nil {
		return "", false, err
	}
	defer f.leave()
	start := time.Now()
	name, ok, err := f.timezoneAt(lng, lat)
	if ok && IsOcean(name) {
		name, ok = "", false
	}
	observe(ModeLand, start, ok, err)
	return name, ok, err
}

// 文档注释：建议模式（不做点入多边形判定）
// 背景：只需要一个大概率正确的时区时，直接取格内最后一个候选（面积最大者）所属时区，开销为一次网格查表。
// 约束：结果可能不正确，尤其在时区交界处；空格返回未命中。
func (f *Finder) SuggestTimezoneAt(lng, lat float64) (string, bool, error) {
	if err := f.enter(); err != nil {
		return "", false, err
	}
	defer f.leave()
	start := time.Now()
	name, ok, err := f.suggestTimezoneAt(lng, lat)
	observe(ModeSuggest, start, ok, err)
	return name, ok, err
}

func (f *Finder) suggestTimezoneAt(lng, lat float64) (string, bool, error) {
	p, err := coord.Quantize(lng, lat)
	if err != nil {
		return "", false, err
	}
	sc := f.ds.Shortcuts()
	cands := sc.Candidates(sc.CellKey(p))
	if len(cands) == 0 {
		return "", false, nil
	}
	zid, err := f.ds.ZoneOf(cands[len(cands)-1])
	if err != nil {
		return "", false, err
	}
	name, err := f.ds.Registry().NameOf(zid)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// firstMatch 按候选顺序返回首个包含 p 的多边形所属 zone id
func (f *Finder) firstMatch(p coord.Point) (uint16, bool, error) {
	sc := f.ds.Shortcuts()
	tested := 0
	defer func() { metrics.PolygonsTested.Observe(float64(tested)) }()
	for _, id := range sc.Candidates(sc.CellKey(p)) {
		hit, full, err := f.contains(id, p)
		if full {
			tested++
		}
		if err != nil {
			return 0, false, err
		}
		if hit {
			zid, err := f.ds.ZoneOf(id)
			return zid, err == nil, err
		}
	}
	return 0, false, nil
}

// 文档注释：单个多边形判定
// 约束：先用包围盒过滤（不读坐标）；外环命中后才读取洞。full 表示是否读取了几何。
func (f *Finder) contains(id uint32, p coord.Point) (hit, full bool, err error) {
	bb, err := f.ds.BBox(id)
	if err != nil {
		return false, false, err
	}
	if !bb.Contains(p) {
		return false, false, nil
	}
	outer, err := f.ds.Boundary(id)
	if err != nil {
		return false, true, err
	}
	if geom.RingContains(outer, p) == geom.Outside {
		return false, true, nil
	}
	holes, err := f.ds.Holes(id)
	if err != nil {
		return false, true, err
	}
	for _, h := range holes {
		if geom.RingContains(h, p) != geom.Outside {
			return false, true, nil
		}
	}
	return true, true, nil
}

func containsZone(zs []uint16, z uint16) bool {
	for _, x := range zs {
		if x == z {
			return true
		}
	}
	return false
}

// IsOcean 报告时区名是否为海洋时区
func IsOcean(name string) bool { return strings.HasPrefix(name, OceanPrefix) }

// ZoneNames 返回全部时区名（按 zone id 顺序）
func (f *Finder) ZoneNames() ([]string, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.leave()
	return f.ds.Registry().Names(), nil
}

// Stats 返回数据集概要
func (f *Finder) Stats() (tzdb.Info, error) {
	if err := f.enter(); err != nil {
		return tzdb.Info{}, err
	}
	defer f.leave()
	return f.ds.Info(), nil
}

func observe(mode Mode, start time.Time, found bool, err error) {
	outcome := "absent"
	switch {
	case err != nil:
		outcome = "error"
	case found:
		outcome = "found"
	}
	metrics.LookupsTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.LookupDurationUs.WithLabelValues(string(mode)).Observe(float64(time.Since(start).Nanoseconds()) / 1e3)
}

// Lookup 按模式分派；maxDistanceKm 仅对最近边界模式生效
func (f *Finder) Lookup(mode Mode, lng, lat, maxDistanceKm float64) (Match, bool, error) {
	var (
		name string
		ok   bool
		err  error
	)
	switch mode {
	case ModeStandard:
		name, ok, err = f.TimezoneAt(lng, lat)
	case ModeUnique:
		name, ok, err = f.UniqueTimezoneAt(lng, lat)
	case ModeLand:
		name, ok, err = f.TimezoneAtLand(lng, lat)
	case ModeSuggest:
		name, ok, err = f.SuggestTimezoneAt(lng, lat)
	case ModeClosest:
		return f.ClosestTimezoneAt(lng, lat, maxDistanceKm)
	default:
		return Match{}, false, fmt.Errorf("unknown lookup mode %q", mode)
	}
	if err != nil || !ok {
		return Match{}, false, err
	}
	return Match{Zone: name, Exact: mode != ModeSuggest}, true, nil
}
