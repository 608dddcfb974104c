package tzdb

import (
	"fmt"

	"tz-api/internal/tzerr"
)

// 文档注释：时区注册表（zone id → IANA 名称）
// 约束：打开时一次性载入，之后只读；多个多边形可指向同一 zone。
type Registry struct {
	names []string
	ids   map[string]uint16
	polys [][]uint32
}

func newRegistry(names []string) *Registry {
	r := &Registry{names: names, ids: make(map[string]uint16, len(names)), polys: make([][]uint32, len(names))}
	for i, n := range names {
		r.ids[n] = uint16(i)
	}
	return r
}

// NameOf 按 id 取名，缺失时返回 ErrUnknownZone
func (r *Registry) NameOf(zoneID uint16) (string, error) {
	if int(zoneID) >= len(r.names) {
		return "", fmt.Errorf("zone id %d (have %d): %w", zoneID, len(r.names), tzerr.ErrUnknownZone)
	}
	return r.names[zoneID], nil
}

func (r *Registry) IDOf(name string) (uint16, error) {
	id, ok := r.ids[name]
	if !ok {
		return 0, fmt.Errorf("zone %q: %w", name, tzerr.ErrUnknownZone)
	}
	return id, nil
}

// PolygonsOf 返回该 zone 全部多边形 id（升序，副本）
func (r *Registry) PolygonsOf(zoneID uint16) ([]uint32, error) {
	if int(zoneID) >= len(r.polys) {
		return nil, fmt.Errorf("zone id %d: %w", zoneID, tzerr.ErrUnknownZone)
	}
	return append([]uint32(nil), r.polys[zoneID]...), nil
}

func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

func (r *Registry) ZoneCount() int { return len(r.names) }
