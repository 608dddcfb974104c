package finder

import (
	"github.com/paulmach/orb"

	"tz-api/internal/coord"
	"tz-api/internal/geom"
)

// 文档注释：时区几何
// 返回：该时区全部多边形（外环在前、洞在后），坐标还原为度，环首尾闭合以符合 GeoJSON；
// 未知时区名返回 ErrUnknownZone。
func (f *Finder) Geometry(zone string) (orb.MultiPolygon, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.leave()
	reg := f.ds.Registry()
	zid, err := reg.IDOf(zone)
	if err != nil {
		return nil, err
	}
	ids, err := reg.PolygonsOf(zid)
	if err != nil {
		return nil, err
	}
	mp := make(orb.MultiPolygon, 0, len(ids))
	for _, id := range ids {
		poly, err := f.ds.Polygon(id)
		if err != nil {
			return nil, err
		}
		op := make(orb.Polygon, 0, 1+len(poly.Holes))
		op = append(op, toOrbRing(poly.Outer))
		for _, h := range poly.Holes {
			op = append(op, toOrbRing(h))
		}
		mp = append(mp, op)
	}
	return mp, nil
}

func toOrbRing(r geom.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	for _, p := range r {
		lng, lat := coord.Dequantize(p)
		out = append(out, orb.Point{lng, lat})
	}
	if len(out) > 0 {
		out = append(out, out[0])
	}
	return out
}
