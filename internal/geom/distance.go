package geom

import (
	"math"

	"github.com/golang/geo/s2"

	"tz-api/internal/coord"
)

// EarthRadiusKm 平均地球半径（IUGG）
const EarthRadiusKm = 6371.0088

// 文档注释：点到环边的最短球面距离（千米）
// 约束：仅用于最近边界兜底；顶点按 int/Scale 精确还原为度，随后全程 float64，不做中间取整。
// 空环返回 +Inf。
func DistanceToRingKm(ring Ring, lng, lat float64) float64 {
	n := len(ring)
	if n == 0 {
		return math.Inf(1)
	}
	x := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng))
	if n == 1 {
		return angleKm(x, toS2(ring[0]))
	}
	best := math.Inf(1)
	prev := toS2(ring[n-1])
	for i := 0; i < n; i++ {
		cur := toS2(ring[i])
		if d := s2.DistanceFromSegment(x, prev, cur).Radians() * EarthRadiusKm; d < best {
			best = d
		}
		prev = cur
	}
	return best
}

// HaversineKm 两点间大圆距离（千米）
func HaversineKm(lng1, lat1, lng2, lat2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

func toS2(p coord.Point) s2.Point {
	lng, lat := coord.Dequantize(p)
	return s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng))
}

func angleKm(a, b s2.Point) float64 { return a.Distance(b).Radians() * EarthRadiusKm }
