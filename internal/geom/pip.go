// 包 geom：定点坐标下的点入多边形判定与边界距离
package geom

import "tz-api/internal/coord"

// 文档注释：点入多边形判定（外环命中且不在任一洞内）
// 约束：外环边界视为内部；洞的边界视为洞（即排除），保证相邻区域互斥。
func PolygonContains(poly Polygon, p coord.Point) bool {
	if RingContains(poly.Outer, p) == Outside {
		return false
	}
	for _, h := range poly.Holes {
		if RingContains(h, p) != Outside {
			return false
		}
	}
	return true
}

// 文档注释：射线法（水平向 +x 方向）判定点与环的位置
// 约束：全程 int64 整数运算。差值最大 3.6e9 × 1.8e9，乘积不溢出；只比较乘积，不对乘积做减法。
// 少于 3 个顶点的环视为空。
func RingContains(ring Ring, p coord.Point) Position {
	n := len(ring)
	if n < 3 {
		return Outside
	}
	px, py := int64(p.X), int64(p.Y)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := int64(ring[i].X), int64(ring[i].Y)
		xj, yj := int64(ring[j].X), int64(ring[j].Y)
		if onSegment(px, py, xi, yi, xj, yj) {
			return OnBoundary
		}
		if (yi > py) == (yj > py) {
			continue
		}
		// 交点横坐标 ix = xi + (py-yi)(xj-xi)/(yj-yi)，px < ix 时计一次穿越
		lhs := (px - xi) * (yj - yi)
		rhs := (py - yi) * (xj - xi)
		if yj > yi {
			if lhs < rhs {
				inside = !inside
			}
		} else if lhs > rhs {
			inside = !inside
		}
	}
	if inside {
		return Inside
	}
	return Outside
}

func onSegment(px, py, x1, y1, x2, y2 int64) bool {
	if px < min(x1, x2) || px > max(x1, x2) || py < min(y1, y2) || py > max(y1, y2) {
		return false
	}
	return (x2-x1)*(py-y1) == (y2-y1)*(px-x1)
}
