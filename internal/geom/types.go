package geom

import "tz-api/internal/coord"

// 文档注释：几何最小数据结构（定点坐标）
// 约束：环至少 3 个顶点，首尾可重复也可隐式闭合；不假设环的方向。
type Ring []coord.Point

// Polygon：一个外环与若干洞
type Polygon struct {
	Outer Ring
	Holes []Ring
}

// BBox：定点包围盒（闭区间）
type BBox struct {
	MinX, MinY, MaxX, MaxY int32
}

// Position：点相对环的位置
type Position uint8

const (
	Outside Position = iota
	Inside
	OnBoundary
)

func (p Position) String() string {
	switch p {
	case Inside:
		return "inside"
	case OnBoundary:
		return "on_boundary"
	default:
		return "outside"
	}
}

func (b BBox) Contains(p coord.Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Area 返回包围盒面积（定点单位平方），用于候选排序
func (b BBox) Area() int64 {
	return (int64(b.MaxX) - int64(b.MinX)) * (int64(b.MaxY) - int64(b.MinY))
}

// BoundsOf 计算环的包围盒；空环返回零值
func BoundsOf(r Ring) BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{MinX: r[0].X, MinY: r[0].Y, MaxX: r[0].X, MaxY: r[0].Y}
	for _, p := range r[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
	}
	return b
}
