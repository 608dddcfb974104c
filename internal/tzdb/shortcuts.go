package tzdb

import "tz-api/internal/coord"

// CellKey：快捷网格键，高 32 位为列号，低 32 位为行号
type CellKey uint64

func NewCellKey(col, row uint32) CellKey { return CellKey(uint64(col)<<32 | uint64(row)) }

func (k CellKey) Col() uint32 { return uint32(k >> 32) }
func (k CellKey) Row() uint32 { return uint32(k) }

// 文档注释：定点坐标所在网格
// 约束：先平移到非负区间（经度 +180°，纬度 +90°）再整除 cellSize；纯函数，编码器与读取端共用。
// 经度 180° 与纬度 90° 落在最后一列/行之外的边缘格，编码器按同一函数登记，完整性不受影响。
func CellKeyOf(p coord.Point, cellSize int32) CellKey {
	col := (int64(p.X) + int64(coord.MaxX)) / int64(cellSize)
	row := (int64(p.Y) + int64(coord.MaxY)) / int64(cellSize)
	return NewCellKey(uint32(col), uint32(row))
}

// Grid：网格尺寸（含边缘格）
type Grid struct {
	CellSize int32
	Cols     uint32
	Rows     uint32
}

func NewGrid(cellSize int32) Grid {
	return Grid{
		CellSize: cellSize,
		Cols:     uint32(2*int64(coord.MaxX)/int64(cellSize)) + 1,
		Rows:     uint32(2*int64(coord.MaxY)/int64(cellSize)) + 1,
	}
}

// LngCols 覆盖 [-180°, 180°) 的实际列数；整除时经度 180° 另占一个边缘列（列号 LngCols）
func (g Grid) LngCols() uint32 {
	span, cs := 2*int64(coord.MaxX), int64(g.CellSize)
	return uint32((span + cs - 1) / cs)
}

// 文档注释：3×3 邻域
// 约束：列号在实际列数内跨越反子午线循环，经度 180° 边缘列与首末两列互为邻格；行号在两极截断；
// 结果去重且以中心格开头。
func (g Grid) NeighborKeys(k CellKey) []CellKey {
	n := int64(g.LngCols())
	edge := int64(-1)
	if int64(g.Cols) > n {
		edge = n
	}
	col, row := int64(k.Col()), int64(k.Row())
	var cols []int64
	switch {
	case col == edge:
		cols = []int64{edge, n - 1, 0}
	default:
		cols = []int64{col, (col - 1 + n) % n, (col + 1) % n}
		if edge >= 0 && (col == 0 || col == n-1) {
			cols = append(cols, edge)
		}
	}

	out := make([]CellKey, 0, 3*len(cols))
	out = append(out, k)
	seen := map[CellKey]struct{}{k: {}}
	for dr := int64(-1); dr <= 1; dr++ {
		r := row + dr
		if r < 0 || r >= int64(g.Rows) {
			continue
		}
		for _, c := range cols {
			nk := NewCellKey(uint32(c), uint32(r))
			if _, ok := seen[nk]; ok {
				continue
			}
			seen[nk] = struct{}{}
			out = append(out, nk)
		}
	}
	return out
}

// 文档注释：快捷索引（只读）
// 约束：打开数据集时整体载入；同一格内候选顺序即文件中的顺序。
type Shortcuts struct {
	grid  Grid
	cells map[CellKey][]uint32
}

func (s *Shortcuts) Grid() Grid { return s.grid }

func (s *Shortcuts) CellKey(p coord.Point) CellKey { return CellKeyOf(p, s.grid.CellSize) }

// Candidates 返回格内候选多边形 id；缺失格（开阔海域）返回空
func (s *Shortcuts) Candidates(k CellKey) []uint32 { return s.cells[k] }

// CellCount 返回非空格数量
func (s *Shortcuts) CellCount() int { return len(s.cells) }
