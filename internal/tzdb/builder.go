package tzdb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"

	"tz-api/internal/coord"
	"tz-api/internal/geom"
	"tz-api/internal/logger"
)

// DefaultCellSize 默认网格边长：1°
const DefaultCellSize = int32(coord.Scale)

type builtPoly struct {
	zone  uint16
	outer geom.Ring
	holes []geom.Ring
	bbox  geom.BBox
}

// 文档注释：数据文件参考编码器
// 背景：正式数据由离线编译流程生成；此编码器产出同一格式，用于测试夹具与小规模自建数据。
// 约束：zone id 按首次出现顺序分配；同一格内候选按包围盒面积升序、id 升序排列（小而具体的多边形先测）。
type Builder struct {
	cellSize int32
	zones    []string
	zoneIDs  map[string]uint16
	polys    []builtPoly
	holes    int
}

func NewBuilder(cellSize int32) *Builder {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Builder{cellSize: cellSize, zoneIDs: make(map[string]uint16)}
}

// AddPolygon 添加一个多边形：第一个环为外环，其后为洞
func (b *Builder) AddPolygon(zone string, p orb.Polygon) error {
	if zone == "" {
		return errors.New("empty zone name")
	}
	if len(zone) > math.MaxUint16 {
		return fmt.Errorf("zone name too long: %d bytes", len(zone))
	}
	if len(p) == 0 {
		return fmt.Errorf("zone %s: polygon without rings", zone)
	}
	if len(p)-1 > math.MaxUint16 {
		return fmt.Errorf("zone %s: %d holes", zone, len(p)-1)
	}
	outer, err := quantizeRing(p[0])
	if err != nil {
		return fmt.Errorf("zone %s outer ring: %w", zone, err)
	}
	bp := builtPoly{outer: outer, bbox: geom.BoundsOf(outer)}
	for i, r := range p[1:] {
		h, err := quantizeRing(r)
		if err != nil {
			return fmt.Errorf("zone %s hole %d: %w", zone, i, err)
		}
		bp.holes = append(bp.holes, h)
	}
	id, err := b.zoneID(zone)
	if err != nil {
		return err
	}
	bp.zone = id
	b.polys = append(b.polys, bp)
	b.holes += len(bp.holes)
	return nil
}

// AddMultiPolygon 逐个添加多面中的多边形（多面时区，如群岛）
func (b *Builder) AddMultiPolygon(zone string, mp orb.MultiPolygon) error {
	for _, p := range mp {
		if err := b.AddPolygon(zone, p); err != nil {
			return err
		}
	}
	return nil
}

// AddZone 预先登记时区名（可没有多边形），用于固定 zone id 顺序
func (b *Builder) AddZone(zone string) error {
	if zone == "" {
		return errors.New("empty zone name")
	}
	_, err := b.zoneID(zone)
	return err
}

// zoneID 返回已登记的 id，未登记时按出现顺序分配；zone id 为 u16
func (b *Builder) zoneID(zone string) (uint16, error) {
	if id, ok := b.zoneIDs[zone]; ok {
		return id, nil
	}
	if len(b.zones) > math.MaxUint16 {
		return 0, fmt.Errorf("zone %s: too many zones (max %d)", zone, math.MaxUint16+1)
	}
	id := uint16(len(b.zones))
	b.zones = append(b.zones, zone)
	b.zoneIDs[zone] = id
	return id, nil
}

func quantizeRing(r orb.Ring) (geom.Ring, error) {
	pts := []orb.Point(r)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("ring has %d distinct vertices, need 3", len(pts))
	}
	out := make(geom.Ring, len(pts))
	for i, p := range pts {
		q, err := coord.Quantize(p.Lon(), p.Lat())
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// cellLists 计算每个网格的候选列表
func (b *Builder) cellLists() map[CellKey][]uint32 {
	cells := make(map[CellKey][]uint32)
	for i, p := range b.polys {
		lo := CellKeyOf(coord.Point{X: p.bbox.MinX, Y: p.bbox.MinY}, b.cellSize)
		hi := CellKeyOf(coord.Point{X: p.bbox.MaxX, Y: p.bbox.MaxY}, b.cellSize)
		for c := lo.Col(); c <= hi.Col(); c++ {
			for r := lo.Row(); r <= hi.Row(); r++ {
				k := NewCellKey(c, r)
				cells[k] = append(cells[k], uint32(i))
			}
		}
	}
	for _, ids := range cells {
		sort.SliceStable(ids, func(i, j int) bool {
			ai, aj := b.polys[ids[i]].bbox.Area(), b.polys[ids[j]].bbox.Area()
			if ai != aj {
				return ai < aj
			}
			return ids[i] < ids[j]
		})
	}
	return cells
}

// Build 将数据集编码写入 w
func (b *Builder) Build(w io.Writer) error {
	cells := b.cellLists()
	keys := make([]CellKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	h := header{
		Version:      Version,
		Scale:        coord.Scale,
		CellSize:     uint32(b.cellSize),
		PolygonCount: uint32(len(b.polys)),
		HoleCount:    uint32(b.holes),
		ZoneCount:    uint32(len(b.zones)),
		CellCount:    uint32(len(keys)),
	}
	off := uint64(headerSize)
	h.ZonesOff = off
	for _, z := range b.zones {
		off += 2 + uint64(len(z))
	}
	h.PolysOff = off
	off += uint64(len(b.polys)) * polyRecSize
	h.HolesOff = off
	off += uint64(b.holes) * holeRecSize
	h.CellsOff = off
	off += uint64(len(keys)) * cellRecSize
	idsOff := off
	for _, k := range keys {
		off += uint64(len(cells[k])) * 4
	}
	coordOff := off
	for _, p := range b.polys {
		off += uint64(len(p.outer)) * vertexSize
		for _, hr := range p.holes {
			off += uint64(len(hr)) * vertexSize
		}
	}
	h.FileSize = off

	buf := bytes.NewBuffer(make([]byte, 0, off))
	buf.Write(h.encode())
	for _, z := range b.zones {
		var lb [2]byte
		be.PutUint16(lb[:], uint16(len(z)))
		buf.Write(lb[:])
		buf.WriteString(z)
	}

	polyTab := make([]byte, len(b.polys)*polyRecSize)
	holeTab := make([]byte, b.holes*holeRecSize)
	var coords bytes.Buffer
	next := coordOff
	holeIdx := 0
	putRing := func(r geom.Ring) uint64 {
		at := next
		var vb [vertexSize]byte
		for _, p := range r {
			be.PutUint32(vb[0:], uint32(p.X))
			be.PutUint32(vb[4:], uint32(p.Y))
			coords.Write(vb[:])
		}
		next += uint64(len(r)) * vertexSize
		return at
	}
	for i, p := range b.polys {
		rec := polyRec{
			ZoneID:      p.zone,
			HoleCount:   uint16(len(p.holes)),
			FirstHole:   uint32(holeIdx),
			VertexCount: uint32(len(p.outer)),
			CoordOff:    putRing(p.outer),
			MinX:        p.bbox.MinX,
			MinY:        p.bbox.MinY,
			MaxX:        p.bbox.MaxX,
			MaxY:        p.bbox.MaxY,
		}
		rec.encode(polyTab[i*polyRecSize:])
		for _, hr := range p.holes {
			ringRec{VertexCount: uint32(len(hr)), CoordOff: putRing(hr)}.encode(holeTab[holeIdx*holeRecSize:])
			holeIdx++
		}
	}
	buf.Write(polyTab)
	buf.Write(holeTab)

	cellTab := make([]byte, len(keys)*cellRecSize)
	var ids bytes.Buffer
	nextIDs := idsOff
	for i, k := range keys {
		list := cells[k]
		cellRec{Key: k, N: uint32(len(list)), IDsOff: nextIDs}.encode(cellTab[i*cellRecSize:])
		var ib [4]byte
		for _, id := range list {
			be.PutUint32(ib[:], id)
			ids.Write(ib[:])
		}
		nextIDs += uint64(len(list)) * 4
	}
	buf.Write(cellTab)
	buf.Write(ids.Bytes())
	buf.Write(coords.Bytes())

	if uint64(buf.Len()) != h.FileSize {
		return fmt.Errorf("layout mismatch: wrote %d, planned %d", buf.Len(), h.FileSize)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Bytes 返回编码后的完整文件内容
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Build(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// 文档注释：写入数据文件
// 约束：先写临时文件再 rename，读取端不会看到半成品。
func (b *Builder) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := b.Build(f); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	logger.L().Info("tzdb_build_done", "path", path, "polygons", len(b.polys), "zones", len(b.zones))
	return nil
}
