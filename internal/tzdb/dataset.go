package tzdb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"

	"tz-api/internal/coord"
	"tz-api/internal/geom"
	"tz-api/internal/logger"
	"tz-api/internal/tzerr"
)

// Options：打开方式
type Options struct {
	// InMemory 为 true 时整体读入内存，否则内存映射按需读取坐标
	InMemory bool
}

// 文档注释：已加载的数据集（多边形存储 + 快捷索引 + 注册表）
// 约束：打开后只读，可被多个 goroutine 并发使用；坐标按需经 ReaderAt 读取，峰值内存只与当前查询相关。
type Dataset struct {
	src    io.ReaderAt
	closer io.Closer
	size   int64
	hdr    header
	polys  []polyRec
	holes  []ringRec
	sc     *Shortcuts
	reg    *Registry
	path   string
	opened time.Time
	sum    uint64
}

// 文档注释：打开数据文件
// 返回：校验失败一律包装 ErrCorruptData；文件不存在等 IO 错误原样返回。
func Open(path string, opts Options) (*Dataset, error) {
	var (
		src    io.ReaderAt
		closer io.Closer
		size   int64
	)
	if opts.InMemory {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		src, size = bytes.NewReader(b), int64(len(b))
	} else {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		src, closer, size = m, m, int64(m.Len())
	}
	d, err := load(src, size)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		logger.L().Error("tzdb_open_error", "path", path, "err", err)
		return nil, err
	}
	d.closer = closer
	d.path = path
	logger.L().Info("tzdb_open_ok", "path", path, "in_memory", opts.InMemory, "polygons", len(d.polys), "zones", d.reg.ZoneCount(), "cells", d.sc.CellCount(), "bytes", size)
	return d, nil
}

// FromBytes 基于内存中的完整文件内容构建数据集
func FromBytes(b []byte) (*Dataset, error) {
	return load(bytes.NewReader(b), int64(len(b)))
}

func load(src io.ReaderAt, size int64) (*Dataset, error) {
	d := &Dataset{src: src, size: size, opened: time.Now()}
	hb, err := d.read(0, headerSize)
	if err != nil {
		return nil, err
	}
	h, err := decodeHeader(hb)
	if err != nil {
		return nil, err
	}
	if h.Version != Version {
		return nil, corrupt("format version %d, want %d", h.Version, Version)
	}
	if h.Scale != coord.Scale {
		return nil, corrupt("coordinate scale %d, want %d", h.Scale, coord.Scale)
	}
	if h.CellSize == 0 || h.CellSize > uint32(coord.MaxX) {
		return nil, corrupt("cell size %d", h.CellSize)
	}
	if h.FileSize != uint64(size) {
		return nil, corrupt("declared size %d, file has %d", h.FileSize, size)
	}
	if h.ZoneCount > 1<<16 {
		return nil, corrupt("zone count %d", h.ZoneCount)
	}
	d.hdr = h

	names, err := d.loadZones()
	if err != nil {
		return nil, err
	}
	d.reg = newRegistry(names)
	if err := d.loadPolygons(); err != nil {
		return nil, err
	}
	if err := d.loadHoles(); err != nil {
		return nil, err
	}
	if err := d.loadCells(); err != nil {
		return nil, err
	}
	if d.sum, err = checksum(src, size); err != nil {
		return nil, err
	}
	return d, nil
}

// checksum 整个文件内容的 xxhash64；只移动顶点的重建文件大小与计数不变，靠它区分
func checksum(src io.ReaderAt, size int64) (uint64, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(src, 0, size)); err != nil {
		return 0, fmt.Errorf("checksum: %w", err)
	}
	return h.Sum64(), nil
}

// read 读取 [off, off+n)，越界视为数据损坏
func (d *Dataset) read(off uint64, n uint64) ([]byte, error) {
	if off > uint64(d.size) || n > uint64(d.size)-off {
		return nil, corrupt("range [%d,+%d) outside file of %d bytes", off, n, d.size)
	}
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}
	if _, err := d.src.ReadAt(b, int64(off)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read at %d: %v: %w", off, err, tzerr.ErrCorruptData)
	}
	return b, nil
}

func (d *Dataset) loadZones() ([]string, error) {
	names := make([]string, 0, d.hdr.ZoneCount)
	off := d.hdr.ZonesOff
	for i := uint32(0); i < d.hdr.ZoneCount; i++ {
		lb, err := d.read(off, 2)
		if err != nil {
			return nil, err
		}
		n := uint64(be.Uint16(lb))
		nb, err := d.read(off+2, n)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, corrupt("empty name for zone %d", i)
		}
		names = append(names, string(nb))
		off += 2 + n
	}
	return names, nil
}

func (d *Dataset) loadPolygons() error {
	b, err := d.read(d.hdr.PolysOff, uint64(d.hdr.PolygonCount)*polyRecSize)
	if err != nil {
		return err
	}
	d.polys = make([]polyRec, d.hdr.PolygonCount)
	for i := range d.polys {
		r := decodePolyRec(b[i*polyRecSize:])
		if uint32(r.ZoneID) >= d.hdr.ZoneCount {
			return corrupt("polygon %d: zone id %d >= %d", i, r.ZoneID, d.hdr.ZoneCount)
		}
		if err := d.checkRing(r.VertexCount, r.CoordOff); err != nil {
			return fmt.Errorf("polygon %d: %w", i, err)
		}
		if uint64(r.FirstHole)+uint64(r.HoleCount) > uint64(d.hdr.HoleCount) {
			return corrupt("polygon %d: holes [%d,+%d) beyond %d", i, r.FirstHole, r.HoleCount, d.hdr.HoleCount)
		}
		if r.MinX > r.MaxX || r.MinY > r.MaxY {
			return corrupt("polygon %d: inverted bounding box", i)
		}
		d.polys[i] = r
		d.reg.polys[r.ZoneID] = append(d.reg.polys[r.ZoneID], uint32(i))
	}
	return nil
}

func (d *Dataset) loadHoles() error {
	b, err := d.read(d.hdr.HolesOff, uint64(d.hdr.HoleCount)*holeRecSize)
	if err != nil {
		return err
	}
	d.holes = make([]ringRec, d.hdr.HoleCount)
	for i := range d.holes {
		r := decodeRingRec(b[i*holeRecSize:])
		if err := d.checkRing(r.VertexCount, r.CoordOff); err != nil {
			return fmt.Errorf("hole %d: %w", i, err)
		}
		d.holes[i] = r
	}
	return nil
}

func (d *Dataset) loadCells() error {
	b, err := d.read(d.hdr.CellsOff, uint64(d.hdr.CellCount)*cellRecSize)
	if err != nil {
		return err
	}
	grid := NewGrid(int32(d.hdr.CellSize))
	sc := &Shortcuts{grid: grid, cells: make(map[CellKey][]uint32, d.hdr.CellCount)}
	var prev CellKey
	for i := 0; i < int(d.hdr.CellCount); i++ {
		r := decodeCellRec(b[i*cellRecSize:])
		if i > 0 && r.Key <= prev {
			return corrupt("cell table not strictly sorted at %d", i)
		}
		prev = r.Key
		if r.Key.Col() >= grid.Cols || r.Key.Row() >= grid.Rows {
			return corrupt("cell %d outside %dx%d grid", r.Key, grid.Cols, grid.Rows)
		}
		ib, err := d.read(r.IDsOff, uint64(r.N)*4)
		if err != nil {
			return err
		}
		ids := make([]uint32, r.N)
		for j := range ids {
			id := be.Uint32(ib[j*4:])
			if id >= d.hdr.PolygonCount {
				return corrupt("cell %d: polygon id %d >= %d", r.Key, id, d.hdr.PolygonCount)
			}
			ids[j] = id
		}
		sc.cells[r.Key] = ids
	}
	d.sc = sc
	return nil
}

func (d *Dataset) checkRing(n uint32, off uint64) error {
	if n < 3 {
		return corrupt("ring with %d vertices", n)
	}
	if off > uint64(d.size) || uint64(n)*vertexSize > uint64(d.size)-off {
		return corrupt("ring [%d,+%d) outside file", off, uint64(n)*vertexSize)
	}
	return nil
}

func (d *Dataset) readRing(n uint32, off uint64) (geom.Ring, error) {
	b, err := d.read(off, uint64(n)*vertexSize)
	if err != nil {
		return nil, err
	}
	ring := make(geom.Ring, n)
	for i := range ring {
		ring[i] = coord.Point{X: int32(be.Uint32(b[i*vertexSize:])), Y: int32(be.Uint32(b[i*vertexSize+4:]))}
	}
	return ring, nil
}

func (d *Dataset) poly(id uint32) (polyRec, error) {
	if int(id) >= len(d.polys) {
		return polyRec{}, corrupt("polygon id %d >= %d", id, len(d.polys))
	}
	return d.polys[id], nil
}

// Boundary 返回多边形外环
func (d *Dataset) Boundary(id uint32) (geom.Ring, error) {
	r, err := d.poly(id)
	if err != nil {
		return nil, err
	}
	return d.readRing(r.VertexCount, r.CoordOff)
}

// Holes 返回多边形的全部洞（可能为空）
func (d *Dataset) Holes(id uint32) ([]geom.Ring, error) {
	r, err := d.poly(id)
	if err != nil {
		return nil, err
	}
	if r.HoleCount == 0 {
		return nil, nil
	}
	out := make([]geom.Ring, 0, r.HoleCount)
	for _, h := range d.holes[r.FirstHole : r.FirstHole+uint32(r.HoleCount)] {
		ring, err := d.readRing(h.VertexCount, h.CoordOff)
		if err != nil {
			return nil, err
		}
		out = append(out, ring)
	}
	return out, nil
}

// HoleCount 返回洞数量，不读取坐标
func (d *Dataset) HoleCount(id uint32) (int, error) {
	r, err := d.poly(id)
	if err != nil {
		return 0, err
	}
	return int(r.HoleCount), nil
}

// BBox 返回预计算包围盒（O(1)，不解码几何）
func (d *Dataset) BBox(id uint32) (geom.BBox, error) {
	r, err := d.poly(id)
	if err != nil {
		return geom.BBox{}, err
	}
	return geom.BBox{MinX: r.MinX, MinY: r.MinY, MaxX: r.MaxX, MaxY: r.MaxY}, nil
}

func (d *Dataset) ZoneOf(id uint32) (uint16, error) {
	r, err := d.poly(id)
	if err != nil {
		return 0, err
	}
	return r.ZoneID, nil
}

// Polygon 读取外环与全部洞
func (d *Dataset) Polygon(id uint32) (geom.Polygon, error) {
	outer, err := d.Boundary(id)
	if err != nil {
		return geom.Polygon{}, err
	}
	holes, err := d.Holes(id)
	if err != nil {
		return geom.Polygon{}, err
	}
	return geom.Polygon{Outer: outer, Holes: holes}, nil
}

func (d *Dataset) Shortcuts() *Shortcuts { return d.sc }

func (d *Dataset) Registry() *Registry { return d.reg }

func (d *Dataset) PolygonCount() int { return len(d.polys) }

func (d *Dataset) Path() string { return d.path }

// Info：数据集概要
type Info struct {
	Path     string    `json:"path"`
	Version  uint32    `json:"version"`
	CellSize uint32    `json:"cell_size"`
	Polygons int       `json:"polygons"`
	Holes    int       `json:"holes"`
	Zones    int       `json:"zones"`
	Cells    int       `json:"cells"`
	Bytes    int64     `json:"bytes"`
	// Checksum 文件内容的 xxhash64（16 位十六进制）
	Checksum string    `json:"checksum"`
	OpenedAt time.Time `json:"opened_at"`
}

func (d *Dataset) Info() Info {
	return Info{
		Path:     d.path,
		Version:  d.hdr.Version,
		CellSize: d.hdr.CellSize,
		Polygons: len(d.polys),
		Holes:    len(d.holes),
		Zones:    d.reg.ZoneCount(),
		Cells:    d.sc.CellCount(),
		Bytes:    d.size,
		Checksum: fmt.Sprintf("%016x", d.sum),
		OpenedAt: d.opened,
	}
}

// Close 释放内存映射；内存模式下为空操作
func (d *Dataset) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// sortedKeys 供测试与遍历使用
func (s *Shortcuts) sortedKeys() []CellKey {
	keys := make([]CellKey, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
