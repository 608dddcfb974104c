package tzdb

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tz-api/internal/coord"
	"tz-api/internal/geom"
	"tz-api/internal/tzerr"
)

func rect(minLng, minLat, maxLng, maxLat float64) orb.Ring {
	return orb.Ring{{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat}}
}

// fixture：Europe/Berlin 带一个洞（Europe/Busingen 作为飞地填充洞），Asia/Tokyo 两块
func fixture(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder(DefaultCellSize)
	require.NoError(t, b.AddPolygon("Europe/Berlin", orb.Polygon{rect(6, 47, 15, 55), rect(8.5, 47.5, 8.8, 47.8)}))
	require.NoError(t, b.AddPolygon("Europe/Busingen", orb.Polygon{rect(8.5, 47.5, 8.8, 47.8)}))
	require.NoError(t, b.AddMultiPolygon("Asia/Tokyo", orb.MultiPolygon{
		{rect(139, 35, 141, 37)},
		{rect(130, 31, 132, 34)},
	}))
	return b
}

func openFixture(t *testing.T, inMemory bool) *Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tz.bin")
	require.NoError(t, fixture(t).WriteFile(path))
	d, err := Open(path, Options{InMemory: inMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenModes(t *testing.T) {
	for _, inMemory := range []bool{false, true} {
		d := openFixture(t, inMemory)
		assert.Equal(t, 4, d.PolygonCount())
		assert.Equal(t, 3, d.Registry().ZoneCount())
		assert.Equal(t, []string{"Europe/Berlin", "Europe/Busingen", "Asia/Tokyo"}, d.Registry().Names())

		outer, err := d.Boundary(0)
		require.NoError(t, err)
		require.Len(t, outer, 4, "closing vertex is dropped")
		assert.Equal(t, coord.MustQuantize(6, 47), outer[0])
		assert.Equal(t, coord.MustQuantize(6, 55), outer[3])

		holes, err := d.Holes(0)
		require.NoError(t, err)
		require.Len(t, holes, 1)
		assert.Equal(t, coord.MustQuantize(8.5, 47.5), holes[0][0])

		holes, err = d.Holes(2)
		require.NoError(t, err)
		assert.Empty(t, holes)

		bb, err := d.BBox(3)
		require.NoError(t, err)
		assert.Equal(t, geom.BBox{
			MinX: coord.MustQuantize(130, 0).X, MinY: coord.MustQuantize(0, 31).Y,
			MaxX: coord.MustQuantize(132, 0).X, MaxY: coord.MustQuantize(0, 34).Y,
		}, bb)

		zid, err := d.ZoneOf(3)
		require.NoError(t, err)
		name, err := d.Registry().NameOf(zid)
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", name)

		polys, err := d.Registry().PolygonsOf(zid)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2, 3}, polys)

		info := d.Info()
		assert.Equal(t, 1, info.Holes)
		assert.Equal(t, uint32(coord.Scale), info.CellSize)
	}
}

func TestUnknownPolygonAndZone(t *testing.T) {
	d := openFixture(t, true)
	_, err := d.Boundary(99)
	assert.ErrorIs(t, err, tzerr.ErrCorruptData)
	_, err = d.BBox(4)
	assert.ErrorIs(t, err, tzerr.ErrCorruptData)

	_, err = d.Registry().NameOf(3)
	assert.ErrorIs(t, err, tzerr.ErrUnknownZone)
	_, err = d.Registry().IDOf("Mars/Olympus_Mons")
	assert.ErrorIs(t, err, tzerr.ErrUnknownZone)
	_, err = d.Registry().PolygonsOf(10)
	assert.ErrorIs(t, err, tzerr.ErrUnknownZone)
}

func TestShortcutCompleteness(t *testing.T) {
	d := openFixture(t, true)
	sc := d.Shortcuts()
	// 包围盒内任意点所在格都必须列出该多边形
	for id := uint32(0); id < uint32(d.PolygonCount()); id++ {
		bb, err := d.BBox(id)
		require.NoError(t, err)
		step := (bb.MaxX - bb.MinX) / 7
		stepY := (bb.MaxY - bb.MinY) / 7
		for x := bb.MinX; x <= bb.MaxX; x += step {
			for y := bb.MinY; y <= bb.MaxY; y += stepY {
				cands := sc.Candidates(sc.CellKey(coord.Point{X: x, Y: y}))
				assert.Contains(t, cands, id, "polygon %d at (%d,%d)", id, x, y)
			}
		}
		cands := sc.Candidates(sc.CellKey(coord.Point{X: bb.MaxX, Y: bb.MaxY}))
		assert.Contains(t, cands, id)
	}
}

func TestShortcutOrderingAndOcean(t *testing.T) {
	d := openFixture(t, true)
	sc := d.Shortcuts()
	// 飞地所在格：小多边形（Busingen）排在大多边形（Berlin）之前
	cands := sc.Candidates(sc.CellKey(coord.MustQuantize(8.6, 47.6)))
	assert.Equal(t, []uint32{1, 0}, cands)

	assert.Empty(t, sc.Candidates(sc.CellKey(coord.MustQuantize(-30, -40))))
	assert.Equal(t, len(sc.sortedKeys()), sc.CellCount())
}

func TestCellKeyAndNeighbors(t *testing.T) {
	g := NewGrid(DefaultCellSize)
	assert.Equal(t, uint32(361), g.Cols)
	assert.Equal(t, uint32(181), g.Rows)

	k := CellKeyOf(coord.MustQuantize(0.5, 0.5), DefaultCellSize)
	assert.Equal(t, NewCellKey(180, 90), k)
	assert.Equal(t, NewCellKey(0, 0), CellKeyOf(coord.MustQuantize(-180, -90), DefaultCellSize))
	assert.Equal(t, NewCellKey(360, 180), CellKeyOf(coord.MustQuantize(180, 90), DefaultCellSize))
	assert.Equal(t, NewCellKey(179, 89), CellKeyOf(coord.MustQuantize(-0.0000001, -0.0000001), DefaultCellSize))

	n := g.NeighborKeys(k)
	assert.Len(t, n, 9)
	assert.Equal(t, k, n[0])

	// 极地行截断
	assert.Len(t, g.NeighborKeys(NewCellKey(10, 0)), 6)
	// 反子午线循环：首列与末实际列（179°..180°）互为邻格，180° 边缘列同时挂在两侧
	assert.Equal(t, uint32(360), g.LngCols())
	west := g.NeighborKeys(NewCellKey(0, 90))
	assert.Len(t, west, 12)
	assert.Contains(t, west, NewCellKey(359, 89))
	assert.Contains(t, west, NewCellKey(359, 91))
	assert.Contains(t, west, NewCellKey(360, 90))
	assert.Contains(t, west, NewCellKey(1, 89))

	east := g.NeighborKeys(NewCellKey(359, 90))
	assert.Len(t, east, 12)
	assert.Contains(t, east, NewCellKey(0, 90))
	assert.Contains(t, east, NewCellKey(358, 90))
	assert.Contains(t, east, NewCellKey(360, 90))

	edge := g.NeighborKeys(NewCellKey(360, 90))
	assert.Len(t, edge, 9)
	assert.Equal(t, NewCellKey(360, 90), edge[0])
	assert.Contains(t, edge, NewCellKey(359, 90))
	assert.Contains(t, edge, NewCellKey(0, 90))
	assert.NotContains(t, edge, NewCellKey(1, 90))

	// 中间列不受边缘列影响
	for _, nk := range g.NeighborKeys(NewCellKey(180, 90)) {
		assert.NotEqual(t, uint32(360), nk.Col())
	}

	// 不能整除时没有单独的边缘列，180° 落在最后一列
	g7 := NewGrid(7 * coord.Scale)
	assert.Equal(t, g7.Cols, g7.LngCols())
	last := g7.LngCols() - 1
	assert.Equal(t, last, CellKeyOf(coord.MustQuantize(180, 0), g7.CellSize).Col())
	assert.Contains(t, g7.NeighborKeys(NewCellKey(0, 10)), NewCellKey(last, 10))
}

func TestCorruptData(t *testing.T) {
	good, err := fixture(t).Bytes()
	require.NoError(t, err)
	_, err = FromBytes(good)
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	cases := map[string][]byte{
		"empty":     {},
		"bad magic": mutate(func(b []byte) []byte { copy(b, "XXXX"); return b }),
		"version":   mutate(func(b []byte) []byte { be.PutUint32(b[4:], 2); return b }),
		"scale":     mutate(func(b []byte) []byte { be.PutUint32(b[8:], 1_000_000); return b }),
		"cell size": mutate(func(b []byte) []byte { be.PutUint32(b[12:], 0); return b }),
		"truncated": mutate(func(b []byte) []byte { return b[:len(b)-8] }),
		"zone id": mutate(func(b []byte) []byte {
			off := be.Uint64(b[40:])
			be.PutUint16(b[off:], 77)
			return b
		}),
		"ring offset": mutate(func(b []byte) []byte {
			off := be.Uint64(b[40:])
			be.PutUint64(b[off+12:], uint64(len(b)))
			return b
		}),
		"vertex count": mutate(func(b []byte) []byte {
			off := be.Uint64(b[40:])
			be.PutUint32(b[off+8:], 2)
			return b
		}),
		"candidate id": mutate(func(b []byte) []byte {
			cells := be.Uint64(b[56:])
			ids := be.Uint64(b[cells+12:])
			be.PutUint32(b[ids:], 1000)
			return b
		}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromBytes(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tzerr.ErrCorruptData)
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"), Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, tzerr.ErrCorruptData)

	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte("TZDB-not-really"), 0o644))
	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, tzerr.ErrCorruptData)
}

func TestBuilderRejectsBadInput(t *testing.T) {
	b := NewBuilder(0)
	assert.Error(t, b.AddPolygon("", orb.Polygon{rect(0, 0, 1, 1)}))
	assert.Error(t, b.AddPolygon("X/Y", orb.Polygon{}))
	assert.Error(t, b.AddPolygon("X/Y", orb.Polygon{{{0, 0}, {1, 1}, {0, 0}}}))
	err := b.AddPolygon("X/Y", orb.Polygon{rect(0, 0, 200, 1)})
	assert.ErrorIs(t, err, tzerr.ErrOutOfRange)
	assert.Error(t, b.AddZone(""))
}

func TestBuilderZoneLimit(t *testing.T) {
	b := NewBuilder(DefaultCellSize)
	for i := 0; i <= math.MaxUint16; i++ {
		require.NoError(t, b.AddZone(fmt.Sprintf("Z/%d", i)))
	}
	require.NoError(t, b.AddZone("Z/0"), "known zone keeps its id")
	assert.Error(t, b.AddZone("Z/overflow"))
	assert.Error(t, b.AddPolygon("Z/overflow", orb.Polygon{rect(0, 0, 1, 1)}))
	require.NoError(t, b.AddPolygon("Z/65535", orb.Polygon{rect(0, 0, 1, 1)}))
	assert.Equal(t, uint16(math.MaxUint16), b.polys[0].zone)
}

func TestWriteFileCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	// 目标是非空目录：rename 失败
	target := filepath.Join(dir, "tz.bin")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "x"), 0o755))
	err := fixture(t).WriteFile(target)
	require.Error(t, err)
	_, statErr := os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(statErr), "temporary file removed")
}

func TestPolygonsOfReturnsCopy(t *testing.T) {
	d := openFixture(t, true)
	reg := d.Registry()
	zid, err := reg.IDOf("Asia/Tokyo")
	require.NoError(t, err)
	ids, err := reg.PolygonsOf(zid)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	want := append([]uint32(nil), ids...)
	ids[0] = 999
	again, err := reg.PolygonsOf(zid)
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestChecksumTracksContent(t *testing.T) {
	build := func(hole orb.Ring) Info {
		b := NewBuilder(DefaultCellSize)
		require.NoError(t, b.AddPolygon("Europe/Berlin", orb.Polygon{rect(6, 47, 15, 55), hole}))
		data, err := b.Bytes()
		require.NoError(t, err)
		d, err := FromBytes(data)
		require.NoError(t, err)
		return d.Info()
	}
	a := build(rect(8.5, 47.5, 8.8, 47.8))
	again := build(rect(8.5, 47.5, 8.8, 47.8))
	moved := build(rect(9.5, 48.5, 9.8, 48.8))

	assert.Len(t, a.Checksum, 16)
	assert.Equal(t, a.Checksum, again.Checksum)
	// 只移动顶点：计数与大小不变，校验和必须不同
	assert.Equal(t, a.Polygons, moved.Polygons)
	assert.Equal(t, a.Zones, moved.Zones)
	assert.Equal(t, a.Bytes, moved.Bytes)
	assert.NotEqual(t, a.Checksum, moved.Checksum)

	inMem := openFixture(t, true).Info()
	mapped := openFixture(t, false).Info()
	assert.Equal(t, inMem.Checksum, mapped.Checksum)
}
