// 包 tzdb：时区边界数据文件的读取（多边形、洞、快捷网格、时区名）与参考编码器
package tzdb

import (
	"encoding/binary"
	"fmt"

	"tz-api/internal/tzerr"
)

// 文档注释：文件格式
// 全部为大端序。布局：
//   - header（80 字节）：magic "TZDB" | version | scale | cellSize | polygonCount | holeCount | zoneCount | cellCount
//     | zonesOff | polysOff | holesOff | cellsOff | fileSize
//   - zones：zoneCount × (len u16 + utf-8)
//   - polys：polygonCount × 36 字节：zoneID u16, holeCount u16, firstHole u32, vertexCount u32, coordOff u64, bbox 4×i32
//   - holes：holeCount × 12 字节：vertexCount u32, coordOff u64
//   - cells：cellCount × 20 字节（按 key 升序）：key u64, n u32, idsOff u64；ids 为 n × u32
//   - coords：每个环 vertexCount × (x i32, y i32)
const (
	Magic   = "TZDB"
	Version = uint32(1)

	headerSize  = 80
	polyRecSize = 36
	holeRecSize = 12
	cellRecSize = 20
	vertexSize  = 8
)

var be = binary.BigEndian

type header struct {
	Version      uint32
	Scale        uint32
	CellSize     uint32
	PolygonCount uint32
	HoleCount    uint32
	ZoneCount    uint32
	CellCount    uint32
	ZonesOff     uint64
	PolysOff     uint64
	HolesOff     uint64
	CellsOff     uint64
	FileSize     uint64
}

func (h header) encode() []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], Magic)
	be.PutUint32(b[4:], h.Version)
	be.PutUint32(b[8:], h.Scale)
	be.PutUint32(b[12:], h.CellSize)
	be.PutUint32(b[16:], h.PolygonCount)
	be.PutUint32(b[20:], h.HoleCount)
	be.PutUint32(b[24:], h.ZoneCount)
	be.PutUint32(b[28:], h.CellCount)
	be.PutUint64(b[32:], h.ZonesOff)
	be.PutUint64(b[40:], h.PolysOff)
	be.PutUint64(b[48:], h.HolesOff)
	be.PutUint64(b[56:], h.CellsOff)
	be.PutUint64(b[64:], h.FileSize)
	// b[72:80] 保留
	return b
}

func decodeHeader(b []byte) (header, error) {
	var h header
	if len(b) < headerSize {
		return h, corrupt("short header: %d bytes", len(b))
	}
	if string(b[0:4]) != Magic {
		return h, corrupt("bad magic %q", b[0:4])
	}
	h.Version = be.Uint32(b[4:])
	h.Scale = be.Uint32(b[8:])
	h.CellSize = be.Uint32(b[12:])
	h.PolygonCount = be.Uint32(b[16:])
	h.HoleCount = be.Uint32(b[20:])
	h.ZoneCount = be.Uint32(b[24:])
	h.CellCount = be.Uint32(b[28:])
	h.ZonesOff = be.Uint64(b[32:])
	h.PolysOff = be.Uint64(b[40:])
	h.HolesOff = be.Uint64(b[48:])
	h.CellsOff = be.Uint64(b[56:])
	h.FileSize = be.Uint64(b[64:])
	return h, nil
}

type polyRec struct {
	ZoneID      uint16
	HoleCount   uint16
	FirstHole   uint32
	VertexCount uint32
	CoordOff    uint64
	MinX, MinY  int32
	MaxX, MaxY  int32
}

func (r polyRec) encode(b []byte) {
	be.PutUint16(b[0:], r.ZoneID)
	be.PutUint16(b[2:], r.HoleCount)
	be.PutUint32(b[4:], r.FirstHole)
	be.PutUint32(b[8:], r.VertexCount)
	be.PutUint64(b[12:], r.CoordOff)
	be.PutUint32(b[20:], uint32(r.MinX))
	be.PutUint32(b[24:], uint32(r.MinY))
	be.PutUint32(b[28:], uint32(r.MaxX))
	be.PutUint32(b[32:], uint32(r.MaxY))
}

func decodePolyRec(b []byte) polyRec {
	return polyRec{
		ZoneID:      be.Uint16(b[0:]),
		HoleCount:   be.Uint16(b[2:]),
		FirstHole:   be.Uint32(b[4:]),
		VertexCount: be.Uint32(b[8:]),
		CoordOff:    be.Uint64(b[12:]),
		MinX:        int32(be.Uint32(b[20:])),
		MinY:        int32(be.Uint32(b[24:])),
		MaxX:        int32(be.Uint32(b[28:])),
		MaxY:        int32(be.Uint32(b[32:])),
	}
}

type ringRec struct {
	VertexCount uint32
	CoordOff    uint64
}

func (r ringRec) encode(b []byte) {
	be.PutUint32(b[0:], r.VertexCount)
	be.PutUint64(b[4:], r.CoordOff)
}

func decodeRingRec(b []byte) ringRec {
	return ringRec{VertexCount: be.Uint32(b[0:]), CoordOff: be.Uint64(b[4:])}
}

type cellRec struct {
	Key    CellKey
	N      uint32
	IDsOff uint64
}

func (r cellRec) encode(b []byte) {
	be.PutUint64(b[0:], uint64(r.Key))
	be.PutUint32(b[8:], r.N)
	be.PutUint64(b[12:], r.IDsOff)
}

func decodeCellRec(b []byte) cellRec {
	return cellRec{Key: CellKey(be.Uint64(b[0:])), N: be.Uint32(b[8:]), IDsOff: be.Uint64(b[12:])}
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, tzerr.ErrCorruptData)...)
}
