// 包 coord：经纬度与定点整数之间的换算
package coord

import (
	"fmt"
	"math"

	"tz-api/internal/tzerr"
)

// Scale 为全局唯一的定点缩放因子（小数点后 7 位），数据文件头必须与之一致
const Scale = 10_000_000

const (
	MaxLng = 180.0
	MaxLat = 90.0

	MaxX = int32(MaxLng * Scale)
	MaxY = int32(MaxLat * Scale)
)

// Point：定点坐标，X 为经度，Y 为纬度
type Point struct {
	X int32
	Y int32
}

func ValidLng(lng float64) bool { return lng >= -MaxLng && lng <= MaxLng }

func ValidLat(lat float64) bool { return lat >= -MaxLat && lat <= MaxLat }

// 文档注释：经纬度量化
// 约束：NaN 与越界值均返回 ErrOutOfRange；四舍五入（远离零），往返误差不超过半个刻度。
func Quantize(lng, lat float64) (Point, error) {
	if !ValidLng(lng) {
		return Point{}, fmt.Errorf("longitude %v not in [-180, 180]: %w", lng, tzerr.ErrOutOfRange)
	}
	if !ValidLat(lat) {
		return Point{}, fmt.Errorf("latitude %v not in [-90, 90]: %w", lat, tzerr.ErrOutOfRange)
	}
	return Point{X: int32(math.Round(lng * Scale)), Y: int32(math.Round(lat * Scale))}, nil
}

// Dequantize 为 Quantize 的逆运算
func Dequantize(p Point) (lng, lat float64) {
	return float64(p.X) / Scale, float64(p.Y) / Scale
}

// MustQuantize 仅用于常量坐标（测试与数据构建），越界时 panic
func MustQuantize(lng, lat float64) Point {
	p, err := Quantize(lng, lat)
	if err != nil {
		panic(err)
	}
	return p
}
