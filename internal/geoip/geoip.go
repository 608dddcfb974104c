// 包 geoip：IP → 经纬度（GeoLite2-City / GeoIP2-City mmdb）
package geoip

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"tz-api/internal/logger"
)

// ErrBadIP 无法解析的 IP 文本
var ErrBadIP = errors.New("invalid ip address")

// Location：IP 定位结果
type Location struct {
	Lng        float64 `json:"lng"`
	Lat        float64 `json:"lat"`
	AccuracyKm uint16  `json:"accuracy_km"`
	// TimeZone 为 mmdb 自带的时区字段，仅作对照
	TimeZone string `json:"mmdb_timezone,omitempty"`
	Country  string `json:"country,omitempty"`
}

// 文档注释：IP 定位器
// 约束：只读，可并发；Reader 内部为内存映射，Close 后不可再用。
type Locator struct {
	r *geoip2.Reader
}

func Open(path string) (*Locator, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	md := r.Metadata()
	logger.L().Info("geoip_open_ok", "path", path, "type", md.DatabaseType, "build_epoch", md.BuildEpoch)
	return &Locator{r: r}, nil
}

// 文档注释：定位
// 返回：库中无该 IP 或无坐标时 ok=false；IP 文本非法时返回 ErrBadIP。
func (l *Locator) Locate(ip string) (Location, bool, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{}, false, fmt.Errorf("%q: %w", ip, ErrBadIP)
	}
	rec, err := l.r.City(addr)
	if err != nil {
		return Location{}, false, err
	}
	loc := rec.Location
	if loc.Latitude == 0 && loc.Longitude == 0 && loc.AccuracyRadius == 0 {
		return Location{}, false, nil
	}
	return Location{
		Lng:        loc.Longitude,
		Lat:        loc.Latitude,
		AccuracyKm: loc.AccuracyRadius,
		TimeZone:   loc.TimeZone,
		Country:    rec.Country.IsoCode,
	}, true, nil
}

func (l *Locator) Close() error { return l.r.Close() }
