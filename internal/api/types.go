package api

import (
	"tz-api/internal/geoip"
	"tz-api/internal/store"
	"tz-api/internal/tzdb"
)

// 文档注释：对外返回结构
// 约束：字段稳定；新增字段需评估兼容性。found=false 表示该点没有时区（海上等），不是错误。
type tzResult struct {
	Lng        float64 `json:"lng"`
	Lat        float64 `json:"lat"`
	Mode       string  `json:"mode"`
	Timezone   string  `json:"timezone"`
	Found      bool    `json:"found"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	Exact      bool    `json:"exact"`
	Cached     bool    `json:"cached,omitempty"`
}

// cachedLookup 缓存值（模式与坐标已在键中）
type cachedLookup struct {
	Zone       string  `json:"z"`
	Found      bool    `json:"f"`
	DistanceKm float64 `json:"d,omitempty"`
	Exact      bool    `json:"e,omitempty"`
}

type batchRequest struct {
	Mode   string       `json:"mode"`
	MaxKm  *float64     `json:"max_km"`
	Points [][2]float64 `json:"points"`
}

type batchItem struct {
	Lng        float64 `json:"lng"`
	Lat        float64 `json:"lat"`
	Timezone   string  `json:"timezone"`
	Found      bool    `json:"found"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	Exact      bool    `json:"exact"`
	Error      string  `json:"error,omitempty"`
}

type batchResponse struct {
	Mode    string      `json:"mode"`
	Count   int         `json:"count"`
	Results []batchItem `json:"results"`
}

type ipResult struct {
	IP       string          `json:"ip"`
	Location *geoip.Location `json:"location,omitempty"`
	tzResult
}

type zonesResponse struct {
	Count int      `json:"count"`
	Zones []string `json:"zones"`
}

type statsResponse struct {
	Dataset  tzdb.Info        `json:"dataset"`
	Queries  *store.Totals    `json:"queries,omitempty"`
	TopZones []store.ZoneHits `json:"top_zones,omitempty"`
	Commit   string           `json:"commit"`
}

type errorResponse struct {
	Error string   `json:"error"`
	Zones []string `json:"zones,omitempty"`
}
