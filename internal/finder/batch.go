package finder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"tz-api/internal/tzerr"
)

// Mode：查询模式
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeUnique   Mode = "unique"
	ModeClosest  Mode = "closest"
	ModeLand     Mode = "land"
	ModeSuggest  Mode = "suggest"
)

// ParseMode 解析模式名，空串为标准模式
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStandard, nil
	case ModeStandard, ModeUnique, ModeClosest, ModeLand, ModeSuggest:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lookup mode %q", s)
	}
}

// Query：批量查询中的一个点
type Query struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Result：与输入一一对应的结果
type Result struct {
	Query
	Zone       string  `json:"timezone,omitempty"`
	Found      bool    `json:"found"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	Exact      bool    `json:"exact,omitempty"`
	// Err 仅承载单点的调用方错误（越界、歧义）；数据集错误中止整个批次
	Err error `json:"-"`
}

// TimezonesAt 批量标准模式
func (f *Finder) TimezonesAt(ctx context.Context, qs []Query) ([]Result, error) {
	return f.BatchAt(ctx, ModeStandard, 0, qs)
}

// UniqueTimezonesAt 批量确定模式
func (f *Finder) UniqueTimezonesAt(ctx context.Context, qs []Query) ([]Result, error) {
	return f.BatchAt(ctx, ModeUnique, 0, qs)
}

// ClosestTimezonesAt 批量最近边界模式
func (f *Finder) ClosestTimezonesAt(ctx context.Context, qs []Query, maxDistanceKm float64) ([]Result, error) {
	return f.BatchAt(ctx, ModeClosest, maxDistanceKm, qs)
}

// 文档注释：批量查询
// 背景：共享同一份已加载数据集，按 Workers 限制并发扇出；单点查询为同步纯计算，无需中途取消。
// 约束：ctx 只在点与点之间检查（外部截止时间）；ErrCorruptData/ErrUnknownZone 中止批次并返回该错误；
// 越界与歧义写入对应 Result.Err，批次继续。结果顺序与输入一致。
func (f *Finder) BatchAt(ctx context.Context, mode Mode, maxDistanceKm float64, qs []Query) ([]Result, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	out := make([]Result, len(qs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i := range qs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			q := qs[i]
			m, ok, err := f.Lookup(mode, q.Lng, q.Lat, maxDistanceKm)
			if err != nil && (tzerr.Fatal(err) || errors.Is(err, ErrClosed)) {
				return err
			}
			out[i] = Result{Query: q, Zone: m.Zone, Found: ok, DistanceKm: m.DistanceKm, Exact: m.Exact, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.log.Error("batch_lookup_error", "mode", mode, "points", len(qs), "err", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
