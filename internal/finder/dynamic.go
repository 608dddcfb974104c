package finder

import (
	"errors"
	"sync/atomic"

	"tz-api/internal/logger"
	"tz-api/internal/tzdb"
)

// ErrNotLoaded 尚未装载任何数据集
var ErrNotLoaded = errors.New("timezone dataset not loaded")

// 文档注释：可热替换的查询器
// 背景：通过 atomic.Value 无锁切换当前查询器，重新加载数据文件时读路径不阻塞。
// 约束：Swap 后旧查询器在进行中的查询结束后关闭；持有旧引用的调用方会得到 ErrClosed，重新 Load 即可。
type Dynamic struct{ v atomic.Value }

// Load 返回当前查询器，未装载时为 nil
func (d *Dynamic) Load() *Finder {
	x := d.v.Load()
	if x == nil {
		return nil
	}
	return x.(*Finder)
}

// Swap 替换当前查询器并关闭旧的
func (d *Dynamic) Swap(f *Finder) error {
	if f == nil {
		return errors.New("nil finder")
	}
	var old *Finder
	if x := d.v.Swap(f); x != nil {
		old = x.(*Finder)
	}
	if old == nil {
		return nil
	}
	return old.Close()
}

// Reload 打开新数据文件并切换；打开失败时保留当前查询器
func (d *Dynamic) Reload(path string, dopts tzdb.Options, opts Options) (tzdb.Info, error) {
	f, err := Open(path, dopts, opts)
	if err != nil {
		logger.L().Error("tzdb_reload_error", "path", path, "err", err)
		return tzdb.Info{}, err
	}
	info := f.ds.Info()
	if err := d.Swap(f); err != nil {
		logger.L().Warn("tzdb_close_old_error", "err", err)
	}
	logger.L().Info("tzdb_reload_ok", "path", path, "polygons", info.Polygons, "zones", info.Zones)
	return info, nil
}

// Do 在当前查询器上执行 fn；遇到 ErrClosed（刚被替换）时对新查询器重试一次
func (d *Dynamic) Do(fn func(*Finder) error) error {
	for i := 0; i < 2; i++ {
		f := d.Load()
		if f == nil {
			return ErrNotLoaded
		}
		if err := fn(f); !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return ErrClosed
}

// Close 关闭当前查询器
func (d *Dynamic) Close() error {
	if f := d.Load(); f != nil {
		return f.Close()
	}
	return nil
}
