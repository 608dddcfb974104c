// 包 tzerr：查询引擎的错误分类，调用方通过 errors.Is / errors.As 判定
package tzerr

import (
	"errors"
	"strings"
)

// 文档注释：错误哨兵
// 约束：失败点以 fmt.Errorf("...: %w", Err...) 包装后返回；查询层不重试任何一类错误。
//   - ErrOutOfRange：输入坐标越界（调用方错误，查询开始前拒绝）
//   - ErrCorruptData：数据文件完整性问题（致命）
//   - ErrUnknownZone：多边形与时区表版本不一致（致命）
//   - ErrAmbiguousZone：确定模式下同一点命中多个时区
var (
	ErrOutOfRange    = errors.New("coordinate out of range")
	ErrCorruptData   = errors.New("corrupt timezone data")
	ErrUnknownZone   = errors.New("unknown zone")
	ErrAmbiguousZone = errors.New("ambiguous zone")
)

// AmbiguousZoneError 携带命中的全部时区名
type AmbiguousZoneError struct {
	Lng, Lat float64
	Zones    []string
}

func (e *AmbiguousZoneError) Error() string {
	return ErrAmbiguousZone.Error() + ": " + strings.Join(e.Zones, ", ")
}

func (e *AmbiguousZoneError) Unwrap() error { return ErrAmbiguousZone }

// Fatal 报告错误是否属于数据集完整性问题（批量查询据此中止）
func Fatal(err error) bool {
	return errors.Is(err, ErrCorruptData) || errors.Is(err, ErrUnknownZone)
}
