package biz

import (
	"time"

	"credit-service/internal/constants"
)

// Granularity 配额周期粒度
type Granularity string

const (
	// GranularityMonth 自然月周期（默认）
	GranularityMonth Granularity = "month"
	// GranularityDay 自然日周期（运维报表用）
	GranularityDay Granularity = "day"
)

// PeriodKey 把时间戳映射为规范周期键
// 统一按 UTC 计算：配额的周期边界不随用户时区漂移，
// 同一输入永远得到同一周期键，重试后可以幂等地重新推导。
// 月粒度产出 "2006-01"，日粒度产出 "2006-01-02"。
func PeriodKey(t time.Time, g Granularity) string {
	utc := t.UTC()
	switch g {
	case GranularityDay:
		return utc.Format(constants.TimeFormatDay)
	default:
		return utc.Format(constants.TimeFormatMonth)
	}
}
