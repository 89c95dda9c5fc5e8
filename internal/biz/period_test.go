package biz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodKeyMonth(t *testing.T) {
	ts := time.Date(2024, 11, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-11", PeriodKey(ts, GranularityMonth))
}

func TestPeriodKeyDay(t *testing.T) {
	ts := time.Date(2024, 11, 15, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "2024-11-15", PeriodKey(ts, GranularityDay))
}

func TestPeriodKeyUsesUTC(t *testing.T) {
	// 当地时间已进入 3 月，UTC 仍在 2 月
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2024, 3, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, "2024-02", PeriodKey(ts, GranularityMonth))
	assert.Equal(t, "2024-02-29", PeriodKey(ts, GranularityDay))

	// 当地时间还在月末，UTC 已翻月
	loc = time.FixedZone("UTC-8", -8*3600)
	ts = time.Date(2024, 10, 31, 20, 0, 0, 0, loc)
	assert.Equal(t, "2024-11", PeriodKey(ts, GranularityMonth))
}

func TestPeriodKeyMonthBoundary(t *testing.T) {
	before := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	after := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01", PeriodKey(before, GranularityMonth))
	assert.Equal(t, "2024-02", PeriodKey(after, GranularityMonth))
}

func TestPeriodKeyDefaultsToMonth(t *testing.T) {
	ts := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-07", PeriodKey(ts, Granularity("bogus")))
}
