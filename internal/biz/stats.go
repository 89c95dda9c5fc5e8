package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// SourceStats 单一来源的流水统计
type SourceStats struct {
	Source Source
	Count  int64 // 交易笔数
	Earned int64 // earn + refund 合计
	Spent  int64 // spend + 提交解冻合计
}

// Stats 一个时间窗内的账户流水统计
type Stats struct {
	UserID  string
	Period  string
	Earned  int64
	Spent   int64
	Sources []*SourceStats
}

// StatsRepo 统计数据层接口（定义在 biz 层）
type StatsRepo interface {
	GetStatsRange(ctx context.Context, userID string, begin, end time.Time) (*Stats, error)
}

// AggregateStats 把一段流水折算成统计口径（纯函数，数据层在窗口查询后调用）
// 入账口径 = earn + refund；消费口径 = spend + 提交解冻。
// 提交解冻由流水 metadata 的 commit 标记识别：
// 分类放在 Go 侧做，避免对 JSON 列做跨类型的 SQL 比较。
func AggregateStats(userID string, txs []*CreditTransaction) *Stats {
	bySource := make(map[Source]*SourceStats)
	var order []Source
	for _, rec := range txs {
		s, ok := bySource[rec.Source]
		if !ok {
			s = &SourceStats{Source: rec.Source}
			bySource[rec.Source] = s
			order = append(order, rec.Source)
		}
		s.Count++
		switch rec.Type {
		case TypeEarn, TypeRefund:
			s.Earned += rec.Amount
		case TypeSpend:
			s.Spent += rec.Amount
		case TypeUnfreeze:
			if commit, _ := rec.Metadata["commit"].(bool); commit {
				s.Spent += rec.Amount
			}
		}
	}

	stats := &Stats{UserID: userID, Sources: make([]*SourceStats, 0, len(order))}
	for _, src := range order {
		s := bySource[src]
		stats.Earned += s.Earned
		stats.Spent += s.Spent
		stats.Sources = append(stats.Sources, s)
	}
	return stats
}

// StatsUseCase 流水统计业务逻辑（审计/报表协作方调用）
type StatsUseCase struct {
	repo StatsRepo
	log  *log.Helper
}

// NewStatsUseCase 创建统计 UseCase
func NewStatsUseCase(repo StatsRepo, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// GetStatsToday 获取今日统计（UTC 日边界，与配额周期口径一致）
func (uc *StatsUseCase) GetStatsToday(ctx context.Context, userID string) (*Stats, error) {
	now := time.Now().UTC()
	begin := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := uc.repo.GetStatsRange(ctx, userID, begin, begin.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	stats.Period = begin.Format(constants.TimeFormatDay)
	return stats, nil
}

// GetStatsMonth 获取本月统计
func (uc *StatsUseCase) GetStatsMonth(ctx context.Context, userID string) (*Stats, error) {
	now := time.Now().UTC()
	begin := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	stats, err := uc.repo.GetStatsRange(ctx, userID, begin, begin.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	stats.Period = begin.Format(constants.TimeFormatMonth)
	return stats, nil
}
