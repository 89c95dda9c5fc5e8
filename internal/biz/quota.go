package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	ledgerErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// QuotaService 配额服务维度
type QuotaService string

const (
	QuotaAPICall QuotaService = constants.QuotaServiceAPICall
	QuotaStorage QuotaService = constants.QuotaServiceStorage
	QuotaCustom  QuotaService = constants.QuotaServiceCustom
)

// QuotaUsage 周期配额用量领域对象
type QuotaUsage struct {
	UserID     string
	Service    QuotaService
	Period     string
	UsedAmount int64
	UpdatedAt  time.Time
}

// QuotaRepo 配额数据层接口（定义在 biz 层）
// 三个写操作都必须对 (用户, 服务, 周期) 键做不可分割的读改写
type QuotaRepo interface {
	// GetUsage 只读查询，无记录时返回 0
	GetUsage(ctx context.Context, userID string, service QuotaService, period string) (int64, error)
	// Increment 原子累加：行不存在则以 amount 初值创建，返回累加后的总量
	Increment(ctx context.Context, userID string, service QuotaService, period string, amount int64) (int64, error)
	// CheckAndIncrement 仅当累加后不超过 limit 时才累加；拒绝时用量保持不变
	CheckAndIncrement(ctx context.Context, userID string, service QuotaService, period string, amount, limit int64) (bool, int64, error)
	// ResetUsage 管理员显式重置（正常使用中用量只增不减）
	ResetUsage(ctx context.Context, userID string, service QuotaService, period string, to int64) error
}

// QuotaUseCase 周期配额业务逻辑，独立于积分余额
type QuotaUseCase struct {
	repo    QuotaRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewQuotaUseCase 创建配额 UseCase
func NewQuotaUseCase(repo QuotaRepo, conf *LedgerConfig, logger log.Logger) *QuotaUseCase {
	return &QuotaUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Increment 累加周期用量，周期键由发生时间推导而不是调用方传入
func (uc *QuotaUseCase) Increment(ctx context.Context, userID string, service QuotaService, occurredAt time.Time, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledgerErrors.ErrorInvalidAmount("quota increment must be positive, got %d", amount)
	}
	period := PeriodKey(occurredAt, uc.conf.Granularity)
	used, err := uc.repo.Increment(ctx, userID, service, period, amount)
	if err != nil {
		return 0, err
	}
	if uc.metrics != nil {
		uc.metrics.QuotaIncrementTotal.WithLabelValues(string(service)).Inc()
	}
	return used, nil
}

// GetUsage 查询指定周期的用量，无记录返回 0
func (uc *QuotaUseCase) GetUsage(ctx context.Context, userID string, service QuotaService, period string) (int64, error) {
	return uc.repo.GetUsage(ctx, userID, service, period)
}

// CheckAndIncrement 准入控制：只有不超限时才累加
func (uc *QuotaUseCase) CheckAndIncrement(ctx context.Context, userID string, service QuotaService, occurredAt time.Time, amount, limit int64) (bool, int64, error) {
	startTime := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.QuotaCheckDuration.WithLabelValues(string(service)).Observe(time.Since(startTime).Seconds())
		}
	}()

	if amount <= 0 {
		return false, 0, ledgerErrors.ErrorInvalidAmount("quota increment must be positive, got %d", amount)
	}
	period := PeriodKey(occurredAt, uc.conf.Granularity)
	allowed, used, err := uc.repo.CheckAndIncrement(ctx, userID, service, period, amount, limit)
	if uc.metrics != nil {
		switch {
		case err != nil:
			uc.metrics.QuotaCheckTotal.WithLabelValues(string(service), constants.QuotaCheckResultError).Inc()
		case allowed:
			uc.metrics.QuotaCheckTotal.WithLabelValues(string(service), constants.QuotaCheckResultAllowed).Inc()
		default:
			uc.metrics.QuotaCheckTotal.WithLabelValues(string(service), constants.QuotaCheckResultDenied).Inc()
		}
	}
	return allowed, used, err
}

// AdminReset 管理员重置周期用量
// 这是唯一允许用量下降的入口，历史行保留以供审计
func (uc *QuotaUseCase) AdminReset(ctx context.Context, userID string, service QuotaService, period string, to int64, operatorID string) error {
	if to < 0 {
		return ledgerErrors.ErrorInvalidAmount("quota reset target must be non-negative, got %d", to)
	}
	if err := uc.repo.ResetUsage(ctx, userID, service, period, to); err != nil {
		return err
	}
	uc.log.Infof("quota reset: user=%s service=%s period=%s to=%d operator=%s", userID, service, period, to, operatorID)
	return nil
}
