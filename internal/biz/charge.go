package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	ledgerErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// 组合扣费拒绝原因
const (
	ChargeDeniedQuota   = "quota exceeded"
	ChargeDeniedBalance = "insufficient balance"
)

// MeterEvent 计量事件（RocketMQ 消息体）
// EventID 同时作为消费流水的引用号，消息重投不会二次扣费
type MeterEvent struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Service     string    `json:"service"`
	Amount      int64     `json:"amount"` // 配额用量
	Cost        int64     `json:"cost"`   // 积分费用，0 表示只计量不扣费
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ChargeRequest 组合扣费请求：配额核准 + 积分消费必须在同一个原子单元内落库
type ChargeRequest struct {
	UserID      string
	Service     QuotaService
	Period      string // 由 OccurredAt 推导，不由调用方直接给出
	QuotaAmount int64
	QuotaLimit  int64 // 0 表示不限制
	Cost        int64 // 0 表示只计量
	Source      Source
	Description string
	ReferenceID string // 计量事件 ID，幂等键
}

// ChargeResult 组合扣费结果
// 拒绝（配额超限 / 余额不足）是正常业务结果而不是错误，Reason 说明原因
type ChargeResult struct {
	Allowed     bool
	Reason      string
	UsedAmount  int64
	Transaction *CreditTransaction // Cost=0 或被拒绝时为 nil
}

// ChargeRepo 组合扣费数据层接口
// 实现方在一个存储事务内锁定配额行与余额行，调用 ApplyCharge 落定结果
type ChargeRepo interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}

// ApplyCharge 组合扣费的判定与变更逻辑（纯函数，事务内调用）
// used 为锁定后的当前周期用量；通过后 credits 与返回的用量反映变更后的状态。
// 任何一条腿不满足时不产生任何变更。
func ApplyCharge(req *ChargeRequest, credits *UserCredits, used int64) (*ChargeResult, error) {
	if req.QuotaLimit > 0 && used+req.QuotaAmount > req.QuotaLimit {
		return &ChargeResult{Allowed: false, Reason: ChargeDeniedQuota, UsedAmount: used}, nil
	}
	if req.Cost > 0 {
		if credits == nil {
			return nil, ledgerErrors.ErrorUserNotFound("user %s has no credit account", req.UserID)
		}
		if credits.Balance < req.Cost {
			return &ChargeResult{Allowed: false, Reason: ChargeDeniedBalance, UsedAmount: used}, nil
		}
		credits.Balance -= req.Cost
		credits.TotalSpent += req.Cost
		return &ChargeResult{
			Allowed:    true,
			UsedAmount: used + req.QuotaAmount,
			Transaction: &CreditTransaction{
				UserID:       req.UserID,
				Type:         TypeSpend,
				Amount:       req.Cost,
				BalanceAfter: credits.Balance,
				Source:       req.Source,
				Description:  req.Description,
				ReferenceID:  req.ReferenceID,
			},
		}, nil
	}
	return &ChargeResult{Allowed: true, UsedAmount: used + req.QuotaAmount}, nil
}

// ChargeUseCase 计量准入业务逻辑（供计量中间件与 MQ 消费端调用）
type ChargeUseCase struct {
	repo    ChargeRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewChargeUseCase 创建组合扣费 UseCase
func NewChargeUseCase(repo ChargeRepo, conf *LedgerConfig, logger log.Logger) *ChargeUseCase {
	return &ChargeUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Charge 执行一次计量准入：配额与余额都满足才放行，且一起落库
func (uc *ChargeUseCase) Charge(ctx context.Context, userID string, service QuotaService, occurredAt time.Time, quotaAmount, cost int64, description, referenceID string) (*ChargeResult, error) {
	startTime := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.ChargeDuration.WithLabelValues(string(service)).Observe(time.Since(startTime).Seconds())
		}
	}()

	if quotaAmount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("quota amount must be positive, got %d", quotaAmount)
	}
	if cost < 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("cost must be non-negative, got %d", cost)
	}

	req := &ChargeRequest{
		UserID:      userID,
		Service:     service,
		Period:      PeriodKey(occurredAt, uc.conf.Granularity),
		QuotaAmount: quotaAmount,
		QuotaLimit:  uc.conf.LimitFor(service),
		Cost:        cost,
		Source:      sourceForService(service),
		Description: description,
		ReferenceID: referenceID,
	}
	res, err := uc.repo.Charge(ctx, req)
	if uc.metrics != nil {
		switch {
		case err != nil:
			uc.metrics.ChargeTotal.WithLabelValues(string(service), constants.QuotaCheckResultError).Inc()
		case res.Allowed:
			uc.metrics.ChargeTotal.WithLabelValues(string(service), constants.QuotaCheckResultAllowed).Inc()
		default:
			uc.metrics.ChargeTotal.WithLabelValues(string(service), constants.QuotaCheckResultDenied).Inc()
		}
	}
	return res, err
}

// HandleMeterEvent 处理一条异步计量事件
func (uc *ChargeUseCase) HandleMeterEvent(ctx context.Context, ev *MeterEvent) error {
	res, err := uc.Charge(ctx, ev.UserID, QuotaService(ev.Service), ev.OccurredAt, ev.Amount, ev.Cost, ev.Description, ev.EventID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		// 异步路径没有调用方可拒绝，只能记录：事件已发生，拒绝意味着欠费或超限
		uc.log.Warnf("meter event denied: event=%s user=%s service=%s reason=%s", ev.EventID, ev.UserID, ev.Service, res.Reason)
	}
	return nil
}

// sourceForService 服务维度到交易来源的映射
func sourceForService(s QuotaService) Source {
	switch s {
	case QuotaStorage:
		return SourceStorage
	default:
		return SourceAPICall
	}
}
