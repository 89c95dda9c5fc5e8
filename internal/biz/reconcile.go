package biz

import (
	"context"
	"fmt"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Mismatch 单个账户的对账差异
type Mismatch struct {
	UserID   string
	Stored   *UserCredits
	Computed *UserCredits
	Detail   string
}

// ReconcileReport 一次全量对账的结果
type ReconcileReport struct {
	UsersChecked int
	Mismatches   []*Mismatch
}

// ReplayTransactions 按 (created_at, id) 升序重放流水，重建聚合
// 这是账本的核心一致性检查：重放结果必须与存储的聚合逐字段相等。
// unfreeze 的 commit/release 语义由 balance_after 还原：
// release 时余额回升 amount，commit 时余额不变。
// 同时校验 balance_after 链自身的连贯性。
func ReplayTransactions(userID string, txs []*CreditTransaction) (*UserCredits, error) {
	c := &UserCredits{UserID: userID}
	for _, rec := range txs {
		switch rec.Type {
		case TypeEarn:
			c.Balance += rec.Amount
			c.TotalEarned += rec.Amount
		case TypeSpend:
			c.Balance -= rec.Amount
			c.TotalSpent += rec.Amount
		case TypeRefund:
			c.Balance += rec.Amount
		case TypeAdminAdjust:
			c.Balance += rec.Amount // 带符号
		case TypeFreeze:
			c.Balance -= rec.Amount
			c.FrozenBalance += rec.Amount
		case TypeUnfreeze:
			c.FrozenBalance -= rec.Amount
			switch rec.BalanceAfter {
			case c.Balance + rec.Amount: // release：资金回到可用余额
				c.Balance += rec.Amount
			case c.Balance: // commit：冻结转为真实消费
				c.TotalSpent += rec.Amount
			default:
				return nil, fmt.Errorf("transaction %s: unfreeze balance_after %d matches neither commit nor release from balance %d", rec.ID, rec.BalanceAfter, c.Balance)
			}
		default:
			return nil, fmt.Errorf("transaction %s: unknown type %q", rec.ID, rec.Type)
		}
		if rec.BalanceAfter != c.Balance {
			return nil, fmt.Errorf("transaction %s: balance_after %d, replay computed %d", rec.ID, rec.BalanceAfter, c.Balance)
		}
		if c.Balance < 0 || c.FrozenBalance < 0 {
			return nil, fmt.Errorf("transaction %s: replay drove balance negative (balance=%d frozen=%d)", rec.ID, c.Balance, c.FrozenBalance)
		}
	}
	return c, nil
}

// ReconcileUseCase 对账扫描：只读校验，从不修正
type ReconcileUseCase struct {
	repo    LedgerRepo
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewReconcileUseCase 创建对账 UseCase
func NewReconcileUseCase(repo LedgerRepo, logger log.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// ReconcileUser 重放单个用户的流水并与聚合对比，一致时返回 nil
func (uc *ReconcileUseCase) ReconcileUser(ctx context.Context, userID string) (*Mismatch, error) {
	stored, err := uc.repo.GetUserCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	txs, err := uc.repo.ListUserTransactionsAsc(ctx, userID)
	if err != nil {
		return nil, err
	}
	computed, err := ReplayTransactions(userID, txs)
	if err != nil {
		return &Mismatch{UserID: userID, Stored: stored, Detail: err.Error()}, nil
	}
	if computed.Balance != stored.Balance ||
		computed.FrozenBalance != stored.FrozenBalance ||
		computed.TotalEarned != stored.TotalEarned ||
		computed.TotalSpent != stored.TotalSpent {
		return &Mismatch{
			UserID:   userID,
			Stored:   stored,
			Computed: computed,
			Detail: fmt.Sprintf("stored (balance=%d frozen=%d earned=%d spent=%d) != replayed (balance=%d frozen=%d earned=%d spent=%d)",
				stored.Balance, stored.FrozenBalance, stored.TotalEarned, stored.TotalSpent,
				computed.Balance, computed.FrozenBalance, computed.TotalEarned, computed.TotalSpent),
		}, nil
	}
	return nil, nil
}

// ReconcileAll 扫描全部账户
func (uc *ReconcileUseCase) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	userIDs, err := uc.repo.ListUserIDs(ctx)
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.ReconcileTotal.WithLabelValues(constants.ResultFailed).Inc()
		}
		return nil, err
	}

	report := &ReconcileReport{}
	for _, userID := range userIDs {
		m, err := uc.ReconcileUser(ctx, userID)
		if err != nil {
			uc.log.Errorf("reconcile user %s failed: %v", userID, err)
			continue
		}
		report.UsersChecked++
		if m != nil {
			uc.log.Errorf("ledger mismatch: user=%s detail=%s", m.UserID, m.Detail)
			report.Mismatches = append(report.Mismatches, m)
		}
	}

	if uc.metrics != nil {
		uc.metrics.ReconcileMismatch.Set(float64(len(report.Mismatches)))
		uc.metrics.ReconcileTotal.WithLabelValues(constants.ResultSuccess).Inc()
	}
	uc.log.Infof("reconcile sweep done: checked=%d mismatches=%d", report.UsersChecked, len(report.Mismatches))
	return report, nil
}
