package biz

import (
	"context"
	stderrors "errors"
	"time"

	"credit-service/internal/constants"
	ledgerErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// TransactionType 交易类型（how：资金如何变动）
type TransactionType string

const (
	TypeEarn        TransactionType = constants.TransactionTypeEarn
	TypeSpend       TransactionType = constants.TransactionTypeSpend
	TypeRefund      TransactionType = constants.TransactionTypeRefund
	TypeAdminAdjust TransactionType = constants.TransactionTypeAdminAdjust
	TypeFreeze      TransactionType = constants.TransactionTypeFreeze
	TypeUnfreeze    TransactionType = constants.TransactionTypeUnfreeze
)

// Source 交易来源（why：业务上为什么变动，独立于类型）
type Source string

const (
	SourceSubscription Source = constants.SourceSubscription
	SourceAPICall      Source = constants.SourceAPICall
	SourceAdmin        Source = constants.SourceAdmin
	SourceStorage      Source = constants.SourceStorage
	SourceBonus        Source = constants.SourceBonus
)

// UserCredits 账户余额聚合领域对象
// 聚合是交易流水的缓存：balance 永远可以由流水重放还原
type UserCredits struct {
	UserID        string
	Balance       int64
	FrozenBalance int64
	TotalEarned   int64
	TotalSpent    int64
	UpdatedAt     time.Time
}

// CreditTransaction 积分交易流水领域对象
type CreditTransaction struct {
	ID           string
	UserID       string
	Type         TransactionType
	Amount       int64 // 除 admin_adjust 外均为正数幅值
	BalanceAfter int64 // 本笔交易应用后的可用余额快照
	Source       Source
	Description  string
	ReferenceID  string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// TransactionQuery 流水查询条件（审计/报表用，按 (created_at, id) 倒序）
type TransactionQuery struct {
	UserID   string
	Type     TransactionType
	Source   Source
	Begin    time.Time
	End      time.Time
	Page     int
	PageSize int
}

// LedgerView 原子单元内对同一用户历史流水的只读访问
type LedgerView interface {
	// FindByReference 返回该用户指定类型下同一引用号最近的一笔交易，不存在时返回 nil
	FindByReference(typ TransactionType, referenceID string) (*CreditTransaction, error)
	// SumAmountByReference 汇总该用户指定类型下同一引用号的金额
	SumAmountByReference(typ TransactionType, referenceID string) (int64, error)
}

// ApplyFunc 在持有用户余额行排他锁的存储事务内执行：
// 基于锁定后的聚合校验前置条件、原地修改聚合、返回要追加的流水。
// 返回错误时整个原子单元回滚，不产生任何持久化副作用。
type ApplyFunc func(view LedgerView, credits *UserCredits) (*CreditTransaction, error)

// LedgerRepo 账本数据层接口（定义在 biz 层）
type LedgerRepo interface {
	// CreateUserCredits 幂等创建零值聚合行（重复创建不报错）
	CreateUserCredits(ctx context.Context, userID string) error
	// GetUserCredits 只读查询聚合，不存在时返回 nil
	GetUserCredits(ctx context.Context, userID string) (*UserCredits, error)
	// Apply 以用户行排他锁为边界执行一个原子单元：
	// 锁定聚合行 -> fn 校验并修改 -> 写回聚合 -> 追加流水 -> 提交
	Apply(ctx context.Context, userID string, fn ApplyFunc) (*CreditTransaction, error)
	// ListTransactions 分页查询流水
	ListTransactions(ctx context.Context, q *TransactionQuery) ([]*CreditTransaction, int64, error)
	// ListUserTransactionsAsc 按 (created_at, id) 升序返回用户全部流水（对账重放用）
	ListUserTransactionsAsc(ctx context.Context, userID string) ([]*CreditTransaction, error)
	// ListUserIDs 返回所有持有聚合行的用户（对账扫描用）
	ListUserIDs(ctx context.Context) ([]string, error)
}

// replayError 幂等命中：同 (类型, 引用号) 已有交易，返回原交易而不重复应用
type replayError struct {
	prior *CreditTransaction
}

func (e *replayError) Error() string {
	return "transaction already applied for reference " + e.prior.ReferenceID
}

// LedgerUseCase 账本引擎
// 六个资金操作共用一个骨架：锁定聚合 -> 校验 -> 改聚合 -> 追加流水 -> 提交
type LedgerUseCase struct {
	repo    LedgerRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(repo LedgerRepo, conf *LedgerConfig, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// EnsureAccount 幂等开户（零余额聚合行）
// 由认证子系统在注册时调用；资金操作不会隐式开户
func (uc *LedgerUseCase) EnsureAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return ledgerErrors.ErrorUserNotFound("userID is required")
	}
	return uc.repo.CreateUserCredits(ctx, userID)
}

// GetCredits 查询账户聚合
func (uc *LedgerUseCase) GetCredits(ctx context.Context, userID string) (*UserCredits, error) {
	c, err := uc.repo.GetUserCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ledgerErrors.ErrorUserNotFound("user %s has no credit account", userID)
	}
	return c, nil
}

// Earn 入账
func (uc *LedgerUseCase) Earn(ctx context.Context, userID string, amount int64, source Source, description, referenceID string) (*CreditTransaction, error) {
	if amount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("earn amount must be positive, got %d", amount)
	}
	return uc.apply(ctx, userID, TypeEarn, referenceID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		c.Balance += amount
		c.TotalEarned += amount
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeEarn,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       source,
			Description:  description,
			ReferenceID:  referenceID,
		}, nil
	})
}

// Spend 消费
// 余额校验和扣减必须在同一个原子单元内完成，避免并发消费读到过期余额
func (uc *LedgerUseCase) Spend(ctx context.Context, userID string, amount int64, source Source, description, referenceID string) (*CreditTransaction, error) {
	if amount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("spend amount must be positive, got %d", amount)
	}
	return uc.apply(ctx, userID, TypeSpend, referenceID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		if c.Balance < amount {
			return nil, ledgerErrors.ErrorInsufficientBalance("balance %d below spend amount %d", c.Balance, amount)
		}
		c.Balance -= amount
		c.TotalSpent += amount
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeSpend,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       source,
			Description:  description,
			ReferenceID:  referenceID,
		}, nil
	})
}

// Freeze 冻结（授权预留）
// 冻结立即提交并释放行锁，外部往返在无锁状态下进行，结果由 Unfreeze 落定
func (uc *LedgerUseCase) Freeze(ctx context.Context, userID string, amount int64, source Source, referenceID string) (*CreditTransaction, error) {
	if amount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("freeze amount must be positive, got %d", amount)
	}
	return uc.apply(ctx, userID, TypeFreeze, referenceID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		if c.Balance < amount {
			return nil, ledgerErrors.ErrorInsufficientBalance("balance %d below freeze amount %d", c.Balance, amount)
		}
		c.Balance -= amount
		c.FrozenBalance += amount
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeFreeze,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       source,
			ReferenceID:  referenceID,
		}, nil
	})
}

// Unfreeze 解冻
// commit=true: 冻结转为真实消费（totalSpent 增加，余额不回升）
// commit=false: 资金回到可用余额
// 支持按同一引用号多次部分解冻，累计金额不得超过该引用的冻结金额
func (uc *LedgerUseCase) Unfreeze(ctx context.Context, userID string, amount int64, referenceID string, commit bool) (*CreditTransaction, error) {
	if amount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("unfreeze amount must be positive, got %d", amount)
	}
	if referenceID == "" {
		return nil, ledgerErrors.ErrorInvalidAmount("unfreeze requires the referenceId of a prior freeze")
	}
	return uc.apply(ctx, userID, TypeUnfreeze, referenceID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		frz, err := view.FindByReference(TypeFreeze, referenceID)
		if err != nil {
			return nil, err
		}
		if frz == nil {
			return nil, ledgerErrors.ErrorFreezeNotFound("no freeze transaction for reference %s", referenceID)
		}
		released, err := view.SumAmountByReference(TypeUnfreeze, referenceID)
		if err != nil {
			return nil, err
		}
		remaining := frz.Amount - released
		if amount > remaining {
			// 超额请求先判定是否为重试：最近一笔同引用解冻金额一致则按幂等命中处理
			prior, err := view.FindByReference(TypeUnfreeze, referenceID)
			if err != nil {
				return nil, err
			}
			if prior != nil && prior.Amount == amount {
				return nil, &replayError{prior: prior}
			}
			return nil, ledgerErrors.ErrorOverRelease("unfreeze %d exceeds remaining hold %d for reference %s", amount, remaining, referenceID)
		}
		if c.FrozenBalance < amount {
			return nil, ledgerErrors.ErrorOverRelease("frozen balance %d below unfreeze amount %d", c.FrozenBalance, amount)
		}
		c.FrozenBalance -= amount
		if commit {
			c.TotalSpent += amount
		} else {
			c.Balance += amount
		}
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeUnfreeze,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       frz.Source,
			ReferenceID:  referenceID,
			Metadata:     map[string]interface{}{"commit": commit},
		}, nil
	})
}

// Refund 退款
// 记为 refund 类型的入账以便审计区分；不回退 totalSpent（历史消费不可逆）
func (uc *LedgerUseCase) Refund(ctx context.Context, userID string, amount int64, source Source, referenceID, description string) (*CreditTransaction, error) {
	if amount <= 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("refund amount must be positive, got %d", amount)
	}
	return uc.apply(ctx, userID, TypeRefund, referenceID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		c.Balance += amount
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeRefund,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       source,
			Description:  description,
			ReferenceID:  referenceID,
		}, nil
	})
}

// AdminAdjust 管理员调整（带符号，允许调到恰好为零，不允许为负）
func (uc *LedgerUseCase) AdminAdjust(ctx context.Context, userID string, amount int64, operatorID, description string) (*CreditTransaction, error) {
	if amount == 0 {
		return nil, ledgerErrors.ErrorInvalidAmount("adjust amount must be non-zero")
	}
	return uc.apply(ctx, userID, TypeAdminAdjust, "", func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		newBalance := c.Balance + amount
		if newBalance < 0 {
			return nil, ledgerErrors.ErrorInvalidAmount("adjust %d would drive balance %d negative", amount, c.Balance)
		}
		c.Balance = newBalance
		return &CreditTransaction{
			UserID:       userID,
			Type:         TypeAdminAdjust,
			Amount:       amount,
			BalanceAfter: c.Balance,
			Source:       SourceAdmin,
			Description:  description,
			Metadata:     map[string]interface{}{"operator_id": operatorID},
		}, nil
	})
}

// ListTransactions 审计/报表查询
func (uc *LedgerUseCase) ListTransactions(ctx context.Context, q *TransactionQuery) ([]*CreditTransaction, int64, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = constants.DefaultPageSize
	}
	if max := uc.conf.MaxPageSize; max > 0 && q.PageSize > max {
		q.PageSize = max
	}
	return uc.repo.ListTransactions(ctx, q)
}

// apply 六个操作共用的骨架：幂等预检 + 原子应用 + 指标
func (uc *LedgerUseCase) apply(ctx context.Context, userID string, typ TransactionType, referenceID string, mutate ApplyFunc) (*CreditTransaction, error) {
	startTime := time.Now()
	rec, err := uc.repo.Apply(ctx, userID, func(view LedgerView, c *UserCredits) (*CreditTransaction, error) {
		// 解冻的幂等判定依赖剩余冻结金额，在 Unfreeze 的回调内单独处理
		if referenceID != "" && typ != TypeUnfreeze {
			prior, err := view.FindByReference(typ, referenceID)
			if err != nil {
				return nil, err
			}
			if prior != nil {
				return nil, &replayError{prior: prior}
			}
		}
		return mutate(view, c)
	})

	if uc.metrics != nil {
		uc.metrics.ApplyDuration.WithLabelValues(string(typ)).Observe(time.Since(startTime).Seconds())
	}

	var re *replayError
	if stderrors.As(err, &re) {
		if uc.metrics != nil {
			uc.metrics.TransactionTotal.WithLabelValues(string(typ), string(re.prior.Source), constants.ResultReplay).Inc()
		}
		uc.log.Infof("transaction replayed: user=%s type=%s reference=%s", userID, typ, referenceID)
		return re.prior, nil
	}
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.TransactionTotal.WithLabelValues(string(typ), "", constants.ResultFailed).Inc()
		}
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.TransactionTotal.WithLabelValues(string(typ), string(rec.Source), constants.ResultSuccess).Inc()
		amount := rec.Amount
		if amount < 0 {
			amount = -amount
		}
		uc.metrics.TransactionAmount.WithLabelValues(string(typ), string(rec.Source)).Add(float64(amount))
		if uc.conf.BalanceLowThreshold > 0 {
			if rec.BalanceAfter < uc.conf.BalanceLowThreshold {
				uc.metrics.BalanceLowAlert.Set(1)
			} else {
				uc.metrics.BalanceLowAlert.Set(0)
			}
		}
	}
	return rec, nil
}
