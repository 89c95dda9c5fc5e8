package data

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	ledgerErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// chargeLockExpiry 组合扣费锁过期时间，覆盖一次事务的最长耗时
const chargeLockExpiry = 5 * time.Second

type chargeRepo struct {
	data    *Data
	rs      *redsync.Redsync
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewChargeRepo 创建组合扣费数据仓库
func NewChargeRepo(data *Data, rs *redsync.Redsync, logger log.Logger) biz.ChargeRepo {
	return &chargeRepo{
		data:    data,
		rs:      rs,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Charge 组合扣费：配额核准与积分扣减在同一个存储事务内落定
// 数据库行锁已保证原子性，分布式锁用来压平同一计量键上的热点竞争，
// 拿不到锁按瞬时竞争返回，由调用方（MQ 消费端）重试。
func (r *chargeRepo) Charge(ctx context.Context, req *biz.ChargeRequest) (*biz.ChargeResult, error) {
	lockKey := fmt.Sprintf("%s%s:%s:%s", constants.RedisKeyChargeLock, req.UserID, req.Service, req.Period)
	mutex := r.rs.NewMutex(lockKey, redsync.WithExpiry(chargeLockExpiry))

	lockStart := time.Now()
	if err := mutex.LockContext(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
		}
		return nil, ledgerErrors.ErrorTransientContention("failed to acquire charge lock %s: %v", lockKey, err)
	}
	if r.metrics != nil {
		r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
		r.metrics.LockAcquireDuration.Observe(time.Since(lockStart).Seconds())
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			r.log.Warnf("failed to release charge lock %s: %v", lockKey, err)
		}
	}()

	var out *biz.ChargeResult
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁序固定：先配额行后余额行，避免与其他扣费路径互相死锁
		usage, err := lockOrCreateUsage(tx, req.UserID, string(req.Service), req.Period)
		if err != nil {
			return err
		}

		var credits *biz.UserCredits
		var creditsID string
		var mc model.UserCredits
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", req.UserID).
			First(&mc).Error
		switch {
		case err == nil:
			credits = creditsToBiz(&mc)
			creditsID = mc.UserCreditsID
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			// 只计量不扣费时允许没有积分账户
		default:
			return translateDBError(err)
		}

		// 消息重投：同引用号的消费流水已存在则按幂等命中返回，不再动任何行
		if req.Cost > 0 && req.ReferenceID != "" {
			view := &ledgerView{tx: tx, userID: req.UserID}
			prior, err := view.FindByReference(biz.TypeSpend, req.ReferenceID)
			if err != nil {
				return err
			}
			if prior != nil {
				out = &biz.ChargeResult{Allowed: true, UsedAmount: usage.UsedAmount, Transaction: prior}
				return nil
			}
		}

		res, err := biz.ApplyCharge(req, credits, usage.UsedAmount)
		if err != nil {
			return err
		}
		if !res.Allowed {
			out = res
			return nil
		}

		if err := tx.Model(&model.UserQuotaUsage{}).
			Where("user_quota_usage_id = ?", usage.UserQuotaUsageID).
			Update("used_amount", res.UsedAmount).Error; err != nil {
			return translateDBError(err)
		}

		if res.Transaction != nil {
			if err := tx.Model(&model.UserCredits{}).
				Where("user_credits_id = ?", creditsID).
				Updates(map[string]interface{}{
					"balance":     credits.Balance,
					"total_spent": credits.TotalSpent,
				}).Error; err != nil {
				return translateDBError(err)
			}
			res.Transaction.ID = uuid.New().String()
			res.Transaction.CreatedAt = time.Now()
			mt, err := transactionToModel(res.Transaction)
			if err != nil {
				return err
			}
			if err := tx.Create(mt).Error; err != nil {
				return translateDBError(err)
			}
		}

		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 提交后失效余额缓存，失败只记日志不影响主流程
	if out.Transaction != nil {
		r.refreshCache(req.UserID)
	}
	return out, nil
}

// refreshCache 扣费提交后失效余额缓存，下次读触发重建
func (r *chargeRepo) refreshCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.data.rdb.Del(ctx, constants.RedisKeyCredits+userID).Err(); err != nil {
		r.log.Warnf("failed to invalidate credits cache: user=%s err=%v", userID, err)
	}
}

// lockOrCreateUsage 在当前事务内锁定配额行，不存在时创建零值行
// 与 quotaRepo 的惰性建行不同，这里已持有计量键的分布式锁，不会撞唯一键
func lockOrCreateUsage(tx *gorm.DB, userID, service, period string) (*model.UserQuotaUsage, error) {
	var m model.UserQuotaUsage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND service = ? AND period = ?", userID, service, period).
		First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translateDBError(err)
	}
	m = model.UserQuotaUsage{
		UserQuotaUsageID: uuid.New().String(),
		UserID:           userID,
		Service:          service,
		Period:           period,
	}
	if err := tx.Create(&m).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, ledgerErrors.ErrorTransientContention("quota row creation raced: user=%s service=%s period=%s", userID, service, period)
		}
		return nil, translateDBError(err)
	}
	return &m, nil
}
