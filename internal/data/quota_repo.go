package data

import (
	"context"
	stderrors "errors"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"
	ledgerErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// createRetryTimes 惰性建行与并发首次使用竞争时的重试次数
const createRetryTimes = 3

// errUsageRaced 并发首次使用在唯一键上撞车，重读即可拿到赢家创建的行
var errUsageRaced = stderrors.New("quota usage row creation raced")

type quotaRepo struct {
	data *Data
	log  *log.Helper
}

// NewQuotaRepo 创建配额数据仓库
func NewQuotaRepo(data *Data, logger log.Logger) biz.QuotaRepo {
	return &quotaRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUsage 只读查询用量，行不存在视为 0
func (r *quotaRepo) GetUsage(ctx context.Context, userID string, service biz.QuotaService, period string) (int64, error) {
	var m model.UserQuotaUsage
	err := r.data.db.WithContext(ctx).
		Where("user_id = ? AND service = ? AND period = ?", userID, string(service), period).
		First(&m).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, translateDBError(err)
	}
	return m.UsedAmount, nil
}

// Increment 原子累加用量，行不存在时以 amount 为初值创建
func (r *quotaRepo) Increment(ctx context.Context, userID string, service biz.QuotaService, period string, amount int64) (int64, error) {
	var used int64
	err := r.withUsageLocked(ctx, userID, service, period, func(tx *gorm.DB, m *model.UserQuotaUsage) error {
		m.UsedAmount += amount
		used = m.UsedAmount
		return r.saveUsage(tx, m)
	})
	if err != nil {
		return 0, err
	}
	return used, nil
}

// CheckAndIncrement 仅当累加后不超过 limit 时才累加
// 拒绝走正常返回路径，行内容保持不变
func (r *quotaRepo) CheckAndIncrement(ctx context.Context, userID string, service biz.QuotaService, period string, amount, limit int64) (bool, int64, error) {
	var (
		allowed bool
		used    int64
	)
	err := r.withUsageLocked(ctx, userID, service, period, func(tx *gorm.DB, m *model.UserQuotaUsage) error {
		if limit > 0 && m.UsedAmount+amount > limit {
			allowed = false
			used = m.UsedAmount
			return nil
		}
		m.UsedAmount += amount
		allowed = true
		used = m.UsedAmount
		return r.saveUsage(tx, m)
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, used, nil
}

// ResetUsage 管理员重置周期用量为指定值
func (r *quotaRepo) ResetUsage(ctx context.Context, userID string, service biz.QuotaService, period string, to int64) error {
	return r.withUsageLocked(ctx, userID, service, period, func(tx *gorm.DB, m *model.UserQuotaUsage) error {
		m.UsedAmount = to
		return r.saveUsage(tx, m)
	})
}

// withUsageLocked 对 (用户, 服务, 周期) 行做不可分割的读改写：
// 事务内 FOR UPDATE 锁行，行不存在则惰性创建零值行再锁。
// 并发首次使用会在唯一键上竞争，撞到重复键时重读重试。
func (r *quotaRepo) withUsageLocked(ctx context.Context, userID string, service biz.QuotaService, period string, fn func(tx *gorm.DB, m *model.UserQuotaUsage) error) error {
	for i := 0; i < createRetryTimes; i++ {
		err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m model.UserQuotaUsage
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND service = ? AND period = ?", userID, string(service), period).
				First(&m).Error
			if err != nil {
				if !stderrors.Is(err, gorm.ErrRecordNotFound) {
					return translateDBError(err)
				}
				m = model.UserQuotaUsage{
					UserQuotaUsageID: uuid.New().String(),
					UserID:           userID,
					Service:          string(service),
					Period:           period,
				}
				if err := tx.Create(&m).Error; err != nil {
					if isDuplicateEntry(err) {
						return errUsageRaced
					}
					return translateDBError(err)
				}
			}
			return fn(tx, &m)
		})
		if err == nil {
			return nil
		}
		if stderrors.Is(err, errUsageRaced) {
			continue
		}
		return err
	}
	return ledgerErrors.ErrorTransientContention("quota row creation raced: user=%s service=%s period=%s", userID, service, period)
}

// saveUsage 写回用量
func (r *quotaRepo) saveUsage(tx *gorm.DB, m *model.UserQuotaUsage) error {
	err := tx.Model(&model.UserQuotaUsage{}).
		Where("user_quota_usage_id = ?", m.UserQuotaUsageID).
		Update("used_amount", m.UsedAmount).Error
	if err != nil {
		return translateDBError(err)
	}
	return nil
}
