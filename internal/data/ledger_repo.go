package data

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	ledgerErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// creditsCacheTTL 账户聚合缓存过期时间
const creditsCacheTTL = 5 * time.Minute

type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建账本数据仓库
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateUserCredits 幂等创建零值聚合行，已存在时静默返回
func (r *ledgerRepo) CreateUserCredits(ctx context.Context, userID string) error {
	m := &model.UserCredits{
		UserCreditsID: uuid.New().String(),
		UserID:        userID,
	}
	err := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
	if err != nil && !isDuplicateEntry(err) {
		return translateDBError(err)
	}
	return nil
}

// GetUserCredits 只读查询聚合，优先走缓存
// 缓存只服务读路径，资金操作一律以行锁内读到的数据库数据为准
func (r *ledgerRepo) GetUserCredits(ctx context.Context, userID string) (*biz.UserCredits, error) {
	cacheKey := constants.RedisKeyCredits + userID
	if val, err := r.data.rdb.Get(ctx, cacheKey).Result(); err == nil {
		cached := &biz.UserCredits{}
		if err := json.Unmarshal([]byte(val), cached); err == nil {
			return cached, nil
		}
		// 缓存内容损坏时删掉重建
		r.data.rdb.Del(ctx, cacheKey)
	}

	var m model.UserCredits
	err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateDBError(err)
	}

	credits := creditsToBiz(&m)
	r.refreshCreditsCache(credits)
	return credits, nil
}

// Apply 原子单元：锁定聚合行 -> fn 校验并修改 -> 写回聚合 -> 追加流水 -> 提交
// fn 返回的领域错误原样透传并回滚，不落任何持久化副作用
func (r *ledgerRepo) Apply(ctx context.Context, userID string, fn biz.ApplyFunc) (*biz.CreditTransaction, error) {
	var out *biz.CreditTransaction
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.UserCredits
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&m).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerErrors.ErrorUserNotFound("user %s has no credit account", userID)
			}
			return translateDBError(err)
		}

		credits := creditsToBiz(&m)
		rec, err := fn(&ledgerView{tx: tx, userID: userID}, credits)
		if err != nil {
			return err
		}

		if err := tx.Model(&model.UserCredits{}).
			Where("user_credits_id = ?", m.UserCreditsID).
			Updates(map[string]interface{}{
				"balance":        credits.Balance,
				"frozen_balance": credits.FrozenBalance,
				"total_earned":   credits.TotalEarned,
				"total_spent":    credits.TotalSpent,
			}).Error; err != nil {
			return translateDBError(err)
		}

		rec.ID = uuid.New().String()
		rec.CreatedAt = time.Now()
		mt, err := transactionToModel(rec)
		if err != nil {
			return err
		}
		if err := tx.Create(mt).Error; err != nil {
			return translateDBError(err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 提交后刷新缓存，失败只记日志不影响主流程
	r.refreshCreditsCacheAsync(userID)
	return out, nil
}

// ListTransactions 分页查询流水，按 (created_at, id) 倒序保证稳定排序
func (r *ledgerRepo) ListTransactions(ctx context.Context, q *biz.TransactionQuery) ([]*biz.CreditTransaction, int64, error) {
	db := r.data.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ?", q.UserID)
	if q.Type != "" {
		db = db.Where("type = ?", string(q.Type))
	}
	if q.Source != "" {
		db = db.Where("source = ?", string(q.Source))
	}
	if !q.Begin.IsZero() {
		db = db.Where("created_at >= ?", q.Begin)
	}
	if !q.End.IsZero() {
		db = db.Where("created_at < ?", q.End)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, translateDBError(err)
	}

	var rows []*model.CreditTransaction
	err := db.Order("created_at DESC, credit_transaction_id DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, translateDBError(err)
	}

	list := make([]*biz.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		list = append(list, transactionToBiz(row))
	}
	return list, total, nil
}

// ListUserTransactionsAsc 对账重放用，按 (created_at, id) 升序返回全部流水
func (r *ledgerRepo) ListUserTransactionsAsc(ctx context.Context, userID string) ([]*biz.CreditTransaction, error) {
	var rows []*model.CreditTransaction
	err := r.data.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, credit_transaction_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	list := make([]*biz.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		list = append(list, transactionToBiz(row))
	}
	return list, nil
}

// ListUserIDs 返回所有持有聚合行的用户
func (r *ledgerRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.data.db.WithContext(ctx).Model(&model.UserCredits{}).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	return ids, nil
}

// refreshCreditsCache 写入账户聚合缓存
func (r *ledgerRepo) refreshCreditsCache(credits *biz.UserCredits) {
	data, err := json.Marshal(credits)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.data.rdb.Set(ctx, constants.RedisKeyCredits+credits.UserID, data, creditsCacheTTL).Err(); err != nil {
		r.log.Warnf("failed to refresh credits cache: user=%s err=%v", credits.UserID, err)
	}
}

// refreshCreditsCacheAsync 资金操作提交后回源数据库重建缓存
func (r *ledgerRepo) refreshCreditsCacheAsync(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var m model.UserCredits
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		// 回源失败直接删缓存，让下次读触发重建
		r.data.rdb.Del(ctx, constants.RedisKeyCredits+userID)
		return
	}
	r.refreshCreditsCache(creditsToBiz(&m))
}

// ledgerView 原子单元内基于同一事务句柄的只读流水视图
type ledgerView struct {
	tx     *gorm.DB
	userID string
}

// FindByReference 返回该用户指定类型下同一引用号最近的一笔交易
func (v *ledgerView) FindByReference(typ biz.TransactionType, referenceID string) (*biz.CreditTransaction, error) {
	var m model.CreditTransaction
	err := v.tx.
		Where("user_id = ? AND type = ? AND reference_id = ?", v.userID, string(typ), referenceID).
		Order("created_at DESC, credit_transaction_id DESC").
		First(&m).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateDBError(err)
	}
	return transactionToBiz(&m), nil
}

// SumAmountByReference 汇总该用户指定类型下同一引用号的金额
func (v *ledgerView) SumAmountByReference(typ biz.TransactionType, referenceID string) (int64, error) {
	var sum int64
	err := v.tx.Model(&model.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND type = ? AND reference_id = ?", v.userID, string(typ), referenceID).
		Scan(&sum).Error
	if err != nil {
		return 0, translateDBError(err)
	}
	return sum, nil
}

// creditsToBiz 聚合模型转领域对象
func creditsToBiz(m *model.UserCredits) *biz.UserCredits {
	return &biz.UserCredits{
		UserID:        m.UserID,
		Balance:       m.Balance,
		FrozenBalance: m.FrozenBalance,
		TotalEarned:   m.TotalEarned,
		TotalSpent:    m.TotalSpent,
		UpdatedAt:     m.UpdatedAt,
	}
}

// transactionToBiz 流水模型转领域对象
func transactionToBiz(m *model.CreditTransaction) *biz.CreditTransaction {
	t := &biz.CreditTransaction{
		ID:           m.CreditTransactionID,
		UserID:       m.UserID,
		Type:         biz.TransactionType(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		Source:       biz.Source(m.Source),
		Description:  m.Description,
		ReferenceID:  m.ReferenceID,
		CreatedAt:    m.CreatedAt,
	}
	if m.Metadata != "" {
		meta := map[string]interface{}{}
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err == nil {
			t.Metadata = meta
		}
	}
	return t
}

// transactionToModel 流水领域对象转模型
func transactionToModel(t *biz.CreditTransaction) (*model.CreditTransaction, error) {
	m := &model.CreditTransaction{
		CreditTransactionID: t.ID,
		UserID:              t.UserID,
		Type:                string(t.Type),
		Amount:              t.Amount,
		BalanceAfter:        t.BalanceAfter,
		Source:              string(t.Source),
		Description:         t.Description,
		ReferenceID:         t.ReferenceID,
		CreatedAt:           t.CreatedAt,
	}
	if len(t.Metadata) > 0 {
		data, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, ledgerErrors.ErrorStorageFailure("failed to marshal transaction metadata: %v", err)
		}
		m.Metadata = string(data)
	}
	return m, nil
}
