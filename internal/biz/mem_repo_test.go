package biz

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	ledgerErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// memLedgerRepo 账本数据层的内存实现，语义与 MySQL 实现一致：
// Apply 以互斥锁为原子单元边界，fn 返回错误时聚合不落任何变更。
type memLedgerRepo struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*UserCredits
	txs      map[string][]*CreditTransaction
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{
		accounts: make(map[string]*UserCredits),
		txs:      make(map[string][]*CreditTransaction),
	}
}

func (r *memLedgerRepo) CreateUserCredits(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[userID]; !ok {
		r.accounts[userID] = &UserCredits{UserID: userID}
	}
	return nil
}

func (r *memLedgerRepo) GetUserCredits(ctx context.Context, userID string) (*UserCredits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memLedgerRepo) Apply(ctx context.Context, userID string, fn ApplyFunc) (*CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.accounts[userID]
	if !ok {
		return nil, ledgerErrors.ErrorUserNotFound("user %s has no credit account", userID)
	}
	working := *c
	rec, err := fn(&memLedgerView{txs: r.txs[userID]}, &working)
	if err != nil {
		return nil, err
	}
	r.seq++
	rec.ID = fmt.Sprintf("tx-%06d", r.seq)
	rec.CreatedAt = time.Now()
	*c = working
	r.txs[userID] = append(r.txs[userID], rec)
	return rec, nil
}

func (r *memLedgerRepo) ListTransactions(ctx context.Context, q *TransactionQuery) ([]*CreditTransaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*CreditTransaction
	for _, rec := range r.txs[q.UserID] {
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		if q.Source != "" && rec.Source != q.Source {
			continue
		}
		if !q.Begin.IsZero() && rec.CreatedAt.Before(q.Begin) {
			continue
		}
		if !q.End.IsZero() && !rec.CreatedAt.Before(q.End) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := int64(len(matched))
	offset := (q.Page - 1) * q.PageSize
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *memLedgerRepo) ListUserTransactionsAsc(ctx context.Context, userID string) ([]*CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CreditTransaction, len(r.txs[userID]))
	copy(out, r.txs[userID])
	return out, nil
}

func (r *memLedgerRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memLedgerView struct {
	txs []*CreditTransaction
}

func (v *memLedgerView) FindByReference(typ TransactionType, referenceID string) (*CreditTransaction, error) {
	for i := len(v.txs) - 1; i >= 0; i-- {
		if v.txs[i].Type == typ && v.txs[i].ReferenceID == referenceID {
			return v.txs[i], nil
		}
	}
	return nil, nil
}

func (v *memLedgerView) SumAmountByReference(typ TransactionType, referenceID string) (int64, error) {
	var sum int64
	for _, rec := range v.txs {
		if rec.Type == typ && rec.ReferenceID == referenceID {
			sum += rec.Amount
		}
	}
	return sum, nil
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func testLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		QuotaLimits: map[string]int64{"api_call": 5},
		Granularity: GranularityMonth,
		MaxPageSize: 100,
	}
}

func newTestLedger() (*LedgerUseCase, *memLedgerRepo) {
	repo := newMemLedgerRepo()
	return NewLedgerUseCase(repo, testLedgerConfig(), testLogger()), repo
}
