package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ledgerErrors "credit-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memChargeRepo 组合扣费数据层的内存实现：
// 配额与余额的变更在同一把锁内落定，任何一条腿不满足时整体不变。
type memChargeRepo struct {
	mu      sync.Mutex
	seq     int
	credits map[string]*UserCredits
	usage   map[string]int64
	txs     map[string][]*CreditTransaction
}

func newMemChargeRepo() *memChargeRepo {
	return &memChargeRepo{
		credits: make(map[string]*UserCredits),
		usage:   make(map[string]int64),
		txs:     make(map[string][]*CreditTransaction),
	}
}

func (r *memChargeRepo) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := quotaKey(req.UserID, req.Service, req.Period)

	// 消息重投：同引用号的消费流水已存在则按幂等命中返回
	if req.Cost > 0 && req.ReferenceID != "" {
		for i := len(r.txs[req.UserID]) - 1; i >= 0; i-- {
			prior := r.txs[req.UserID][i]
			if prior.Type == TypeSpend && prior.ReferenceID == req.ReferenceID {
				return &ChargeResult{Allowed: true, UsedAmount: r.usage[k], Transaction: prior}, nil
			}
		}
	}

	var working *UserCredits
	if c, ok := r.credits[req.UserID]; ok {
		cp := *c
		working = &cp
	}
	res, err := ApplyCharge(req, working, r.usage[k])
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		return res, nil
	}

	r.usage[k] = res.UsedAmount
	if working != nil {
		*r.credits[req.UserID] = *working
	}
	if res.Transaction != nil {
		r.seq++
		res.Transaction.ID = fmt.Sprintf("tx-%06d", r.seq)
		res.Transaction.CreatedAt = time.Now()
		r.txs[req.UserID] = append(r.txs[req.UserID], res.Transaction)
	}
	return res, nil
}

func (r *memChargeRepo) addAccount(userID string, balance int64) {
	r.credits[userID] = &UserCredits{UserID: userID, Balance: balance, TotalEarned: balance}
}

func (r *memChargeRepo) balance(userID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credits[userID].Balance
}

func newTestCharge() (*ChargeUseCase, *memChargeRepo) {
	repo := newMemChargeRepo()
	return NewChargeUseCase(repo, testLedgerConfig(), testLogger()), repo
}

func TestChargeSuccess(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 100)
	at := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)

	res, err := uc.Charge(context.Background(), "u1", QuotaAPICall, at, 1, 30, "api call", "evt-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.UsedAmount)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, TypeSpend, res.Transaction.Type)
	assert.Equal(t, SourceAPICall, res.Transaction.Source)
	assert.Equal(t, "evt-1", res.Transaction.ReferenceID)
	assert.Equal(t, int64(70), repo.balance("u1"))
}

func TestChargeQuotaDeniedNoSideEffects(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 1000)
	at := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// 配置的 api_call 上限是 5
	for i := 0; i < 5; i++ {
		res, err := uc.Charge(ctx, "u1", QuotaAPICall, at, 1, 10, "", fmt.Sprintf("evt-%d", i))
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := uc.Charge(ctx, "u1", QuotaAPICall, at, 1, 10, "", "evt-over")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ChargeDeniedQuota, res.Reason)
	assert.Nil(t, res.Transaction)
	// 拒绝时两条腿都不动
	assert.Equal(t, int64(5), res.UsedAmount)
	assert.Equal(t, int64(950), repo.balance("u1"))
}

func TestChargeBalanceDeniedNoSideEffects(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 20)
	at := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)

	res, err := uc.Charge(context.Background(), "u1", QuotaStorage, at, 1, 30, "", "evt-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ChargeDeniedBalance, res.Reason)
	assert.Equal(t, int64(0), res.UsedAmount)
	assert.Equal(t, int64(20), repo.balance("u1"))
}

func TestChargeMeterOnly(t *testing.T) {
	uc, _ := newTestCharge()
	at := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)

	// cost=0 只计量不扣费，没有积分账户也放行
	res, err := uc.Charge(context.Background(), "nobody", QuotaStorage, at, 5, 0, "", "evt-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(5), res.UsedAmount)
	assert.Nil(t, res.Transaction)
}

func TestChargeUnknownUserWithCost(t *testing.T) {
	uc, _ := newTestCharge()
	_, err := uc.Charge(context.Background(), "ghost", QuotaStorage, time.Now(), 1, 10, "", "evt-1")
	assert.True(t, ledgerErrors.IsUserNotFound(err))
}

func TestChargeRejectsInvalidInput(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 100)

	_, err := uc.Charge(context.Background(), "u1", QuotaAPICall, time.Now(), 0, 10, "", "evt-1")
	assert.True(t, ledgerErrors.IsInvalidAmount(err))

	_, err = uc.Charge(context.Background(), "u1", QuotaAPICall, time.Now(), 1, -10, "", "evt-1")
	assert.True(t, ledgerErrors.IsInvalidAmount(err))
}

func TestChargeReplayOnSameEvent(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 100)
	at := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first, err := uc.Charge(ctx, "u1", QuotaAPICall, at, 1, 30, "", "evt-1")
	require.NoError(t, err)
	second, err := uc.Charge(ctx, "u1", QuotaAPICall, at, 1, 30, "", "evt-1")
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(70), repo.balance("u1"))
}

func TestHandleMeterEventDeniedIsNotAnError(t *testing.T) {
	uc, repo := newTestCharge()
	repo.addAccount("u1", 5)

	// 余额不够付费事件：拒绝只记录，不算消费失败
	err := uc.HandleMeterEvent(context.Background(), &MeterEvent{
		EventID:    "evt-1",
		UserID:     "u1",
		Service:    string(QuotaAPICall),
		Amount:     1,
		Cost:       10,
		OccurredAt: time.Now(),
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(5), repo.balance("u1"))
}
