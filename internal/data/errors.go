package data

import (
	stderrors "errors"

	ledgerErrors "credit-service/internal/errors"

	kratosErrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQL 错误码
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// translateDBError 把存储层错误映射到领域错误分类
// 锁等待超时和死锁是可重试的瞬时竞争，其余一律视为存储故障。
// 已是领域错误的原样透传，避免二次包装改变错误分类。
func translateDBError(err error) error {
	if err == nil {
		return nil
	}
	var ke *kratosErrors.Error
	if stderrors.As(err, &ke) {
		return err
	}
	var me *mysql.MySQLError
	if stderrors.As(err, &me) {
		switch me.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return ledgerErrors.ErrorTransientContention("row lock contention: %v", err)
		}
	}
	return ledgerErrors.ErrorStorageFailure("storage error: %v", err)
}

// isDuplicateEntry 唯一键冲突（并发创建竞争）
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return stderrors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}
