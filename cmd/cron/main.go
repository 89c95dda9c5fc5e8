package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

// reconcileLockExpiry 对账锁过期时间，需覆盖一次全量扫描
const reconcileLockExpiry = 10 * time.Minute

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs", "config path, eg: -conf config.yaml")
}

// CronApp Cron 应用结构
type CronApp struct {
	reconcile *biz.ReconcileUseCase
	rs        *redsync.Redsync
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	logger := newLogger()
	logHelper := log.NewHelper(logger)

	metrics.InitMetrics()

	app, cleanup, err := wireApp(&bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 秒级调度器
	cronScheduler := cron.New(cron.WithSeconds())

	// 账本对账 - 每天 03:00 执行
	// 分布式锁保证多实例部署时只有一个实例扫描
	_, err = cronScheduler.AddFunc("0 0 3 * * *", func() {
		mutex := app.rs.NewMutex(constants.RedisKeyReconcileLock, redsync.WithExpiry(reconcileLockExpiry))
		if err := mutex.Lock(); err != nil {
			logHelper.Infof("[CRON] Reconcile skipped, another instance holds the lock: %v", err)
			return
		}
		defer func() {
			if _, err := mutex.Unlock(); err != nil {
				logHelper.Warnf("[CRON] Failed to release reconcile lock: %v", err)
			}
		}()

		logHelper.Info("[CRON] Starting ledger reconciliation...")
		ctx, cancel := context.WithTimeout(context.Background(), reconcileLockExpiry)
		defer cancel()

		report, err := app.reconcile.ReconcileAll(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Ledger reconciliation failed: %v", err)
			return
		}
		logHelper.Infof("[CRON] Ledger reconciliation done: checked=%d mismatches=%d", report.UsersChecked, len(report.Mismatches))
	})
	if err != nil {
		logHelper.Errorf("Failed to add reconcile job: %v", err)
	}

	cronScheduler.Start()
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("  - Ledger reconciliation: every day at 03:00")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}

// newLogger 创建 logger
func newLogger() log.Logger {
	return log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "credit-cron",
	)
}
