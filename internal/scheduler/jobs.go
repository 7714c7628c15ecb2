package scheduler

import (
	"context"
	"time"
)

// TradeRunner is the trading service surface the daily job needs
type TradeRunner interface {
	RunDailyCycle(ctx context.Context) error
}

// DailyTradeJob runs one trading cycle per market day
type DailyTradeJob struct {
	runner  TradeRunner
	timeout time.Duration
}

// NewDailyTradeJob creates the daily trade job. The timeout bounds the whole
// cycle including the sell settlement wait.
func NewDailyTradeJob(runner TradeRunner, timeout time.Duration) *DailyTradeJob {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &DailyTradeJob{runner: runner, timeout: timeout}
}

// Name returns the job name
func (j *DailyTradeJob) Name() string { return "daily_trade" }

// Run executes one trading cycle
func (j *DailyTradeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.runner.RunDailyCycle(ctx)
}

// Backupper is the reliability surface the backup job needs
type Backupper interface {
	Backup(ctx context.Context) error
}

// BackupJob uploads the trade ledger to remote storage
type BackupJob struct {
	backupper Backupper
	timeout   time.Duration
}

// NewBackupJob creates the nightly backup job
func NewBackupJob(backupper Backupper, timeout time.Duration) *BackupJob {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &BackupJob{backupper: backupper, timeout: timeout}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "ledger_backup" }

// Run executes one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backupper.Backup(ctx)
}
