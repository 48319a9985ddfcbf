// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションストアの読み出しは期限切れを返さないため、このジョブは行の回収だけを担う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = 15 * time.Minute

// ExpiredSessionPurger は期限切れセッションを削除する。
// repository.SessionStore の実装（PostgreSQL・メモリ）はどちらもこれを満たす。
type ExpiredSessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanedRecorder は削除件数を記録する。
type CleanedRecorder interface {
	RecordSessionsCleaned(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等で、何度実行してもよい。
type CleanupJob struct {
	store    ExpiredSessionPurger
	recorder CleanedRecorder
	logger   *slog.Logger
	nowF     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(store ExpiredSessionPurger, recorder CleanedRecorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:    store,
		recorder: recorder,
		logger:   logger,
		nowF:     time.Now,
	}
}

// Run は現在時刻で期限切れのセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.DeleteExpired(ctx, j.nowF())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsCleaned(deletedCount)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後interval間隔でRunを繰り返す。
// ctxがキャンセルされるまでブロックする。intervalが0以下ならDefaultIntervalを使う。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// runOnce はRunのエラーを記録済みとして握りつぶす。次の周期で再試行される。
func (j *CleanupJob) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = j.Run(ctx)
}
