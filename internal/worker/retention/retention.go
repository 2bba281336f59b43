// Package retention は教員パーティションの保持上限を定期的に適用するジョブを提供する。
// 記録時のトリムは各バックエンドが行うが、上限を下げた場合や
// 複数プロセスからの書き込みで上限を超えた行をSQLバックエンドで削除する。
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/hallpass/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// trimQuery は教員ごとに新しい順でLimit件を超える行を削除する。
// PostgreSQLとSQLite（3.25以降）の両方で動作する。
const trimQuery = `DELETE FROM hall_passes WHERE seq IN (
	SELECT seq FROM (
		SELECT seq, ROW_NUMBER() OVER (PARTITION BY teacher_email ORDER BY seq DESC) AS rn
		FROM hall_passes
	) ranked WHERE rn > %d
)`

// Job は保持上限を超えた記録の削除ジョブ。冪等。
type Job struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	Limit   int // 教員ごとの保持件数
}

// NewJob は新しいJobを生成する。limitが0以下の場合は1000件。
func NewJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector, limit int) *Job {
	if limit <= 0 {
		limit = 1000
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		db:      db,
		logger:  logger,
		metrics: collector,
		Limit:   limit,
	}
}

// Run は保持上限を超えた記録を削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, fmt.Sprintf(trimQuery, j.Limit))
	if err != nil {
		j.logger.Error("保持上限の適用に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("limit", j.Limit),
		)
		return 0, fmt.Errorf("保持上限の適用に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.metrics.RecordRetentionTrimmed(int(deletedCount))
	j.logger.Info("保持上限の適用が完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("limit", j.Limit),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deletedCount, nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("保持上限ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("limit", j.Limit),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保持上限ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("retention job failed", slog.String("error", err.Error()))
	}
}
