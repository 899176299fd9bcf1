package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は定期的な全ストア同期と競合スクレイプを駆動する。
// ティッカーで同期サイクルを起動し、コンテキストのキャンセルで停止する。
type Scheduler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(orchestrator *Orchestrator, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce は同期サイクルを1回実行する。
// プラットフォーム同期の後に、全商品のスクレイプ対象リンクを処理する。
func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.orchestrator.SyncAll(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.orchestrator.ScrapeProduct(ctx, ""); err != nil {
		s.logger.Error("スクレイプサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
