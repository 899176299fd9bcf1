package syncer

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/reconcile"
)

// countingStoreRepo はListSyncableの呼び出し回数を数えるモック。
type countingStoreRepo struct {
	mockStoreRepo
	listCalls atomic.Int32
}

func (c *countingStoreRepo) ListSyncable(ctx context.Context) ([]*model.Store, error) {
	c.listCalls.Add(1)
	return c.mockStoreRepo.ListSyncable(ctx)
}

// countingLinkRepo はListByProductIDの呼び出しを記録するモック。
type countingLinkRepo struct {
	mockLinkRepo
	scrapeCalls   atomic.Int32
	sawNonEmptyID atomic.Bool
}

func (c *countingLinkRepo) ListByProductID(ctx context.Context, productID string) ([]*model.CompetitorLink, error) {
	c.scrapeCalls.Add(1)
	if productID != "" {
		c.sawNonEmptyID.Store(true)
	}
	return c.mockLinkRepo.ListByProductID(ctx, productID)
}

func newSchedulerUnderTest(stores *countingStoreRepo, links *countingLinkRepo) *Scheduler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	writer := reconcile.NewWriter(stores, &mockObservationRepo{}, passthroughSanitizer{}, logger)
	orchestrator := NewOrchestrator(stores, links, writer, connector.NewRegistry(),
		&mockTokens{}, &mockExtractor{}, logger, nil, Config{RetryBaseDelay: time.Millisecond})
	return NewScheduler(orchestrator, logger)
}

func TestScheduler_Start_RunsImmediatelyAndOnTicks(t *testing.T) {
	stores := &countingStoreRepo{}
	scheduler := newSchedulerUnderTest(stores, &countingLinkRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	// 起動直後の1回 + ティッカーによる少なくとも1回を待つ
	deadline := time.After(2 * time.Second)
	for stores.listCalls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("同期サイクルが%d回しか実行されなかった", stores.listCalls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にスケジューラが停止しなかった")
	}
}

func TestScheduler_Start_RunsScrapePass(t *testing.T) {
	stores := &countingStoreRepo{}
	links := &countingLinkRepo{}
	scheduler := newSchedulerUnderTest(stores, links)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後のサイクルでスクレイプ対象リンクの列挙まで到達すること
	deadline := time.After(2 * time.Second)
	for links.scrapeCalls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("スクレイプパスが実行されなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// 全商品対象（空のproduct ID）で呼ばれること
	if links.sawNonEmptyID.Load() {
		t.Error("定期スクレイプは全商品を対象にすべき")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にスケジューラが停止しなかった")
	}
}

func TestScheduler_Start_StopsOnContextCancel(t *testing.T) {
	stores := &countingStoreRepo{}
	scheduler := newSchedulerUnderTest(stores, &countingLinkRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル済みコンテキストでスケジューラが停止しなかった")
	}
}
