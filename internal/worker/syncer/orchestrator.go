// Package syncer は価格取り込みのオーケストレーションを提供する。
// 接続済みストアのAPI同期と競合リンクのスクレイプを、有界の並列度と
// 対象単位の失敗隔離のもとで実行し、実行サマリを返す。
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/extractor"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/reconcile"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// PriceExtractor は競合ページからの価格抽出インターフェース。
type PriceExtractor interface {
	Extract(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error)
}

// CredentialProvider は同期前の資格情報確保インターフェース。
// ストアが再認可待ちの場合はmodel.ErrNeedsReauthを返す。
type CredentialProvider interface {
	EnsureFresh(ctx context.Context, store *model.Store) (*connector.Credential, error)
}

// MetricsRecorder は同期実行のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordSyncOutcome(kind string)
	RecordObservations(count int)
	RecordExtractFailure(reason string)
	RecordSyncLatency(duration time.Duration)
}

// noopMetrics はメトリクス未設定時のダミー実装。
type noopMetrics struct{}

func (noopMetrics) RecordSyncOutcome(kind string)            {}
func (noopMetrics) RecordObservations(count int)             {}
func (noopMetrics) RecordExtractFailure(reason string)       {}
func (noopMetrics) RecordSyncLatency(duration time.Duration) {}

// Config はオーケストレータの動作設定。
type Config struct {
	MaxConcurrent    int
	RetryMax         int
	RetryBaseDelay   time.Duration
	PageSize         int
	FallbackCurrency string
}

// Orchestrator は同期実行の中心。ストア同期とスクレイプの両方を
// 同じ実行形（有界並列 + 対象単位の隔離 + リトライ方針）で処理する。
type Orchestrator struct {
	stores    repository.StoreRepository
	links     repository.LinkRepository
	writer    *reconcile.Writer
	registry  *connector.Registry
	tokens    CredentialProvider
	extractor PriceExtractor
	logger    *slog.Logger
	metrics   MetricsRecorder
	config    Config

	events chan *model.SyncRun
}

// NewOrchestrator はOrchestratorを生成する。
// 並列度・リトライ回数が0以下の場合はデフォルト値を使用する。
// metricsはnilでもよい。
func NewOrchestrator(
	stores repository.StoreRepository,
	links repository.LinkRepository,
	writer *reconcile.Writer,
	registry *connector.Registry,
	tokens CredentialProvider,
	priceExtractor PriceExtractor,
	logger *slog.Logger,
	metrics MetricsRecorder,
	config Config,
) *Orchestrator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.RetryMax <= 0 {
		config.RetryMax = 3
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 500 * time.Millisecond
	}
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.FallbackCurrency == "" {
		config.FallbackCurrency = "USD"
	}
	return &Orchestrator{
		stores:    stores,
		links:     links,
		writer:    writer,
		registry:  registry,
		tokens:    tokens,
		extractor: priceExtractor,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		events:    make(chan *model.SyncRun, 8),
	}
}

// Events は実行サマリの購読チャネルを返す。
// 購読者がいない場合、サマリの発行は破棄される（実行は待たない）。
func (o *Orchestrator) Events() <-chan *model.SyncRun {
	return o.events
}

// SyncAll は同期対象の全ストアを有界並列で同期する。
// 1ストアの失敗は他のストアに波及せず、全件失敗でもサマリは返る。
func (o *Orchestrator) SyncAll(ctx context.Context) (*model.SyncRun, error) {
	stores, err := o.stores.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("同期対象ストアの取得に失敗しました: %w", err)
	}

	run := o.runPool(ctx, len(stores), func(i int) model.Outcome {
		return o.SyncOne(ctx, stores[i])
	})

	o.logger.Info("ストア同期が完了しました",
		slog.Int("total", run.Total()),
		slog.Int("succeeded", run.Succeeded),
		slog.Int("skipped", run.Skipped),
		slog.Int("failed", run.Failed),
	)
	o.publish(run)
	return run, nil
}

// SyncOne は1ストアを同期し、処理結果を返す。
// 再認可待ちのストアはネットワーク呼び出しなしでスキップされる。
func (o *Orchestrator) SyncOne(ctx context.Context, store *model.Store) model.Outcome {
	if !store.Syncable() {
		return model.Outcome{
			TargetID: store.ID,
			Kind:     model.OutcomeSkipped,
			Reason:   string(store.Status),
		}
	}

	// 資格情報の確保は保護されたフェッチより先に完了する
	cred, err := o.tokens.EnsureFresh(ctx, store)
	if err != nil {
		if err == model.ErrNeedsReauth {
			return model.Outcome{
				TargetID: store.ID,
				Kind:     model.OutcomeSkipped,
				Reason:   "needs_reauth",
			}
		}
		return failedOutcome(store.ID, err)
	}

	links, err := o.links.ListByStoreID(ctx, store.ID)
	if err != nil {
		return failedOutcome(store.ID, err)
	}
	if len(links) == 0 {
		return model.Outcome{
			TargetID: store.ID,
			Kind:     model.OutcomeSkipped,
			Reason:   "no_competitor_links",
		}
	}

	conn, err := o.registry.Get(store.Platform)
	if err != nil {
		return failedOutcome(store.ID, err)
	}

	// プラットフォーム商品ID → リンクの対応表
	linksByProduct := make(map[string][]*model.CompetitorLink, len(links))
	for _, link := range links {
		if link.PlatformProductID == "" {
			continue
		}
		linksByProduct[link.PlatformProductID] = append(linksByProduct[link.PlatformProductID], link)
	}

	observations := 0
	firstObservationID := ""
	for page := 0; ; {
		var productPage *connector.ProductPage
		err := retryTransient(ctx, o.config.RetryMax, o.config.RetryBaseDelay, func() error {
			var fetchErr error
			productPage, fetchErr = conn.FetchProducts(ctx, cred, page, o.config.PageSize)
			return fetchErr
		})
		if err != nil {
			return failedOutcome(store.ID, err)
		}

		for _, product := range productPage.Products {
			matched := linksByProduct[product.PlatformProductID]
			for _, link := range matched {
				currency := product.Currency
				if currency == "" {
					currency = o.config.FallbackCurrency
				}
				obs, err := o.writer.RecordObservation(ctx, link.ID, product.Price, currency, time.Now())
				if err != nil {
					o.logger.Error("観測値の記録に失敗しました",
						slog.String("store_id", store.ID),
						slog.String("link_id", link.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				if firstObservationID == "" {
					firstObservationID = obs.ID
				}
				observations++
			}
		}

		if !productPage.HasMore {
			break
		}
		page = productPage.NextPage
	}

	if observations == 0 {
		return model.Outcome{
			TargetID: store.ID,
			Kind:     model.OutcomeSkipped,
			Reason:   "no_products_matched",
		}
	}
	return model.Outcome{
		TargetID:      store.ID,
		Kind:          model.OutcomeSucceeded,
		ObservationID: firstObservationID,
		Observations:  observations,
	}
}

// ScrapeProduct は指定商品の競合リンクを有界並列でスクレイプする。
// productIDが空の場合は全商品のスクレイプ対象リンクを処理する。
func (o *Orchestrator) ScrapeProduct(ctx context.Context, productID string) (*model.SyncRun, error) {
	all, err := o.links.ListByProductID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("競合リンクの取得に失敗しました: %w", err)
	}

	// プラットフォーム参照のリンクはストア同期で扱うため対象外
	var links []*model.CompetitorLink
	for _, link := range all {
		if link.Scrapeable() {
			links = append(links, link)
		}
	}

	run := o.runPool(ctx, len(links), func(i int) model.Outcome {
		return o.scrapeLink(ctx, links[i])
	})

	o.logger.Info("競合スクレイプが完了しました",
		slog.String("product_id", productID),
		slog.Int("total", run.Total()),
		slog.Int("succeeded", run.Succeeded),
		slog.Int("failed", run.Failed),
	)
	o.publish(run)
	return run, nil
}

// scrapeLink は競合リンク1件をスクレイプし、観測値を記録する。
func (o *Orchestrator) scrapeLink(ctx context.Context, link *model.CompetitorLink) model.Outcome {
	var extracted *extractor.ExtractedPrice
	err := retryTransient(ctx, o.config.RetryMax, o.config.RetryBaseDelay, func() error {
		var extractErr error
		extracted, extractErr = o.extractor.Extract(ctx, link.TargetURL, link.Selector)
		return extractErr
	})
	if err != nil {
		var parseErr *model.ParseError
		if errors.As(err, &parseErr) {
			o.metrics.RecordExtractFailure(parseErr.Reason)
		}
		return failedOutcome(link.ID, err)
	}

	currency := extracted.Currency
	if currency == "" {
		currency = o.config.FallbackCurrency
	}
	obs, err := o.writer.RecordObservation(ctx, link.ID, extracted.Price, currency, time.Now())
	if err != nil {
		return failedOutcome(link.ID, err)
	}
	return model.Outcome{
		TargetID:      link.ID,
		Kind:          model.OutcomeSucceeded,
		ObservationID: obs.ID,
		Observations:  1,
	}
}

// runPool はsemaphoreパターンで並列数を制御しながらn件のジョブを実行する。
// 各ジョブのパニックは捕捉され、その対象のfailed結果として記録される。
// キャンセル時は実行中のジョブを完了させ、新しいジョブは開始しない。
func (o *Orchestrator) runPool(ctx context.Context, n int, job func(i int) model.Outcome) *model.SyncRun {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	sem := make(chan struct{}, o.config.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		// キャンセル後は新しいジョブを開始せず、部分サマリを返す
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			outcome := o.runJob(i, job)
			o.metrics.RecordSyncOutcome(string(outcome.Kind))
			if outcome.Observations > 0 {
				o.metrics.RecordObservations(outcome.Observations)
			}
			mu.Lock()
			run.Add(outcome)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	run.FinishedAt = time.Now()
	o.metrics.RecordSyncLatency(run.FinishedAt.Sub(run.StartedAt))
	return run
}

// runJob はジョブを1件実行し、パニックをfailed結果に変換する。
func (o *Orchestrator) runJob(i int, job func(i int) model.Outcome) (outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("同期ジョブがパニックしました",
				slog.Int("index", i),
				slog.Any("panic", r),
			)
			outcome = model.Outcome{
				Kind:      model.OutcomeFailed,
				ErrorKind: model.ErrorKindUnknown,
				Message:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return job(i)
}

// publish は実行サマリをイベントチャネルへ発行する。
// 購読が追いつかない場合は破棄し、実行をブロックしない。
func (o *Orchestrator) publish(run *model.SyncRun) {
	select {
	case o.events <- run:
	default:
	}
}

// failedOutcome はエラーをfailed結果に変換する。
func failedOutcome(targetID string, err error) model.Outcome {
	return model.Outcome{
		TargetID:  targetID,
		Kind:      model.OutcomeFailed,
		ErrorKind: model.ClassifyError(err),
		Message:   err.Error(),
	}
}
