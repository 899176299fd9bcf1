package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/extractor"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/reconcile"
)

// mockStoreRepo はStoreRepositoryのモック。
type mockStoreRepo struct {
	syncable []*model.Store
}

func (m *mockStoreRepo) FindByID(ctx context.Context, id string) (*model.Store, error) {
	for _, s := range m.syncable {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockStoreRepo) ListSyncable(ctx context.Context) ([]*model.Store, error) {
	return m.syncable, nil
}

func (m *mockStoreRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Store, error) {
	return nil, nil
}

func (m *mockStoreRepo) Upsert(ctx context.Context, store *model.Store) (*model.Store, error) {
	return store, nil
}

func (m *mockStoreRepo) UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (m *mockStoreRepo) UpdateStatus(ctx context.Context, id string, status model.StoreStatus) error {
	return nil
}

// mockLinkRepo はLinkRepositoryのモック。
type mockLinkRepo struct {
	byStore   map[string][]*model.CompetitorLink
	byProduct []*model.CompetitorLink
}

func (m *mockLinkRepo) FindByID(ctx context.Context, id string) (*model.CompetitorLink, error) {
	return nil, nil
}

func (m *mockLinkRepo) ListByProductID(ctx context.Context, productID string) ([]*model.CompetitorLink, error) {
	return m.byProduct, nil
}

func (m *mockLinkRepo) ListByStoreID(ctx context.Context, storeID string) ([]*model.CompetitorLink, error) {
	return m.byStore[storeID], nil
}

func (m *mockLinkRepo) Create(ctx context.Context, link *model.CompetitorLink) error {
	return nil
}

func (m *mockLinkRepo) UpdateLabel(ctx context.Context, id, label string) error {
	return nil
}

func (m *mockLinkRepo) Delete(ctx context.Context, id string) error {
	return nil
}

// mockObservationRepo はObservationRepositoryのモック。並行挿入に耐える。
type mockObservationRepo struct {
	mu       sync.Mutex
	inserted []*model.PriceObservation
}

func (m *mockObservationRepo) Insert(ctx context.Context, obs *model.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, obs)
	return nil
}

func (m *mockObservationRepo) ListByLinkID(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error) {
	return nil, nil
}

func (m *mockObservationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

// mockConnector はConnectorのモック。
type mockConnector struct {
	platform          model.Platform
	fetchProductsFunc func(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error)
}

func (m *mockConnector) Platform() model.Platform {
	return m.platform
}

func (m *mockConnector) Authenticate(ctx context.Context, input connector.AuthInput) (*connector.Credential, error) {
	return nil, errors.New("not implemented")
}

func (m *mockConnector) Refresh(ctx context.Context, cred *connector.Credential) (*connector.Credential, error) {
	return cred, nil
}

func (m *mockConnector) FetchAccountInfo(ctx context.Context, cred *connector.Credential) (*connector.AccountInfo, error) {
	return nil, errors.New("not implemented")
}

func (m *mockConnector) FetchProducts(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error) {
	return m.fetchProductsFunc(ctx, cred, page, pageSize)
}

// mockTokens はCredentialProviderのモック。
type mockTokens struct {
	ensureFreshFunc func(ctx context.Context, store *model.Store) (*connector.Credential, error)
	calls           atomic.Int32
}

func (m *mockTokens) EnsureFresh(ctx context.Context, store *model.Store) (*connector.Credential, error) {
	m.calls.Add(1)
	if m.ensureFreshFunc != nil {
		return m.ensureFreshFunc(ctx, store)
	}
	return &connector.Credential{AccessToken: store.AccessToken, ShopDomain: store.ShopDomain}, nil
}

// mockExtractor はPriceExtractorのモック。
type mockExtractor struct {
	extractFunc func(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error)
}

func (m *mockExtractor) Extract(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error) {
	return m.extractFunc(ctx, pageURL, selector)
}

// passthroughSanitizer はテスト用の素通しサニタイザ。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(input string) string { return input }

type orchestratorDeps struct {
	stores       *mockStoreRepo
	links        *mockLinkRepo
	observations *mockObservationRepo
	connector    *mockConnector
	tokens       *mockTokens
	extractor    *mockExtractor
	config       Config
}

func newTestOrchestrator(deps orchestratorDeps) *Orchestrator {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if deps.stores == nil {
		deps.stores = &mockStoreRepo{}
	}
	if deps.links == nil {
		deps.links = &mockLinkRepo{}
	}
	if deps.observations == nil {
		deps.observations = &mockObservationRepo{}
	}
	if deps.tokens == nil {
		deps.tokens = &mockTokens{}
	}
	if deps.extractor == nil {
		deps.extractor = &mockExtractor{}
	}
	if deps.config.RetryBaseDelay == 0 {
		deps.config.RetryBaseDelay = time.Millisecond
	}

	writer := reconcile.NewWriter(deps.stores, deps.observations, passthroughSanitizer{}, logger)
	var registry *connector.Registry
	if deps.connector != nil {
		registry = connector.NewRegistry(deps.connector)
	} else {
		registry = connector.NewRegistry()
	}
	return NewOrchestrator(deps.stores, deps.links, writer, registry,
		deps.tokens, deps.extractor, logger, nil, deps.config)
}

func connectedStore(id string) *model.Store {
	return &model.Store{
		ID:          id,
		UserID:      "user-1",
		Platform:    model.PlatformShopify,
		ShopDomain:  "demo.myshopify.com",
		AccessToken: "tok",
		Status:      model.StoreStatusConnected,
	}
}

func platformLink(id, storeID, productID string) *model.CompetitorLink {
	return &model.CompetitorLink{
		ID:                id,
		ProductID:         "own-product",
		StoreID:           storeID,
		PlatformProductID: productID,
	}
}

func TestOrchestrator_SyncOne_RecordsObservations(t *testing.T) {
	observations := &mockObservationRepo{}
	deps := orchestratorDeps{
		stores:       &mockStoreRepo{},
		observations: observations,
		links: &mockLinkRepo{
			byStore: map[string][]*model.CompetitorLink{
				"store-1": {
					platformLink("link-1", "store-1", "100"),
					platformLink("link-2", "store-1", "200"),
				},
			},
		},
		connector: &mockConnector{
			platform: model.PlatformShopify,
			fetchProductsFunc: func(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error) {
				return &connector.ProductPage{
					Products: []connector.Product{
						{PlatformProductID: "100", Price: decimal.RequireFromString("19.99")},
						{PlatformProductID: "200", Price: decimal.RequireFromString("5.00")},
						{PlatformProductID: "999", Price: decimal.RequireFromString("1.00")}, // リンクなし
					},
					HasMore: false,
				}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	outcome := orchestrator.SyncOne(context.Background(), connectedStore("store-1"))

	if outcome.Kind != model.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded (%s)", outcome.Kind, outcome.Message)
	}
	if outcome.Observations != 2 {
		t.Errorf("Observations = %d, want 2", outcome.Observations)
	}
	if outcome.ObservationID == "" {
		t.Error("代表観測IDが設定されていません")
	}
	if observations.count() != 2 {
		t.Errorf("記録された観測値 = %d, want 2", observations.count())
	}
}

func TestOrchestrator_SyncOne_Paginates(t *testing.T) {
	var pages atomic.Int32
	deps := orchestratorDeps{
		links: &mockLinkRepo{
			byStore: map[string][]*model.CompetitorLink{
				"store-1": {platformLink("link-1", "store-1", "100")},
			},
		},
		connector: &mockConnector{
			platform: model.PlatformShopify,
			fetchProductsFunc: func(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error) {
				pages.Add(1)
				if page == 0 {
					return &connector.ProductPage{
						Products: []connector.Product{{PlatformProductID: "100", Price: decimal.New(1, 0)}},
						NextPage: 1,
						HasMore:  true,
					}, nil
				}
				return &connector.ProductPage{HasMore: false}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	outcome := orchestrator.SyncOne(context.Background(), connectedStore("store-1"))
	if outcome.Kind != model.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", outcome.Kind)
	}
	if pages.Load() != 2 {
		t.Errorf("取得ページ数 = %d, want 2", pages.Load())
	}
}

func TestOrchestrator_SyncOne_NeedsReauthShortCircuits(t *testing.T) {
	fetchCalled := false
	deps := orchestratorDeps{
		connector: &mockConnector{
			platform: model.PlatformShopify,
			fetchProductsFunc: func(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error) {
				fetchCalled = true
				return &connector.ProductPage{}, nil
			},
		},
		tokens: &mockTokens{},
	}
	orchestrator := newTestOrchestrator(deps)

	store := connectedStore("store-1")
	store.Status = model.StoreStatusNeedsReauth
	outcome := orchestrator.SyncOne(context.Background(), store)

	if outcome.Kind != model.OutcomeSkipped {
		t.Fatalf("Kind = %s, want skipped", outcome.Kind)
	}
	if outcome.Reason != "needs_reauth" {
		t.Errorf("Reason = %q, want needs_reauth", outcome.Reason)
	}
	if deps.tokens.calls.Load() != 0 {
		t.Error("再認可待ちストアで資格情報の確保が呼ばれました")
	}
	if fetchCalled {
		t.Error("再認可待ちストアでネットワーク呼び出しが発生しました")
	}
}

func TestOrchestrator_SyncOne_NoLinksSkips(t *testing.T) {
	deps := orchestratorDeps{
		links:     &mockLinkRepo{byStore: map[string][]*model.CompetitorLink{}},
		connector: &mockConnector{platform: model.PlatformShopify},
	}
	orchestrator := newTestOrchestrator(deps)

	outcome := orchestrator.SyncOne(context.Background(), connectedStore("store-1"))
	if outcome.Kind != model.OutcomeSkipped {
		t.Fatalf("Kind = %s, want skipped", outcome.Kind)
	}
	if outcome.Reason != "no_competitor_links" {
		t.Errorf("Reason = %q, want no_competitor_links", outcome.Reason)
	}
}

func TestOrchestrator_SyncAll_MixedOutcomes(t *testing.T) {
	// 5ストア中2ストアが失敗しても、サマリは3成功/2失敗で返る
	stores := make([]*model.Store, 5)
	for i := range stores {
		stores[i] = connectedStore("store-" + string(rune('a'+i)))
	}

	links := &mockLinkRepo{byStore: map[string][]*model.CompetitorLink{}}
	for _, s := range stores {
		links.byStore[s.ID] = []*model.CompetitorLink{platformLink("link-"+s.ID, s.ID, "100")}
	}

	deps := orchestratorDeps{
		stores: &mockStoreRepo{syncable: stores},
		links:  links,
		connector: &mockConnector{
			platform: model.PlatformShopify,
			fetchProductsFunc: func(ctx context.Context, cred *connector.Credential, page, pageSize int) (*connector.ProductPage, error) {
				return &connector.ProductPage{
					Products: []connector.Product{{PlatformProductID: "100", Price: decimal.New(10, 0)}},
				}, nil
			},
		},
		tokens: &mockTokens{
			ensureFreshFunc: func(ctx context.Context, store *model.Store) (*connector.Credential, error) {
				// 末尾2ストアは資格情報の確保に失敗する
				if store.ID == "store-d" || store.ID == "store-e" {
					return nil, &model.ConnectivityError{Err: errors.New("refresh endpoint down")}
				}
				return &connector.Credential{AccessToken: "tok"}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if run.Total() != 5 {
		t.Fatalf("Total() = %d, want 5", run.Total())
	}
	if run.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", run.Succeeded)
	}
	if run.Failed != 2 {
		t.Errorf("Failed = %d, want 2", run.Failed)
	}
}

func TestOrchestrator_ScrapeProduct_BoundedConcurrency(t *testing.T) {
	const limit = 2
	const items = 6

	links := make([]*model.CompetitorLink, items)
	for i := range links {
		links[i] = &model.CompetitorLink{
			ID:        "link-" + string(rune('a'+i)),
			ProductID: "own-product",
			TargetURL: "https://competitor.example.com/p",
		}
	}

	var inFlight, maxInFlight atomic.Int32
	deps := orchestratorDeps{
		links:  &mockLinkRepo{byProduct: links},
		config: Config{MaxConcurrent: limit},
		extractor: &mockExtractor{
			extractFunc: func(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error) {
				current := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					observed := maxInFlight.Load()
					if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return &extractor.ExtractedPrice{Price: decimal.New(10, 0), Currency: "USD"}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.ScrapeProduct(context.Background(), "own-product")
	if err != nil {
		t.Fatalf("ScrapeProduct() error = %v", err)
	}
	if run.Succeeded != items {
		t.Errorf("Succeeded = %d, want %d", run.Succeeded, items)
	}
	if got := maxInFlight.Load(); got > limit {
		t.Errorf("最大同時実行数 = %d, 上限 %d を超えています", got, limit)
	}
}

func TestOrchestrator_ScrapeProduct_PanicIsolation(t *testing.T) {
	links := []*model.CompetitorLink{
		{ID: "link-1", ProductID: "p", TargetURL: "https://a.example.com"},
		{ID: "link-2", ProductID: "p", TargetURL: "https://b.example.com"},
		{ID: "link-3", ProductID: "p", TargetURL: "https://c.example.com"},
	}

	deps := orchestratorDeps{
		links: &mockLinkRepo{byProduct: links},
		extractor: &mockExtractor{
			extractFunc: func(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error) {
				if pageURL == "https://b.example.com" {
					panic("extractor bug")
				}
				return &extractor.ExtractedPrice{Price: decimal.New(5, 0), Currency: "EUR"}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.ScrapeProduct(context.Background(), "p")
	if err != nil {
		t.Fatalf("ScrapeProduct() error = %v", err)
	}
	if run.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", run.Succeeded)
	}
	if run.Failed != 1 {
		t.Errorf("Failed = %d, want 1", run.Failed)
	}
}

func TestOrchestrator_ScrapeProduct_SkipsPlatformLinks(t *testing.T) {
	extractCalls := atomic.Int32{}
	deps := orchestratorDeps{
		links: &mockLinkRepo{byProduct: []*model.CompetitorLink{
			{ID: "link-1", ProductID: "p", TargetURL: "https://a.example.com"},
			platformLink("link-2", "store-1", "100"), // API同期対象はスクレイプしない
		}},
		extractor: &mockExtractor{
			extractFunc: func(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error) {
				extractCalls.Add(1)
				return &extractor.ExtractedPrice{Price: decimal.New(5, 0), Currency: "USD"}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.ScrapeProduct(context.Background(), "p")
	if err != nil {
		t.Fatalf("ScrapeProduct() error = %v", err)
	}
	if run.Total() != 1 {
		t.Errorf("Total() = %d, want 1", run.Total())
	}
	if extractCalls.Load() != 1 {
		t.Errorf("抽出呼び出し回数 = %d, want 1", extractCalls.Load())
	}
}

func TestOrchestrator_ScrapeProduct_FailureClassified(t *testing.T) {
	deps := orchestratorDeps{
		links: &mockLinkRepo{byProduct: []*model.CompetitorLink{
			{ID: "link-1", ProductID: "p", TargetURL: "https://gone.example.com"},
		}},
		extractor: &mockExtractor{
			extractFunc: func(ctx context.Context, pageURL, selector string) (*extractor.ExtractedPrice, error) {
				return nil, &model.FetchError{Status: 404, URL: pageURL}
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.ScrapeProduct(context.Background(), "p")
	if err != nil {
		t.Fatalf("ScrapeProduct() error = %v", err)
	}
	if run.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", run.Failed)
	}
	if run.Outcomes[0].ErrorKind != model.ErrorKindFetch {
		t.Errorf("ErrorKind = %s, want fetch", run.Outcomes[0].ErrorKind)
	}
}

func TestOrchestrator_SyncAll_CancellationReturnsPartialSummary(t *testing.T) {
	stores := make([]*model.Store, 10)
	for i := range stores {
		stores[i] = connectedStore("store-" + string(rune('a'+i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := atomic.Int32{}
	deps := orchestratorDeps{
		stores: &mockStoreRepo{syncable: stores},
		links:  &mockLinkRepo{byStore: map[string][]*model.CompetitorLink{}},
		config: Config{MaxConcurrent: 1},
		tokens: &mockTokens{
			ensureFreshFunc: func(c context.Context, store *model.Store) (*connector.Credential, error) {
				if started.Add(1) == 2 {
					cancel() // 2件目の処理中にキャンセル
				}
				return &connector.Credential{AccessToken: "tok"}, nil
			},
		},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	// 部分サマリが返り、全10件は処理されない
	if run.Total() >= 10 {
		t.Errorf("Total() = %d, キャンセル後も全件処理されています", run.Total())
	}
	if run.Total() == 0 {
		t.Error("部分サマリが空です")
	}
}

func TestOrchestrator_PublishesRunSummary(t *testing.T) {
	deps := orchestratorDeps{
		stores: &mockStoreRepo{syncable: nil},
	}
	orchestrator := newTestOrchestrator(deps)

	run, err := orchestrator.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	select {
	case published := <-orchestrator.Events():
		if published.ID != run.ID {
			t.Errorf("発行されたサマリID = %q, want %q", published.ID, run.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("実行サマリが発行されませんでした")
	}
}
