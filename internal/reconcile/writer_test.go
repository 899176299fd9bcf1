package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// mockStoreRepo はStoreRepositoryのモック。
type mockStoreRepo struct {
	upsertFunc func(ctx context.Context, store *model.Store) (*model.Store, error)
}

func (m *mockStoreRepo) FindByID(ctx context.Context, id string) (*model.Store, error) {
	return nil, nil
}

func (m *mockStoreRepo) ListSyncable(ctx context.Context) ([]*model.Store, error) {
	return nil, nil
}

func (m *mockStoreRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Store, error) {
	return nil, nil
}

func (m *mockStoreRepo) Upsert(ctx context.Context, store *model.Store) (*model.Store, error) {
	return m.upsertFunc(ctx, store)
}

func (m *mockStoreRepo) UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (m *mockStoreRepo) UpdateStatus(ctx context.Context, id string, status model.StoreStatus) error {
	return nil
}

// mockObservationRepo はObservationRepositoryのモック。
type mockObservationRepo struct {
	inserted []*model.PriceObservation
}

func (m *mockObservationRepo) Insert(ctx context.Context, obs *model.PriceObservation) error {
	m.inserted = append(m.inserted, obs)
	return nil
}

func (m *mockObservationRepo) ListByLinkID(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error) {
	return m.inserted, nil
}

// passthroughSanitizer はテスト用の素通しサニタイザ。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(input string) string { return input }

func newTestWriter(stores *mockStoreRepo, observations *mockObservationRepo) *Writer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewWriter(stores, observations, passthroughSanitizer{}, logger)
}

func TestWriter_UpsertStore(t *testing.T) {
	var captured *model.Store
	stores := &mockStoreRepo{
		upsertFunc: func(ctx context.Context, store *model.Store) (*model.Store, error) {
			captured = store
			saved := *store
			saved.ID = "store-1"
			return &saved, nil
		},
	}
	writer := newTestWriter(stores, &mockObservationRepo{})

	saved, err := writer.UpsertStore(context.Background(), StoreInput{
		UserID:            "user-1",
		Platform:          model.PlatformShopify,
		ExternalAccountID: "12345",
		ShopDomain:        "demo.myshopify.com",
		Name:              "Demo Store",
		AccessToken:       "tok-1",
		RefreshToken:      "ref-1",
		TokenExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertStore() error = %v", err)
	}
	if saved.ID != "store-1" {
		t.Errorf("ID = %q, want store-1", saved.ID)
	}
	if captured.Status != model.StoreStatusConnected {
		t.Errorf("Status = %q, want connected", captured.Status)
	}
}

func TestWriter_UpsertStore_Validation(t *testing.T) {
	writer := newTestWriter(&mockStoreRepo{}, &mockObservationRepo{})

	tests := []struct {
		name  string
		input StoreInput
	}{
		{
			name:  "不正なプラットフォーム",
			input: StoreInput{UserID: "u", Platform: "ebay", ExternalAccountID: "x"},
		},
		{
			name:  "ユーザーIDなし",
			input: StoreInput{Platform: model.PlatformShopify, ExternalAccountID: "x"},
		},
		{
			name:  "外部アカウントIDなし",
			input: StoreInput{UserID: "u", Platform: model.PlatformShopify},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := writer.UpsertStore(context.Background(), tt.input); err == nil {
				t.Error("エラーを期待しましたがnilでした")
			}
		})
	}
}

func TestWriter_RecordObservation(t *testing.T) {
	observations := &mockObservationRepo{}
	writer := newTestWriter(&mockStoreRepo{}, observations)

	observedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	obs, err := writer.RecordObservation(context.Background(),
		"link-1", decimal.RequireFromString("19.99"), "usd", observedAt)
	if err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}
	if obs.ID == "" {
		t.Error("観測IDが採番されていません")
	}
	if obs.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", obs.Currency)
	}
	if !obs.ObservedAt.Equal(observedAt) {
		t.Errorf("ObservedAt = %s, want %s", obs.ObservedAt, observedAt)
	}
	if len(observations.inserted) != 1 {
		t.Fatalf("挿入件数 = %d, want 1", len(observations.inserted))
	}
}

func TestWriter_RecordObservation_AppendOnly(t *testing.T) {
	observations := &mockObservationRepo{}
	writer := newTestWriter(&mockStoreRepo{}, observations)

	// 同一リンクにN回記録するとN行が残る
	for i := 0; i < 3; i++ {
		_, err := writer.RecordObservation(context.Background(),
			"link-1", decimal.RequireFromString("10.00"), "USD", time.Now())
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
	}
	if len(observations.inserted) != 3 {
		t.Errorf("挿入件数 = %d, want 3", len(observations.inserted))
	}

	// 各行は独立したIDを持つ
	seen := make(map[string]bool)
	for _, obs := range observations.inserted {
		if seen[obs.ID] {
			t.Errorf("観測IDが重複しています: %s", obs.ID)
		}
		seen[obs.ID] = true
	}
}

func TestWriter_RecordObservation_Validation(t *testing.T) {
	writer := newTestWriter(&mockStoreRepo{}, &mockObservationRepo{})

	if _, err := writer.RecordObservation(context.Background(),
		"", decimal.RequireFromString("1.00"), "USD", time.Now()); err == nil {
		t.Error("リンクIDなしでエラーが返りませんでした")
	}
	if _, err := writer.RecordObservation(context.Background(),
		"link-1", decimal.RequireFromString("-1.00"), "USD", time.Now()); err == nil {
		t.Error("負の価格でエラーが返りませんでした")
	}
	if _, err := writer.RecordObservation(context.Background(),
		"link-1", decimal.RequireFromString("1.00"), "", time.Now()); err == nil {
		t.Error("通貨コードなしでエラーが返りませんでした")
	}
}

func TestWriter_RecordObservation_ZeroTimestampDefaultsToNow(t *testing.T) {
	observations := &mockObservationRepo{}
	writer := newTestWriter(&mockStoreRepo{}, observations)

	before := time.Now()
	obs, err := writer.RecordObservation(context.Background(),
		"link-1", decimal.RequireFromString("5.00"), "EUR", time.Time{})
	if err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}
	if obs.ObservedAt.Before(before) {
		t.Errorf("ObservedAt = %s が現在時刻より前です", obs.ObservedAt)
	}
}
