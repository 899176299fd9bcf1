// Package token はプラットフォーム資格情報のライフサイクル管理を提供する。
// 期限切れ間近のトークンを同期実行前に更新し、リフレッシュ不能になった
// ストアを再認可待ちに降格する。
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// MetricsRecorder はリフレッシュ結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordTokenRefresh(success bool)
}

// Manager はストアごとの資格情報を管理する。
// 同一ストアへの並行リフレッシュはストア単位のロックで直列化し、
// 二重リフレッシュによるトークン失効を防ぐ。
type Manager struct {
	stores   repository.StoreRepository
	registry *connector.Registry
	margin   time.Duration
	logger   *slog.Logger
	metrics  MetricsRecorder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager はManagerを生成する。
// marginは期限の何分前からリフレッシュを行うかを指定する。
// metricsはnilでもよい。
func NewManager(stores repository.StoreRepository, registry *connector.Registry, margin time.Duration, logger *slog.Logger, metrics MetricsRecorder) *Manager {
	return &Manager{
		stores:   stores,
		registry: registry,
		margin:   margin,
		logger:   logger,
		metrics:  metrics,
		locks:    make(map[string]*sync.Mutex),
	}
}

// recordRefresh はリフレッシュ結果をメトリクスに記録する。
func (m *Manager) recordRefresh(success bool) {
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh(success)
	}
}

// EnsureFresh は同期に使える資格情報を返す。
// 期限切れ間近の場合はリフレッシュし、新しい資格情報を永続化してから返す。
// ストアが再認可待ちの場合はmodel.ErrNeedsReauthを返す。
func (m *Manager) EnsureFresh(ctx context.Context, store *model.Store) (*connector.Credential, error) {
	if store.Status == model.StoreStatusNeedsReauth {
		return nil, model.ErrNeedsReauth
	}

	cred := credentialFromStore(store)
	if !store.TokenExpiresWithin(m.margin) {
		return cred, nil
	}

	lock := m.storeLock(store.ID)
	lock.Lock()
	defer lock.Unlock()

	// ロック待ちの間に別のゴルーチンがリフレッシュ済みの可能性があるため再読込する
	current, err := m.stores.FindByID(ctx, store.ID)
	if err != nil {
		return nil, fmt.Errorf("ストアの再読込に失敗しました: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("ストアが見つかりません: %s", store.ID)
	}
	if current.Status == model.StoreStatusNeedsReauth {
		return nil, model.ErrNeedsReauth
	}
	if !current.TokenExpiresWithin(m.margin) {
		*store = *current
		return credentialFromStore(current), nil
	}

	return m.refresh(ctx, store, current)
}

// refresh はコネクタ経由でトークンを更新し、結果を永続化する。
// リフレッシュトークン自体が失効している場合はストアを再認可待ちに降格する。
func (m *Manager) refresh(ctx context.Context, store, current *model.Store) (*connector.Credential, error) {
	conn, err := m.registry.Get(current.Platform)
	if err != nil {
		return nil, err
	}

	refreshed, err := conn.Refresh(ctx, credentialFromStore(current))
	if err != nil {
		m.recordRefresh(false)
		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			m.logger.Warn("リフレッシュトークンが失効したためストアを再認可待ちにします",
				slog.String("store_id", current.ID),
				slog.String("platform", string(current.Platform)),
				slog.String("reason", authErr.Reason),
			)
			if updateErr := m.stores.UpdateStatus(ctx, current.ID, model.StoreStatusNeedsReauth); updateErr != nil {
				m.logger.Error("ストア状態の更新に失敗しました",
					slog.String("store_id", current.ID),
					slog.String("error", updateErr.Error()),
				)
			}
			store.Status = model.StoreStatusNeedsReauth
			return nil, model.ErrNeedsReauth
		}
		return nil, fmt.Errorf("トークンのリフレッシュに失敗しました: %w", err)
	}

	if err := m.stores.UpdateCredentials(ctx, current.ID,
		refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		return nil, fmt.Errorf("資格情報の永続化に失敗しました: %w", err)
	}

	m.recordRefresh(true)
	m.logger.Info("トークンをリフレッシュしました",
		slog.String("store_id", current.ID),
		slog.String("platform", string(current.Platform)),
	)

	store.AccessToken = refreshed.AccessToken
	store.RefreshToken = refreshed.RefreshToken
	store.TokenExpiresAt = refreshed.ExpiresAt
	return refreshed, nil
}

// storeLock はストアIDに対応するロックを返す。
func (m *Manager) storeLock(storeID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[storeID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[storeID] = lock
	}
	return lock
}

// credentialFromStore はストア行から資格情報を組み立てる。
func credentialFromStore(store *model.Store) *connector.Credential {
	return &connector.Credential{
		AccessToken:  store.AccessToken,
		RefreshToken: store.RefreshToken,
		ExpiresAt:    store.TokenExpiresAt,
		ShopDomain:   store.ShopDomain,
	}
}
