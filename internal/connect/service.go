// Package connect はプラットフォームアカウントの接続フローを提供する。
// OAuth認可フローの開始・コールバック処理と、キー認証プラットフォームの
// 直接接続を単一のエントリポイントに集約する。
package connect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/reconcile"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// loginURLProvider は認可フローの開始URLを提供するコネクタが実装する。
type loginURLProvider interface {
	LoginURL(shopDomain, state string) string
}

// AuthorizationInput は接続フローの入力。
// OAuthプラットフォームではCode/Stateを、キー認証プラットフォームでは
// APIKey/APISecret/UserIDを使用する。
type AuthorizationInput struct {
	Code       string
	State      string
	UserID     string
	ShopDomain string
	APIKey     string
	APISecret  string
}

// Service は接続フローのアプリケーションサービス。
type Service struct {
	registry *connector.Registry
	writer   *reconcile.Writer
	stores   repository.StoreRepository
	states   repository.OAuthStateRepository
	stateTTL time.Duration
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(registry *connector.Registry, writer *reconcile.Writer, stores repository.StoreRepository, states repository.OAuthStateRepository, stateTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		writer:   writer,
		stores:   stores,
		states:   states,
		stateTTL: stateTTL,
		logger:   logger,
	}
}

// BeginAuthorization はOAuth認可フローを開始し、リダイレクト先URLを返す。
// CSRF対策のstateノンスを発行し、コールバック検証用に永続化する。
func (s *Service) BeginAuthorization(ctx context.Context, platform model.Platform, userID, shopDomain string) (string, error) {
	if !platform.UsesOAuth() {
		return "", fmt.Errorf("OAuth非対応のプラットフォームです: %s", platform)
	}
	if userID == "" {
		return "", fmt.Errorf("ユーザーIDがありません")
	}

	conn, err := s.registry.Get(platform)
	if err != nil {
		return "", err
	}
	provider, ok := conn.(loginURLProvider)
	if !ok {
		return "", fmt.Errorf("コネクタが認可URLを提供していません: %s", platform)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("stateノンスの生成に失敗しました: %w", err)
	}

	if err := s.states.Create(ctx, &model.OAuthState{
		State:     state,
		Platform:  platform,
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.stateTTL),
		CreatedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("stateノンスの保存に失敗しました: %w", err)
	}

	return provider.LoginURL(shopDomain, state), nil
}

// CompleteAuthorization は接続フローを完了し、保存済みストアを返す。
// 認証 → アカウント情報取得 → 冪等UPSERTの順で進み、
// 同じフローを2回実行してもストアは重複しない。
func (s *Service) CompleteAuthorization(ctx context.Context, platform model.Platform, input AuthorizationInput) (*model.Store, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("不正なプラットフォームです: %s", platform)
	}

	userID := input.UserID
	if platform.UsesOAuth() {
		consumed, err := s.consumeState(ctx, platform, input.State)
		if err != nil {
			return nil, err
		}
		userID = consumed.UserID
	}

	conn, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	cred, err := conn.Authenticate(ctx, connector.AuthInput{
		Code:       input.Code,
		APIKey:     input.APIKey,
		APISecret:  input.APISecret,
		ShopDomain: input.ShopDomain,
	})
	if err != nil {
		s.logger.Warn("プラットフォーム認証に失敗しました",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	info, err := conn.FetchAccountInfo(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("アカウント情報の取得に失敗しました: %w", err)
	}

	return s.writer.UpsertStore(ctx, reconcile.StoreInput{
		UserID:            userID,
		Platform:          platform,
		ExternalAccountID: info.ExternalAccountID,
		ShopDomain:        cred.ShopDomain,
		Name:              info.Name,
		AccessToken:       cred.AccessToken,
		RefreshToken:      cred.RefreshToken,
		TokenExpiresAt:    cred.ExpiresAt,
	})
}

// consumeState はstateノンスを検証し、1回限りで消費する。
// 不明または期限切れのstateは認証エラーとして扱う。
func (s *Service) consumeState(ctx context.Context, platform model.Platform, state string) (*model.OAuthState, error) {
	if state == "" {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "stateがありません",
		}
	}

	consumed, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("stateノンスの検証に失敗しました: %w", err)
	}
	if consumed == nil || consumed.Platform != platform {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "不明なstateです",
		}
	}
	if consumed.Expired() {
		return nil, &model.AuthError{
			Reason: model.AuthReasonExpired,
			Detail: "stateの有効期限が切れています",
		}
	}
	return consumed, nil
}

// Disconnect はユーザー操作によるストア切断を処理する。
// 行は削除せず、状態をdisconnectedに更新して同期対象から外す。
func (s *Service) Disconnect(ctx context.Context, storeID, userID string) error {
	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return err
	}
	if store == nil || store.UserID != userID {
		return model.NewStoreNotFoundError(storeID)
	}

	if err := s.stores.UpdateStatus(ctx, storeID, model.StoreStatusDisconnected); err != nil {
		return err
	}

	s.logger.Info("ストアを切断しました",
		slog.String("store_id", storeID),
		slog.String("platform", string(store.Platform)),
	)
	return nil
}

// ListStores はユーザーの接続済みストア一覧を返す。
func (s *Service) ListStores(ctx context.Context, userID string) ([]*model.Store, error) {
	return s.stores.ListByUserID(ctx, userID)
}

// generateState は暗号的に安全なstateノンスを生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
