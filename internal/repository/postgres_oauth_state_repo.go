package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresOAuthStateRepo はPostgreSQLを使用したOAuth stateノンスリポジトリ。
type PostgresOAuthStateRepo struct {
	db *sql.DB
}

// NewPostgresOAuthStateRepo はPostgresOAuthStateRepoを生成する。
func NewPostgresOAuthStateRepo(db *sql.DB) *PostgresOAuthStateRepo {
	return &PostgresOAuthStateRepo{db: db}
}

// Create はstateノンスを保存する。
func (r *PostgresOAuthStateRepo) Create(ctx context.Context, state *model.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, platform, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		state.State, state.Platform, state.UserID, state.ExpiresAt, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("stateノンスの保存に失敗しました: %w", err)
	}
	return nil
}

// Consume はstateノンスを取得して削除する（1回限りの使用）。
// 見つからない場合はnilを返す。
func (r *PostgresOAuthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	s := &model.OAuthState{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states WHERE state = $1
		 RETURNING state, platform, user_id, expires_at, created_at`,
		state,
	).Scan(&s.State, &s.Platform, &s.UserID, &s.ExpiresAt, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stateノンスの消費に失敗しました: %w", err)
	}
	return s, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*PostgresOAuthStateRepo)(nil)
