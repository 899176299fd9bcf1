package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresStoreRepo はPostgreSQLを使用したストアリポジトリ。
type PostgresStoreRepo struct {
	db *sql.DB
}

// NewPostgresStoreRepo はPostgresStoreRepoを生成する。
func NewPostgresStoreRepo(db *sql.DB) *PostgresStoreRepo {
	return &PostgresStoreRepo{db: db}
}

const storeColumns = `id, user_id, platform, external_account_id, shop_domain, name,
	        access_token, refresh_token, token_expires_at, status,
	        created_at, updated_at`

// scanStore は1行をmodel.Storeに読み取る。
func scanStore(row interface {
	Scan(dest ...interface{}) error
}) (*model.Store, error) {
	store := &model.Store{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(
		&store.ID, &store.UserID, &store.Platform, &store.ExternalAccountID, &store.ShopDomain, &store.Name,
		&store.AccessToken, &refreshToken, &expiresAt, &store.Status,
		&store.CreatedAt, &store.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	store.RefreshToken = nullStringValue(refreshToken)
	if expiresAt.Valid {
		store.TokenExpiresAt = expiresAt.Time
	}
	return store, nil
}

// FindByID は指定IDのストアを取得する。見つからない場合はnilを返す。
func (r *PostgresStoreRepo) FindByID(ctx context.Context, id string) (*model.Store, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id = $1`, id)

	store, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ストアの取得に失敗しました: %w", err)
	}
	return store, nil
}

// ListSyncable は同期対象（status = connected）のストア一覧を返す。
func (r *PostgresStoreRepo) ListSyncable(ctx context.Context) ([]*model.Store, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE status = $1 ORDER BY created_at`,
		model.StoreStatusConnected)
	if err != nil {
		return nil, fmt.Errorf("同期対象ストアの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectStores(rows)
}

// ListByUserID はユーザーの全ストアを返す。
func (r *PostgresStoreRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Store, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのストア一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectStores(rows)
}

// collectStores はクエリ結果をストアのスライスに変換する。
func collectStores(rows *sql.Rows) ([]*model.Store, error) {
	var stores []*model.Store
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("ストア行の読み取りに失敗しました: %w", err)
		}
		stores = append(stores, store)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ストア行の走査に失敗しました: %w", err)
	}
	return stores, nil
}

// Upsert は自然キー (user_id, platform, external_account_id) で冪等に
// ストアをUPSERTする。再接続は既存行の上書きであり、行は重複しない。
func (r *PostgresStoreRepo) Upsert(ctx context.Context, store *model.Store) (*model.Store, error) {
	if store.ID == "" {
		store.ID = uuid.New().String()
	}
	now := time.Now()

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO stores (id, user_id, platform, external_account_id, shop_domain, name,
		                     access_token, refresh_token, token_expires_at, status,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 ON CONFLICT (user_id, platform, external_account_id) DO UPDATE SET
		    shop_domain = EXCLUDED.shop_domain,
		    name = EXCLUDED.name,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    token_expires_at = EXCLUDED.token_expires_at,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
		 RETURNING `+storeColumns,
		store.ID, store.UserID, store.Platform, store.ExternalAccountID, store.ShopDomain, store.Name,
		store.AccessToken, nullString(store.RefreshToken), nullTime(store.TokenExpiresAt),
		model.StoreStatusConnected, now,
	)

	saved, err := scanStore(row)
	if err != nil {
		return nil, fmt.Errorf("ストアのUPSERTに失敗しました: %w", err)
	}
	return saved, nil
}

// UpdateCredentials はリフレッシュ成功後の資格情報と期限を永続化する。
func (r *PostgresStoreRepo) UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stores SET
		    access_token = $2, refresh_token = $3, token_expires_at = $4,
		    updated_at = now()
		 WHERE id = $1`,
		id, accessToken, nullString(refreshToken), nullTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("資格情報の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はストアの接続状態を更新する。
func (r *PostgresStoreRepo) UpdateStatus(ctx context.Context, id string, status model.StoreStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stores SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("ストア状態の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringのNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringを文字列に変換する。NULLは空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime はゼロ値のtime.Timeをsql.NullTimeのNULLに変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// compile-time interface check
var _ StoreRepository = (*PostgresStoreRepo)(nil)
