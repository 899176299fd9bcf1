package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/shopspring/decimal"
)

// PostgresObservationRepo はPostgreSQLを使用した価格観測値リポジトリ。
// 追記専用: 既存行のUPDATE/DELETEは実装しない。
type PostgresObservationRepo struct {
	db *sql.DB
}

// NewPostgresObservationRepo はPostgresObservationRepoを生成する。
func NewPostgresObservationRepo(db *sql.DB) *PostgresObservationRepo {
	return &PostgresObservationRepo{db: db}
}

// Insert は観測値を1行追加する。既存行には一切触れない。
func (r *PostgresObservationRepo) Insert(ctx context.Context, obs *model.PriceObservation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_observations (id, link_id, price, currency, observed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		obs.ID, obs.LinkID, obs.Price.String(), obs.Currency, obs.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("観測値の追加に失敗しました: %w", err)
	}
	return nil
}

// ListByLinkID は指定リンクの観測値をobserved_at降順で返す。
func (r *PostgresObservationRepo) ListByLinkID(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, link_id, price, currency, observed_at
		 FROM price_observations
		 WHERE link_id = $1
		 ORDER BY observed_at DESC
		 LIMIT $2`,
		linkID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("観測値一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var observations []*model.PriceObservation
	for rows.Next() {
		obs := &model.PriceObservation{}
		var price string
		if err := rows.Scan(&obs.ID, &obs.LinkID, &price, &obs.Currency, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("観測値行の読み取りに失敗しました: %w", err)
		}
		obs.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("価格カラムの変換に失敗しました: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("観測値行の走査に失敗しました: %w", err)
	}
	return observations, nil
}

// compile-time interface check
var _ ObservationRepository = (*PostgresObservationRepo)(nil)
