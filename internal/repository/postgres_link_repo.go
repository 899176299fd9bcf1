package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pricewatch/internal/model"
)

// PostgresLinkRepo はPostgreSQLを使用した競合リンクリポジトリ。
type PostgresLinkRepo struct {
	db *sql.DB
}

// NewPostgresLinkRepo はPostgresLinkRepoを生成する。
func NewPostgresLinkRepo(db *sql.DB) *PostgresLinkRepo {
	return &PostgresLinkRepo{db: db}
}

const linkColumns = `id, product_id, target_url, store_id, platform_product_id,
	        selector, label, created_at, updated_at`

// scanLink は1行をmodel.CompetitorLinkに読み取る。
func scanLink(row interface {
	Scan(dest ...interface{}) error
}) (*model.CompetitorLink, error) {
	link := &model.CompetitorLink{}
	var targetURL, storeID, platformProductID, selector sql.NullString

	err := row.Scan(&link.ID, &link.ProductID, &targetURL, &storeID, &platformProductID,
		&selector, &link.Label, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return nil, err
	}

	link.TargetURL = nullStringValue(targetURL)
	link.StoreID = nullStringValue(storeID)
	link.PlatformProductID = nullStringValue(platformProductID)
	link.Selector = nullStringValue(selector)
	return link, nil
}

// FindByID は指定IDの競合リンクを取得する。見つからない場合はnilを返す。
func (r *PostgresLinkRepo) FindByID(ctx context.Context, id string) (*model.CompetitorLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM competitor_links WHERE id = $1`, id)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("競合リンクの取得に失敗しました: %w", err)
	}
	return link, nil
}

// ListByProductID は指定商品の競合リンク一覧を返す。
// productIDが空の場合は全商品の競合リンクを返す。
func (r *PostgresLinkRepo) ListByProductID(ctx context.Context, productID string) ([]*model.CompetitorLink, error) {
	query := `SELECT ` + linkColumns + ` FROM competitor_links`
	args := []interface{}{}
	if productID != "" {
		query += ` WHERE product_id = $1`
		args = append(args, productID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("競合リンク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectLinks(rows)
}

// ListByStoreID は指定ストアに紐づくプラットフォーム参照のリンク一覧を返す。
func (r *PostgresLinkRepo) ListByStoreID(ctx context.Context, storeID string) ([]*model.CompetitorLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM competitor_links WHERE store_id = $1 ORDER BY created_at`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("ストアの競合リンク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectLinks(rows)
}

// collectLinks はクエリ結果を競合リンクのスライスに変換する。
func collectLinks(rows *sql.Rows) ([]*model.CompetitorLink, error) {
	var links []*model.CompetitorLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("競合リンク行の読み取りに失敗しました: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("競合リンク行の走査に失敗しました: %w", err)
	}
	return links, nil
}

// Create は競合リンクを作成する。
func (r *PostgresLinkRepo) Create(ctx context.Context, link *model.CompetitorLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO competitor_links (id, product_id, target_url, store_id, platform_product_id,
		                               selector, label, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		link.ID, link.ProductID, nullString(link.TargetURL), nullString(link.StoreID),
		nullString(link.PlatformProductID), nullString(link.Selector),
		link.Label, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("競合リンクの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateLabel はラベルを更新する。ラベルは作成後に変更可能な唯一の属性。
func (r *PostgresLinkRepo) UpdateLabel(ctx context.Context, id, label string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE competitor_links SET label = $2, updated_at = now() WHERE id = $1`,
		id, label,
	)
	if err != nil {
		return fmt.Errorf("ラベルの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの競合リンクを削除する。
// 関連するprice_observationsはCASCADE削除される。
func (r *PostgresLinkRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM competitor_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("競合リンクの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LinkRepository = (*PostgresLinkRepo)(nil)
