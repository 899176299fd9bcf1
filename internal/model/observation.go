package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation は競合参照1件のある時点の価格読み取りを表す。
// 追記専用: 取り込み経路からは更新も削除もされず、
// トレンド分析に使う時系列としてリンクごとに単調増加する。
type PriceObservation struct {
	ID         string
	LinkID     string
	Price      decimal.Decimal // 非負
	Currency   string          // ISO 4217 コード
	ObservedAt time.Time
}
