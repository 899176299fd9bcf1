package model

import "time"

// OutcomeKind は同期対象1件ごとの処理結果の種別を表す。
type OutcomeKind string

const (
	// OutcomeSucceeded は観測値の記録まで完了したことを示す。
	OutcomeSucceeded OutcomeKind = "succeeded"
	// OutcomeSkipped は対象が同期不能（needs_reauth等）でスキップされたことを示す。
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeFailed はリトライを使い切って失敗したことを示す。
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome は同期対象1件の処理結果を表す。
// TargetIDはストアIDまたは競合リンクID。
type Outcome struct {
	TargetID      string
	Kind          OutcomeKind
	ObservationID string    // succeeded時の代表観測ID（複数記録時は先頭）
	Observations  int       // succeeded時に記録した観測値の件数
	Reason        string    // skipped時の理由（例: "needs_reauth"）
	ErrorKind     ErrorKind // failed時の失敗分類
	Message       string    // failed時のエラーメッセージ
}

// SyncRun は1回のオーケストレーション実行の集計結果を表す。
// 実行を超えて永続化されない。呼び出し元への報告にのみ使う。
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Succeeded  int
	Skipped    int
	Failed     int
}

// Add は処理結果を1件追加し、種別ごとのカウントを更新する。
func (r *SyncRun) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Total は処理対象の総数を返す。
func (r *SyncRun) Total() int {
	return len(r.Outcomes)
}
