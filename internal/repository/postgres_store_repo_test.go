package repository

import (
	"database/sql"
	"testing"
	"time"
)

// PostgresStoreRepoはStoreRepositoryインターフェースを満たすことを検証
func TestPostgresStoreRepo_ImplementsInterface(t *testing.T) {
	var _ StoreRepository = (*PostgresStoreRepo)(nil)
}

// NewPostgresStoreRepoが正しく初期化されることを検証
func TestNewPostgresStoreRepo_Initializes(t *testing.T) {
	repo := NewPostgresStoreRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNullString(t *testing.T) {
	if got := nullString(""); got.Valid {
		t.Error("空文字列はNULLになるべき")
	}
	if got := nullString("token"); !got.Valid || got.String != "token" {
		t.Errorf("nullString(\"token\") = %+v", got)
	}
}

func TestNullStringValue(t *testing.T) {
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("NULLは空文字列になるべき, got %q", got)
	}
	if got := nullStringValue(sql.NullString{String: "x", Valid: true}); got != "x" {
		t.Errorf("nullStringValue = %q, want x", got)
	}
}

func TestNullTime(t *testing.T) {
	if got := nullTime(time.Time{}); got.Valid {
		t.Error("ゼロ値のtime.TimeはNULLになるべき")
	}
	now := time.Now()
	if got := nullTime(now); !got.Valid || !got.Time.Equal(now) {
		t.Errorf("nullTime(now) = %+v", got)
	}
}
