package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/brgyportal/announce/pkg/logx"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はマイグレーションがバージョン順に一度だけ適用されることを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/000002_add_col.up.sql": {Data: []byte("ALTER TABLE items ADD COLUMN label TEXT;")},
		"m/000001_init.up.sql":    {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"m/000001_init.down.sql":  {Data: []byte("DROP TABLE items;")},
		"m/README.md":             {Data: []byte("ignored")},
		"m/notaversion_x.up.sql":  {Data: []byte("SELECT 1;")},
	}
	db := openTestDB(t)
	ctx := context.Background()

	if err := Run(ctx, db, fsys, "m", logx.Nop()); err != nil {
		t.Fatalf("Run()でエラー: %v", err)
	}
	// 2回目は何も適用されないこと
	if err := Run(ctx, db, fsys, "m", logx.Nop()); err != nil {
		t.Fatalf("2回目のRun()でエラー: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("件数取得に失敗: %v", err)
	}
	if count != 2 {
		t.Errorf("適用済み件数 = %d, want 2", count)
	}
	if _, err := db.Exec("INSERT INTO items (id, label) VALUES ('a', 'b')"); err != nil {
		t.Errorf("マイグレーション後のINSERTに失敗: %v", err)
	}
}

// TestRunFailure は不正なSQLでエラーが返され、バージョンが記録されないことを検証する。
func TestRunFailure(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/000001_broken.up.sql": {Data: []byte("CREATE TABL broken;")},
	}
	db := openTestDB(t)

	if err := Run(context.Background(), db, fsys, "m", logx.Nop()); err == nil {
		t.Fatal("エラーが返されなかった")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("件数取得に失敗: %v", err)
	}
	if count != 0 {
		t.Errorf("適用済み件数 = %d, want 0", count)
	}
}
