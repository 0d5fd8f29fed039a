package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// SQLiteStore 基于本地 SQLite 数据库实现 Store。
type SQLiteStore struct {
	db      *sql.DB
	writes  *scopeLocks
	nowFunc func() time.Time
}

// NewSQLiteStore 打开或创建 dbPath 处的数据库并执行迁移。
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		writes:  newScopeLocks(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		scope       TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		user_text   TEXT NOT NULL DEFAULT '',
		bot_text    TEXT NOT NULL DEFAULT '',
		timestamp   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_scope_recent ON turns(scope, timestamp DESC, id DESC);

	CREATE TABLE IF NOT EXISTS mood (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		score       INTEGER NOT NULL DEFAULT 0,
		label       TEXT NOT NULL DEFAULT '',
		day         TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append 插入一轮对话并返回带 id 的记录。
func (s *SQLiteStore) Append(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	if err := turn.Validate(); err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.nowFunc()
	}

	release := s.writes.lock(turn.Scope)
	defer release()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (scope, sender_id, sender_name, user_text, bot_text, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.Scope, turn.SenderID, turn.SenderName, turn.UserText, turn.BotText, turn.Timestamp.UnixNano())
	if err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, fmt.Errorf("insert turn: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	turn.ID = id
	return turn, nil
}

// RecentTurns 返回最多 limit 轮，最新的在前。
func (s *SQLiteStore) RecentTurns(ctx context.Context, scope string, limit int) ([]chat.Turn, error) {
	if err := validateRead(scope, limit); err != nil {
		return nil, storeErr("recent", scope, err)
	}
	if limit == 0 {
		return []chat.Turn{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, sender_id, sender_name, user_text, bot_text, timestamp
		 FROM turns WHERE scope = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, scope, limit)
	if err != nil {
		return nil, storeErr("recent", scope, fmt.Errorf("query turns: %w", err))
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, limit)
	for rows.Next() {
		var (
			t  chat.Turn
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.Scope, &t.SenderID, &t.SenderName, &t.UserText, &t.BotText, &ts); err != nil {
			return nil, storeErr("recent", scope, fmt.Errorf("scan turn: %w", err))
		}
		t.Timestamp = time.Unix(0, ts).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recent", scope, err)
	}
	return turns, nil
}

// Prune 删除 scope 中最新 keep 轮之外的记录。
func (s *SQLiteStore) Prune(ctx context.Context, scope string, keep int) (int64, error) {
	if err := validatePrune(scope, keep); err != nil {
		return 0, storeErr("prune", scope, err)
	}
	release := s.writes.lock(scope)
	defer release()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE scope = ? AND id NOT IN (
			SELECT id FROM turns WHERE scope = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, scope, scope, keep)
	if err != nil {
		return 0, storeErr("prune", scope, fmt.Errorf("delete turns: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("prune", scope, err)
	}
	return n, nil
}

// Scopes 列出有记录的 scope。
func (s *SQLiteStore) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scope FROM turns ORDER BY scope`)
	if err != nil {
		return nil, storeErr("scopes", "", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, storeErr("scopes", "", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, storeErr("scopes", "", rows.Err())
}

// LoadMood 读取唯一的心情记录。
func (s *SQLiteStore) LoadMood(ctx context.Context) (mood.State, bool, error) {
	var (
		st      mood.State
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT score, label, day, updated_at FROM mood WHERE id = 1`).Scan(&st.Score, &st.Label, &st.Day, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return mood.State{}, false, nil
	}
	if err != nil {
		return mood.State{}, false, storeErr("load mood", "", err)
	}
	st.UpdatedAt = time.Unix(0, updated).UTC()
	return st, true, nil
}

// SaveMood 写入或更新唯一的心情记录。
func (s *SQLiteStore) SaveMood(ctx context.Context, st mood.State) error {
	release := s.writes.lock(moodScope)
	defer release()

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.nowFunc()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mood (id, score, label, day, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET score = excluded.score, label = excluded.label,
		 day = excluded.day, updated_at = excluded.updated_at`,
		mood.Clamp(st.Score), st.Label, st.Day, st.UpdatedAt.UnixNano())
	return storeErr("save mood", "", err)
}

// Close 关闭数据库。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
