package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

const entryColumns = `ts, ns, id, kind, author, body, revision, flags, tags, attributes, media, min_ts, min_ns, min_id`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Stats summarizes the stored history of one chat.
type Stats struct {
	Messages  int
	Holes     int
	ReadState models.ReadState
}

// SQLiteStore keeps the history of one chat in a SQLite database. Several
// chats can share a database file.
type SQLiteStore struct {
	db      *sql.DB
	chat    string
	changes notifier
	retry   retryPolicy
}

// SQLiteOptions tunes the database connection.
type SQLiteOptions struct {
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultSQLiteOptions returns the options used by OpenSQLite.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{BusyTimeout: 5 * time.Second}
}

// OpenSQLite opens (and creates if needed) the database at path for chat.
func OpenSQLite(ctx context.Context, path, chat string) (*SQLiteStore, error) {
	return OpenSQLiteWithOptions(ctx, path, chat, DefaultSQLiteOptions())
}

// OpenSQLiteWithOptions is OpenSQLite with explicit connection options.
func OpenSQLiteWithOptions(ctx context.Context, path, chat string, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultSQLiteOptions().BusyTimeout
	}
	if chat == "" {
		return nil, errors.New("chat id is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &SQLiteStore{db: db, chat: chat, changes: newNotifier(), retry: defaultRetry}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Chat returns the chat id the store is bound to.
func (s *SQLiteStore) Chat() string {
	return s.chat
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			chat TEXT NOT NULL,
			ts INTEGER NOT NULL,
			ns INTEGER NOT NULL,
			id INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			revision INTEGER NOT NULL DEFAULT 0,
			flags INTEGER NOT NULL DEFAULT 0,
			tags INTEGER NOT NULL DEFAULT 0,
			attributes TEXT,
			media TEXT,
			min_ts INTEGER,
			min_ns INTEGER,
			min_id INTEGER,
			PRIMARY KEY (chat, ts, ns, id)
		)`,
		`CREATE TABLE IF NOT EXISTS read_state (
			chat TEXT PRIMARY KEY,
			max_ts INTEGER,
			max_ns INTEGER,
			max_id INTEGER,
			unread_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS media_refetch (
			chat TEXT NOT NULL,
			ns INTEGER NOT NULL,
			id INTEGER NOT NULL,
			requested_at INTEGER NOT NULL,
			PRIMARY KEY (chat, ns, id)
		)`,
		`CREATE TABLE IF NOT EXISTS side_data (
			chat TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			chat_info TEXT NOT NULL DEFAULT '',
			pinned_ns INTEGER,
			pinned_id INTEGER,
			admins TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize history schema: %w", err)
		}
	}
	return nil
}

// Changes implements history.Store. Only writes made through this store are reported.
func (s *SQLiteStore) Changes() <-chan history.Change {
	return s.changes.ch
}

// CachedSideData implements history.Store.
func (s *SQLiteStore) CachedSideData(ctx context.Context) (*models.SideData, error) {
	return s.sideData(ctx, s.db)
}

// Fetch implements history.Store.
func (s *SQLiteStore) Fetch(ctx context.Context, req history.FetchRequest) (history.Page, error) {
	var page history.Page
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		var err error
		page, err = s.fetch(ctx, tx, req)
		return err
	})
	return page, err
}

func (s *SQLiteStore) fetch(ctx context.Context, q querier, req history.FetchRequest) (history.Page, error) {
	rs, err := s.readState(ctx, q)
	if err != nil {
		return history.Page{}, err
	}
	side, err := s.sideData(ctx, q)
	if err != nil {
		return history.Page{}, err
	}
	page := history.Page{ReadState: rs, SideData: side}

	if req.Direction == history.FetchRange {
		lo, hi := req.Min.Resolved(), req.Max.Resolved()
		args := append(indexArgs(lo), indexArgs(hi)...)
		if page.Entries, err = s.query(ctx, q, `(ts, ns, id) >= (?, ?, ?) AND (ts, ns, id) <= (?, ?, ?)`, false, 0, args...); err != nil {
			return history.Page{}, err
		}
		before, err := s.query(ctx, q, `(ts, ns, id) < (?, ?, ?)`, true, 1, indexArgs(lo)...)
		if err != nil {
			return history.Page{}, err
		}
		after, err := s.query(ctx, q, `(ts, ns, id) > (?, ?, ?)`, false, 1, indexArgs(hi)...)
		if err != nil {
			return history.Page{}, err
		}
		if len(before) > 0 {
			index := before[0].Index()
			page.EarlierID = &index
		}
		if len(after) > 0 {
			index := after[0].Index()
			page.LaterID = &index
		}
		markRead(page.Entries, rs.MaxReadIndex)
		return page, nil
	}

	count := req.Count
	if count <= 0 {
		count = history.HistoryPageSize
	}
	pivot, unread, err := s.pivot(ctx, q, req.Anchor, rs)
	if err != nil {
		return history.Page{}, err
	}

	beforeOp, afterOp := "<", ">="
	beforeLimit, afterLimit := count+1, count+1
	switch req.Direction {
	case history.FetchEarlier:
		afterLimit = 1
	case history.FetchLater:
		beforeOp, afterOp = "<=", ">"
		beforeLimit = 1
	}

	before, err := s.query(ctx, q, fmt.Sprintf(`(ts, ns, id) %s (?, ?, ?)`, beforeOp), true, beforeLimit, indexArgs(pivot)...)
	if err != nil {
		return history.Page{}, err
	}
	after, err := s.query(ctx, q, fmt.Sprintf(`(ts, ns, id) %s (?, ?, ?)`, afterOp), false, afterLimit, indexArgs(pivot)...)
	if err != nil {
		return history.Page{}, err
	}

	page.Entries, page.EarlierID, page.LaterID = assemble(req.Direction, count, before, after)
	page.UnreadAnchor = unread
	markRead(page.Entries, rs.MaxReadIndex)
	return page, nil
}

func (s *SQLiteStore) pivot(ctx context.Context, q querier, anchor history.Anchor, rs models.ReadState) (models.MessageIndex, *models.MessageIndex, error) {
	if anchor.Kind != history.AnchorUnread {
		return anchor.Resolved(), nil, nil
	}
	if rs.MaxReadIndex == nil {
		return models.UpperBound(), nil, nil
	}
	var index models.MessageIndex
	err := q.QueryRowContext(ctx, `
		SELECT ts, ns, id FROM history_entries
		WHERE chat = ? AND kind = ? AND (ts, ns, id) > (?, ?, ?)
		ORDER BY ts, ns, id LIMIT 1
	`, append([]any{s.chat, int(models.EntryMessage)}, indexArgs(*rs.MaxReadIndex)...)...).Scan(&index.Timestamp, &index.Namespace, &index.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UpperBound(), nil, nil
	}
	if err != nil {
		return models.MessageIndex{}, nil, fmt.Errorf("failed to resolve unread anchor: %w", err)
	}
	return index, &index, nil
}

func (s *SQLiteStore) query(ctx context.Context, q querier, where string, desc bool, limit int, args ...any) ([]models.RawEntry, error) {
	order := "ts, ns, id"
	if desc {
		order = "ts DESC, ns DESC, id DESC"
	}
	stmt := fmt.Sprintf(`SELECT %s FROM history_entries WHERE chat = ? AND %s ORDER BY %s`, entryColumns, where, order)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := q.QueryContext(ctx, stmt, append([]any{s.chat}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.RawEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (models.RawEntry, error) {
	var (
		index        models.MessageIndex
		kind         int
		author, body string
		revision     int64
		flags, tags  int
		attrs, media sql.NullString
		minTS, minID sql.NullInt64
		minNS        sql.NullInt32
	)
	if err := rows.Scan(&index.Timestamp, &index.Namespace, &index.ID, &kind, &author, &body, &revision, &flags, &tags, &attrs, &media, &minTS, &minNS, &minID); err != nil {
		return models.RawEntry{}, fmt.Errorf("failed to scan history entry: %w", err)
	}

	if models.EntryKind(kind) == models.EntryHole {
		hole := models.Hole{
			Min: models.MessageIndex{Timestamp: minTS.Int64, Namespace: minNS.Int32, ID: minID.Int64},
			Max: index,
		}
		return models.HoleEntry(hole), nil
	}

	msg := &models.Message{
		Index:    index,
		Author:   author,
		Text:     body,
		Revision: revision,
		Flags:    models.MessageFlags(flags),
		Tags:     models.MessageTags(tags),
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &msg.Attributes); err != nil {
			return models.RawEntry{}, fmt.Errorf("failed to decode attributes of %s: %w", index, err)
		}
	}
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &msg.Media); err != nil {
			return models.RawEntry{}, fmt.Errorf("failed to decode media of %s: %w", index, err)
		}
	}
	return models.MessageEntry(msg, false), nil
}

// Append implements Mutator.
func (s *SQLiteStore) Append(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.insertMessage(ctx, tx, msg, false); err != nil {
			return err
		}
		return s.recountUnread(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.changes.notify(history.ChangeAppended, msg.Index)
	return nil
}

// Edit implements Mutator.
func (s *SQLiteStore) Edit(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	attrs, media, err := encodePayload(msg)
	if err != nil {
		return err
	}
	err = s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE history_entries
			SET author = ?, body = ?, revision = ?, flags = ?, tags = ?, attributes = ?, media = ?
			WHERE chat = ? AND kind = ? AND ts = ? AND ns = ? AND id = ?
		`, msg.Author, msg.Text, msg.Revision, int(msg.Flags), int(msg.Tags), attrs, media,
			s.chat, int(models.EntryMessage), msg.Index.Timestamp, msg.Index.Namespace, msg.Index.ID)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("edit %s: %w", msg.Index, ErrNotFound)
		}
		return s.recountUnread(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.changes.notify(history.ChangeEdited, msg.Index)
	return nil
}

// InsertHole implements Mutator.
func (s *SQLiteStore) InsertHole(ctx context.Context, hole models.Hole) error {
	if hole.Max.Less(hole.Min) {
		return models.ErrInvertedHole
	}
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.ensureAbsent(ctx, tx, hole.Max); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history_entries (chat, ts, ns, id, kind, min_ts, min_ns, min_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.chat, hole.Max.Timestamp, hole.Max.Namespace, hole.Max.ID, int(models.EntryHole),
			hole.Min.Timestamp, hole.Min.Namespace, hole.Min.ID)
		if err != nil {
			return fmt.Errorf("failed to insert hole: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.changes.notify(history.ChangeHoleFilled, hole.Max)
	return nil
}

// FillHole implements Mutator.
func (s *SQLiteStore) FillHole(ctx context.Context, max models.MessageIndex, msgs []*models.Message) error {
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
	}
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM history_entries WHERE chat = ? AND kind = ? AND ts = ? AND ns = ? AND id = ?
		`, s.chat, int(models.EntryHole), max.Timestamp, max.Namespace, max.ID)
		if err != nil {
			return fmt.Errorf("failed to remove hole: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("fill hole %s: %w", max, ErrNotFound)
		}
		for _, msg := range msgs {
			if err := s.insertMessage(ctx, tx, msg, true); err != nil {
				return err
			}
		}
		return s.recountUnread(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.changes.notify(history.ChangeHoleFilled, max)
	return nil
}

// MarkRead implements Mutator.
func (s *SQLiteStore) MarkRead(ctx context.Context, index models.MessageIndex) (bool, error) {
	moved := false
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		moved = false
		rs, err := s.readState(ctx, tx)
		if err != nil {
			return err
		}
		if rs.MaxReadIndex != nil && !rs.MaxReadIndex.Less(index) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO read_state (chat, max_ts, max_ns, max_id) VALUES (?, ?, ?, ?)
			ON CONFLICT(chat) DO UPDATE SET max_ts = excluded.max_ts, max_ns = excluded.max_ns, max_id = excluded.max_id
		`, s.chat, index.Timestamp, index.Namespace, index.ID)
		if err != nil {
			return fmt.Errorf("failed to update read state: %w", err)
		}
		moved = true
		return s.recountUnread(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	if moved {
		s.changes.notify(history.ChangeReadState, index)
	}
	return moved, nil
}

// SetSideData implements Mutator.
func (s *SQLiteStore) SetSideData(ctx context.Context, data *models.SideData) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if data == nil {
			_, err := tx.ExecContext(ctx, `DELETE FROM side_data WHERE chat = ?`, s.chat)
			return err
		}
		admins, err := json.Marshal(data.Admins)
		if err != nil {
			return fmt.Errorf("failed to encode admins: %w", err)
		}
		var pinnedNS, pinnedID sql.NullInt64
		if data.PinnedMessage != nil {
			pinnedNS = sql.NullInt64{Int64: int64(data.PinnedMessage.Namespace), Valid: true}
			pinnedID = sql.NullInt64{Int64: data.PinnedMessage.ID, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO side_data (chat, title, chat_info, pinned_ns, pinned_id, admins) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat) DO UPDATE SET title = excluded.title, chat_info = excluded.chat_info,
				pinned_ns = excluded.pinned_ns, pinned_id = excluded.pinned_id, admins = excluded.admins
		`, s.chat, data.Title, data.ChatInfo, pinnedNS, pinnedID, string(admins))
		if err != nil {
			return fmt.Errorf("failed to store side data: %w", err)
		}
		return nil
	})
}

// ConsumeMentions clears the unseen mention tag of the given messages and
// returns how many were changed.
func (s *SQLiteStore) ConsumeMentions(ctx context.Context, ids []models.MessageID) (int, error) {
	var changed []models.MessageIndex
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		changed = changed[:0]
		for _, id := range ids {
			var ts int64
			err := tx.QueryRowContext(ctx, `
				SELECT ts FROM history_entries
				WHERE chat = ? AND kind = ? AND ns = ? AND id = ? AND (tags & ?) != 0
			`, s.chat, int(models.EntryMessage), id.Namespace, id.ID, int(models.TagUnseenMention)).Scan(&ts)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up mention %s: %w", id, err)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE history_entries SET tags = tags & ?
				WHERE chat = ? AND kind = ? AND ts = ? AND ns = ? AND id = ?
			`, ^int(models.TagUnseenMention), s.chat, int(models.EntryMessage), ts, id.Namespace, id.ID)
			if err != nil {
				return fmt.Errorf("failed to consume mention %s: %w", id, err)
			}
			changed = append(changed, models.MessageIndex{Timestamp: ts, Namespace: id.Namespace, ID: id.ID})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, index := range changed {
		s.changes.notify(history.ChangeEdited, index)
	}
	return len(changed), nil
}

// IncrementViews adds one view to each of the given messages and returns
// how many were found.
func (s *SQLiteStore) IncrementViews(ctx context.Context, ids []models.MessageID) (int, error) {
	var changed []models.MessageIndex
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		changed = changed[:0]
		for _, id := range ids {
			var (
				ts       int64
				revision int64
				attrs    sql.NullString
			)
			err := tx.QueryRowContext(ctx, `
				SELECT ts, revision, attributes FROM history_entries
				WHERE chat = ? AND kind = ? AND ns = ? AND id = ?
			`, s.chat, int(models.EntryMessage), id.Namespace, id.ID).Scan(&ts, &revision, &attrs)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up message %s: %w", id, err)
			}

			msg := models.Message{Index: models.MessageIndex{Timestamp: ts, Namespace: id.Namespace, ID: id.ID}}
			if attrs.Valid && attrs.String != "" {
				if err := json.Unmarshal([]byte(attrs.String), &msg.Attributes); err != nil {
					return fmt.Errorf("failed to decode attributes of %s: %w", msg.Index, err)
				}
			}
			bumpViewCount(&msg)
			encoded, _, err := encodePayload(&msg)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE history_entries SET attributes = ?, revision = ?
				WHERE chat = ? AND kind = ? AND ts = ? AND ns = ? AND id = ?
			`, encoded, revision+1, s.chat, int(models.EntryMessage), ts, id.Namespace, id.ID)
			if err != nil {
				return fmt.Errorf("failed to update views of %s: %w", msg.Index, err)
			}
			changed = append(changed, msg.Index)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, index := range changed {
		s.changes.notify(history.ChangeEdited, index)
	}
	return len(changed), nil
}

func bumpViewCount(msg *models.Message) {
	for i := range msg.Attributes {
		if msg.Attributes[i].Kind == models.AttributeViewCount {
			msg.Attributes[i].Count++
			return
		}
	}
	msg.Attributes = append(msg.Attributes, models.Attribute{Kind: models.AttributeViewCount, Count: 1})
}

// RequestMediaRefetch queues the given messages for a media re-fetch when
// they carry unsupported media. Messages already queued are kept as they
// are. It returns how many were newly queued.
func (s *SQLiteStore) RequestMediaRefetch(ctx context.Context, ids []models.MessageID) (int, error) {
	queued := 0
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		queued = 0
		now := time.Now().Unix()
		for _, id := range ids {
			var media sql.NullString
			err := tx.QueryRowContext(ctx, `
				SELECT media FROM history_entries
				WHERE chat = ? AND kind = ? AND ns = ? AND id = ?
			`, s.chat, int(models.EntryMessage), id.Namespace, id.ID).Scan(&media)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up message %s: %w", id, err)
			}
			msg := models.Message{}
			if media.Valid && media.String != "" {
				if err := json.Unmarshal([]byte(media.String), &msg.Media); err != nil {
					return fmt.Errorf("failed to decode media of %s: %w", id, err)
				}
			}
			if !msg.HasUnsupportedMedia() {
				continue
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO media_refetch (chat, ns, id, requested_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(chat, ns, id) DO NOTHING
			`, s.chat, id.Namespace, id.ID, now)
			if err != nil {
				return fmt.Errorf("failed to queue media refetch of %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				queued++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return queued, nil
}

// PendingRefetches lists the messages queued for a media re-fetch, oldest
// request first.
func (s *SQLiteStore) PendingRefetches(ctx context.Context) ([]models.MessageID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ns, id FROM media_refetch WHERE chat = ? ORDER BY requested_at, ns, id
	`, s.chat)
	if err != nil {
		return nil, fmt.Errorf("failed to list media refetches: %w", err)
	}
	defer rows.Close()

	var out []models.MessageID
	for rows.Next() {
		var id models.MessageID
		if err := rows.Scan(&id.Namespace, &id.ID); err != nil {
			return nil, fmt.Errorf("failed to scan media refetch: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Stats returns entry counts and the read state.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0)
		FROM history_entries WHERE chat = ?
	`, int(models.EntryMessage), int(models.EntryHole), s.chat).Scan(&stats.Messages, &stats.Holes)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count history entries: %w", err)
	}
	stats.ReadState, err = s.readState(ctx, s.db)
	return stats, err
}

func (s *SQLiteStore) insertMessage(ctx context.Context, q querier, msg *models.Message, ignoreDuplicate bool) error {
	attrs, media, err := encodePayload(msg)
	if err != nil {
		return err
	}
	if err := s.ensureAbsent(ctx, q, msg.Index); err != nil {
		if ignoreDuplicate && errors.Is(err, ErrDuplicate) {
			return nil
		}
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO history_entries (chat, ts, ns, id, kind, author, body, revision, flags, tags, attributes, media)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.chat, msg.Index.Timestamp, msg.Index.Namespace, msg.Index.ID, int(models.EntryMessage),
		msg.Author, msg.Text, msg.Revision, int(msg.Flags), int(msg.Tags), attrs, media)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureAbsent(ctx context.Context, q querier, index models.MessageIndex) error {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM history_entries WHERE chat = ? AND ts = ? AND ns = ? AND id = ?
	`, s.chat, index.Timestamp, index.Namespace, index.ID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check entry %s: %w", index, err)
	}
	if n > 0 {
		return fmt.Errorf("insert %s: %w", index, ErrDuplicate)
	}
	return nil
}

func (s *SQLiteStore) recountUnread(ctx context.Context, q querier) error {
	rs, err := s.readState(ctx, q)
	if err != nil {
		return err
	}
	stmt := `SELECT COUNT(*) FROM history_entries WHERE chat = ? AND kind = ? AND (flags & ?) != 0`
	args := []any{s.chat, int(models.EntryMessage), int(models.FlagIncoming)}
	if rs.MaxReadIndex != nil {
		stmt += ` AND (ts, ns, id) > (?, ?, ?)`
		args = append(args, indexArgs(*rs.MaxReadIndex)...)
	}
	var count int
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return fmt.Errorf("failed to count unread messages: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO read_state (chat, unread_count) VALUES (?, ?)
		ON CONFLICT(chat) DO UPDATE SET unread_count = excluded.unread_count
	`, s.chat, count)
	if err != nil {
		return fmt.Errorf("failed to update unread count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) readState(ctx context.Context, q querier) (models.ReadState, error) {
	var (
		maxTS, maxID sql.NullInt64
		maxNS        sql.NullInt32
		rs           models.ReadState
	)
	err := q.QueryRowContext(ctx, `
		SELECT max_ts, max_ns, max_id, unread_count FROM read_state WHERE chat = ?
	`, s.chat).Scan(&maxTS, &maxNS, &maxID, &rs.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadState{}, nil
	}
	if err != nil {
		return models.ReadState{}, fmt.Errorf("failed to load read state: %w", err)
	}
	if maxTS.Valid {
		rs.MaxReadIndex = &models.MessageIndex{Timestamp: maxTS.Int64, Namespace: maxNS.Int32, ID: maxID.Int64}
	}
	return rs, nil
}

func (s *SQLiteStore) sideData(ctx context.Context, q querier) (*models.SideData, error) {
	var (
		data               models.SideData
		pinnedNS, pinnedID sql.NullInt64
		admins             sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT title, chat_info, pinned_ns, pinned_id, admins FROM side_data WHERE chat = ?
	`, s.chat).Scan(&data.Title, &data.ChatInfo, &pinnedNS, &pinnedID, &admins)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load side data: %w", err)
	}
	if pinnedNS.Valid && pinnedID.Valid {
		data.PinnedMessage = &models.MessageID{Namespace: int32(pinnedNS.Int64), ID: pinnedID.Int64}
	}
	if admins.Valid && admins.String != "" {
		if err := json.Unmarshal([]byte(admins.String), &data.Admins); err != nil {
			return nil, fmt.Errorf("failed to decode admins: %w", err)
		}
	}
	return &data, nil
}

func (s *SQLiteStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.retry.run(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func encodePayload(msg *models.Message) (sql.NullString, sql.NullString, error) {
	var attrs, media sql.NullString
	if len(msg.Attributes) > 0 {
		data, err := json.Marshal(msg.Attributes)
		if err != nil {
			return attrs, media, fmt.Errorf("failed to encode attributes: %w", err)
		}
		attrs = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.Media) > 0 {
		data, err := json.Marshal(msg.Media)
		if err != nil {
			return attrs, media, fmt.Errorf("failed to encode media: %w", err)
		}
		media = sql.NullString{String: string(data), Valid: true}
	}
	return attrs, media, nil
}

func indexArgs(index models.MessageIndex) []any {
	return []any{index.Timestamp, index.Namespace, index.ID}
}
