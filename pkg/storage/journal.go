// Package storage keeps a local sqlite journal of chat lines and
// file-transfer outcomes seen by the node.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// DefaultRetention is how long journal rows are kept
const DefaultRetention = 7 * 24 * time.Hour

// Direction of a journaled event relative to this node
type Direction string

const (
	Incoming Direction = "in"
	Outgoing Direction = "out"
)

// ChatRecord is one private or global chat line
type ChatRecord struct {
	ID          string    `json:"id"`
	MessageID   uint32    `json:"message_id"`
	Direction   Direction `json:"direction"`
	Global      bool      `json:"global"`
	Sender      string    `json:"sender"`
	Fingerprint string    `json:"fingerprint"`
	Recipient   string    `json:"recipient"`
	PeerAddress string    `json:"peer_address"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// TransferRecord is the final outcome of a file transfer
type TransferRecord struct {
	ID         string    `json:"id"`
	TransferID uint32    `json:"transfer_id"`
	Direction  Direction `json:"direction"`
	Filename   string    `json:"filename"`
	Success    bool      `json:"success"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal is the sqlite-backed history store
type Journal struct {
	db        *sql.DB
	retention time.Duration
}

// OpenJournal opens (or creates) the journal at dbPath.
// A zero retention keeps rows for DefaultRetention.
func OpenJournal(dbPath string, retention time.Duration) (*Journal, error) {
	if retention == 0 {
		retention = DefaultRetention
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	j := &Journal{db: db, retention: retention}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		is_global INTEGER NOT NULL,
		sender TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		recipient TEXT NOT NULL,
		peer_address TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		UNIQUE (message_id, direction)
	);

	CREATE INDEX IF NOT EXISTS idx_chat_recorded ON chat_messages(recorded_at);

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		transfer_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		filename TEXT NOT NULL,
		success INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_recorded ON transfers(recorded_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordMessage stores a chat line. A repeat of the same message id and
// direction is ignored and reports false.
func (j *Journal) RecordMessage(rec *ChatRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	query := `
		INSERT OR IGNORE INTO chat_messages
			(id, message_id, direction, is_global, sender, fingerprint, recipient, peer_address, content, sent_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := j.db.Exec(query, rec.ID, rec.MessageID, string(rec.Direction), rec.Global,
		rec.Sender, rec.Fingerprint, rec.Recipient, rec.PeerAddress, rec.Content,
		rec.SentAt.Unix(), rec.RecordedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to record message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record message: %w", err)
	}
	return n == 1, nil
}

// GetMessage looks a chat line up by record id
func (j *Journal) GetMessage(id string) (*ChatRecord, error) {
	row := j.db.QueryRow(`
		SELECT id, message_id, direction, is_global, sender, fingerprint, recipient, peer_address, content, sent_at, recorded_at
		FROM chat_messages WHERE id = ?
	`, id)

	rec, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// RecentMessages returns up to limit chat lines, newest first
func (j *Journal) RecentMessages(limit int) ([]*ChatRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, message_id, direction, is_global, sender, fingerprint, recipient, peer_address, content, sent_at, recorded_at
		FROM chat_messages ORDER BY recorded_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*ChatRecord
	for rows.Next() {
		rec, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(s scanner) (*ChatRecord, error) {
	var (
		rec        ChatRecord
		direction  string
		sentAt     int64
		recordedAt int64
	)
	err := s.Scan(&rec.ID, &rec.MessageID, &direction, &rec.Global, &rec.Sender, &rec.Fingerprint,
		&rec.Recipient, &rec.PeerAddress, &rec.Content, &sentAt, &recordedAt)
	if err != nil {
		return nil, err
	}
	rec.Direction = Direction(direction)
	rec.SentAt = time.Unix(sentAt, 0)
	rec.RecordedAt = time.UnixMilli(recordedAt)
	return &rec, nil
}

// RecordTransfer stores a transfer outcome
func (j *Journal) RecordTransfer(rec *TransferRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO transfers (id, transfer_id, direction, filename, success, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.TransferID, string(rec.Direction), rec.Filename, rec.Success, rec.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// RecentTransfers returns up to limit transfer outcomes, newest first
func (j *Journal) RecentTransfers(limit int) ([]*TransferRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, transfer_id, direction, filename, success, recorded_at
		FROM transfers ORDER BY recorded_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []*TransferRecord
	for rows.Next() {
		var (
			rec        TransferRecord
			direction  string
			recordedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.TransferID, &direction, &rec.Filename, &rec.Success, &recordedAt); err != nil {
			return nil, err
		}
		rec.Direction = Direction(direction)
		rec.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention window
func (j *Journal) Prune() (int64, error) {
	cutoff := time.Now().Add(-j.retention).UnixMilli()

	var total int64
	for _, table := range []string{"chat_messages", "transfers"} {
		res, err := j.db.Exec("DELETE FROM "+table+" WHERE recorded_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if total > 0 {
		log.Printf("🧹 Pruned %d journal rows", total)
	}
	return total, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
