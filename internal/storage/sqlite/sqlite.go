// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
//
// Local databases use the pure Go modernc driver. DSNs starting with
// libsql:// (or https://) are opened with the libSQL client instead, so the
// same schema can live on a remote Turso database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Remote libSQL driver
	moderncsqlite "modernc.org/sqlite"                    // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// busyTimeout bounds how long a writer waits for the database lock before
// the driver reports SQLITE_BUSY.
const busyTimeout = 5 * time.Second

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore for a local database file.
// It creates the parent directories and runs migrations automatically.
//
// Every transaction starts with BEGIN IMMEDIATE so that concurrent writers
// queue on the database lock instead of failing at commit time.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return open(db)
}

// NewLibSQL creates a SQLiteStore backed by a remote libSQL database.
// authToken may be empty for local sqld instances.
func NewLibSQL(url, authToken string) (*SQLiteStore, error) {
	dsn := url
	if authToken != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		dsn = url + sep + "authToken=" + authToken
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}

	return open(db)
}

// IsRemote reports whether dsn names a libSQL server rather than a file.
func IsRemote(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") ||
		strings.HasPrefix(dsn, "https://") ||
		strings.HasPrefix(dsn, "http://")
}

func open(db *sql.DB) (*SQLiteStore, error) {
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBill persists a new bill with its items and participants.
func (s *SQLiteStore) CreateBill(ctx context.Context, bill *models.Bill) error {
	if bill.ID == "" {
		bill.ID = uuid.New().String()
	}
	if bill.CreatedAt == 0 {
		bill.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO bills (id, currency, locked, organizer_key_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		bill.ID, bill.Currency, bill.Locked, bill.OrganizerKeyHash, bill.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}

	for i := range bill.Items {
		item := &bill.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.BillID = bill.ID

		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (id, bill_id, position, name, category, type, unit_price, quantity, pool_reserved, confidence, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, bill.ID, i, item.Name, string(item.Category), string(item.Type),
			item.UnitPrice.String(), item.Quantity, item.PoolReserved, item.Confidence, item.Notes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}

	for i := range bill.Participants {
		p := &bill.Participants[i]
		p.BillID = bill.ID
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBill retrieves a bill by ID, including all items and participants.
func (s *SQLiteStore) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	return getBill(ctx, s.db, billID)
}

// LockBill sets the locked flag. Item transactions read the flag inside
// their own transaction, so a lock is never overtaken by a pending mutation.
func (s *SQLiteStore) LockBill(ctx context.Context, billID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE bills SET locked = 1 WHERE id = ?", billID)
	if err != nil {
		return fmt.Errorf("failed to lock bill: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to lock bill: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: bill %s", storage.ErrNotFound, billID)
	}
	return nil
}

// AddParticipant persists a participant on an existing, open bill. The
// locked flag is read in the same transaction as the insert.
func (s *SQLiteStore) AddParticipant(ctx context.Context, participant *models.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer tx.Rollback()

	var locked bool
	err = tx.QueryRowContext(ctx, "SELECT locked FROM bills WHERE id = ?", participant.BillID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: bill %s", storage.ErrNotFound, participant.BillID)
	}
	if err != nil {
		return fmt.Errorf("failed to read bill: %w", translate(err))
	}
	if locked {
		return fmt.Errorf("%w: bill %s", storage.ErrBillLocked, participant.BillID)
	}

	if err := insertParticipant(ctx, tx, participant); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// GetParticipant retrieves a participant by ID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, bill_id, name, is_payer, created_at FROM participants WHERE id = ?",
		participantID,
	).Scan(&p.ID, &p.BillID, &p.Name, &p.IsPayer, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: participant %s", storage.ErrNotFound, participantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO participants (id, bill_id, name, is_payer, created_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.BillID, p.Name, p.IsPayer, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", translate(err))
	}
	return nil
}

func getBill(ctx context.Context, q querier, billID string) (*models.Bill, error) {
	bill := &models.Bill{}
	err := q.QueryRowContext(ctx,
		"SELECT id, currency, locked, organizer_key_hash, created_at FROM bills WHERE id = ?",
		billID,
	).Scan(&bill.ID, &bill.Currency, &bill.Locked, &bill.OrganizerKeyHash, &bill.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bill %s", storage.ErrNotFound, billID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}

	itemRows, err := q.QueryContext(ctx,
		`SELECT id, bill_id, name, category, type, unit_price, quantity, pool_reserved, confidence, notes
		 FROM items WHERE bill_id = ? ORDER BY position`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item models.Item
		if err := scanItem(itemRows, &item); err != nil {
			return nil, err
		}
		bill.Items = append(bill.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT id, bill_id, name, is_payer, created_at FROM participants WHERE bill_id = ? ORDER BY created_at, rowid",
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.BillID, &p.Name, &p.IsPayer, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		bill.Participants = append(bill.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	return bill, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner, item *models.Item) error {
	var category, itemType string
	err := row.Scan(&item.ID, &item.BillID, &item.Name, &category, &itemType,
		&item.UnitPrice, &item.Quantity, &item.PoolReserved, &item.Confidence, &item.Notes)
	if err != nil {
		return fmt.Errorf("failed to scan item: %w", err)
	}
	item.Category = models.ItemCategory(category)
	item.Type = models.ItemType(itemType)
	return nil
}

// translate maps lock contention to storage.ErrConflict. Both drivers report
// it as SQLITE_BUSY or SQLITE_LOCKED; the libSQL client only exposes it in
// the message text.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}
