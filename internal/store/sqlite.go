package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	appendMaxRetries = 3
	appendBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	ordering appendLock
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	last, err := s.lastTimestamp()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ordering.clock = newMonotonicClock(last)

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'AVAILABLE',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		pair_key TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(pair_key, created_at, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) lastTimestamp() (time.Time, error) {
	var last sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(created_at) FROM messages`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("read last message timestamp: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, last.Int64).UTC(), nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.Status == "" {
		user.Status = domain.StatusAvailable
	}
	query := `
	INSERT INTO users (user_id, email, password_hash, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, string(user.Status),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if shared.IsSQLiteUniqueError(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, email, password_hash, status, created_at, updated_at
		FROM users WHERE user_id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT user_id, email, password_hash, status, created_at, updated_at
		FROM users WHERE email = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Status = domain.Status(status)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpdateStatus overwrites the presence status for a user.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, userID string, status domain.Status) error {
	query := `UPDATE users SET status = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Append records a message. SQLITE_BUSY is retried with exponential backoff;
// any other failure, or exhausting the retries, is returned to the caller.
func (s *SQLiteStore) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	s.ordering.mu.Lock()
	defer s.ordering.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = s.ordering.clock.next()

	var lastErr error
	for i := 0; i < appendMaxRetries; i++ {
		seq, err := s.insertMessage(ctx, msg)
		if err == nil {
			s.ordering.clock.commit(msg.Timestamp)
			msg.Seq = seq
			return msg, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == appendMaxRetries-1 {
			break
		}

		delay := appendBaseDelay * time.Duration(1<<i)
		slog.Debug("Append failed with SQLITE_BUSY, retrying",
			"message_id", msg.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return domain.Message{}, fmt.Errorf("append message: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return domain.Message{}, fmt.Errorf("append message: %w", lastErr)
}

func (s *SQLiteStore) insertMessage(ctx context.Context, msg domain.Message) (int64, error) {
	query := `
	INSERT INTO messages (message_id, pair_key, sender_id, recipient_id, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID, domain.PairKey(msg.Sender, msg.Recipient),
		msg.Sender, msg.Recipient, msg.Content, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get message seq: %w", err)
	}
	return seq, nil
}

// Query returns the conversation between a and b, oldest first.
func (s *SQLiteStore) Query(ctx context.Context, a, b string) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		query := `
			SELECT seq, message_id, sender_id, recipient_id, content, created_at
			FROM messages WHERE pair_key = ?
			ORDER BY created_at ASC, seq ASC`

		rows, err := s.db.QueryContext(ctx, query, domain.PairKey(a, b))
		if err != nil {
			yield(domain.Message{}, fmt.Errorf("query messages: %w", err))
			return
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				slog.Warn("failed to close message rows", "error", closeErr)
			}
		}()

		for rows.Next() {
			var msg domain.Message
			var createdAt int64
			if err := rows.Scan(&msg.Seq, &msg.ID, &msg.Sender, &msg.Recipient, &msg.Content, &createdAt); err != nil {
				yield(domain.Message{}, fmt.Errorf("scan message row: %w", err))
				return
			}
			msg.Timestamp = time.Unix(0, createdAt).UTC()
			if !yield(msg, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(domain.Message{}, fmt.Errorf("iterate messages: %w", err))
		}
	}
}
