// Package sqlite provides the SQLite-backed game store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Seednode/cardparty/internal/storage"
	"github.com/Seednode/cardparty/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists rooms, players, content and power card usage in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; transactions never wait on each other for locks.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// PutUser inserts or updates a user record. Win/loss counters are preserved
// on update.
func (s *Store) PutUser(ctx context.Context, user storage.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(user.Username) == "" {
		return fmt.Errorf("username is required")
	}
	role := user.Role
	if role == "" {
		role = storage.RolePlayer
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, username, role, wins, losses) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username, role = excluded.role`,
		user.ID, user.Username, string(role), user.Wins, user.Losses,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (storage.User, error) {
	var user storage.User
	var role string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, role, wins, losses FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Username, &role, &user.Wins, &user.Losses)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.Role = storage.Role(role)
	return user, nil
}

// PutCategory inserts a category and replaces its localized metadata.
func (s *Store) PutCategory(ctx context.Context, category storage.Category) error {
	if strings.TrimSpace(category.ID) == "" {
		return fmt.Errorf("category id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put category: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO categories (id) VALUES (?)`, category.ID); err != nil {
		return fmt.Errorf("put category: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM category_locales WHERE category_id = ?`, category.ID); err != nil {
		return fmt.Errorf("clear category locales: %w", err)
	}
	for locale, text := range category.Locales {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_locales (category_id, locale, name, description) VALUES (?, ?, ?, ?)`,
			category.ID, locale, text.Name, text.Description,
		); err != nil {
			return fmt.Errorf("put category locale %s: %w", locale, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put category: %w", err)
	}
	return nil
}

// GetCategory returns one category with all of its locales.
func (s *Store) GetCategory(ctx context.Context, id string) (storage.Category, error) {
	var found string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM categories WHERE id = ?`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Category{}, storage.ErrNotFound
		}
		return storage.Category{}, fmt.Errorf("get category: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT locale, name, description FROM category_locales WHERE category_id = ?`, id,
	)
	if err != nil {
		return storage.Category{}, fmt.Errorf("list category locales: %w", err)
	}
	defer rows.Close()

	category := storage.Category{ID: found, Locales: make(map[string]storage.CategoryText)}
	for rows.Next() {
		var locale string
		var text storage.CategoryText
		if err := rows.Scan(&locale, &text.Name, &text.Description); err != nil {
			return storage.Category{}, fmt.Errorf("scan category locale: %w", err)
		}
		category.Locales[locale] = text
	}
	if err := rows.Err(); err != nil {
		return storage.Category{}, fmt.Errorf("list category locales: %w", err)
	}
	return category, nil
}

// PutCard inserts or updates a card.
func (s *Store) PutCard(ctx context.Context, card storage.Card) error {
	if strings.TrimSpace(card.ID) == "" || strings.TrimSpace(card.CategoryID) == "" {
		return fmt.Errorf("card id and category id are required")
	}
	cardType := card.Type
	if cardType == "" {
		cardType = storage.CardRegular
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cards (id, category_id, text, card_type) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET category_id = excluded.category_id, text = excluded.text, card_type = excluded.card_type`,
		card.ID, card.CategoryID, card.Text, string(cardType),
	)
	if err != nil {
		return fmt.Errorf("put card: %w", err)
	}
	return nil
}

// RegularCardIDs returns the ids of every regular card in a category, in id
// order. Power cards never enter a deck.
func (s *Store) RegularCardIDs(ctx context.Context, categoryID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM cards WHERE category_id = ? AND card_type = ? ORDER BY id`,
		categoryID, string(storage.CardRegular),
	)
	if err != nil {
		return nil, fmt.Errorf("list regular cards: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list regular cards: %w", err)
	}
	return ids, nil
}

// CardsByIDs returns the cards with the given ids in the order requested.
// Unknown ids are skipped.
func (s *Store) CardsByIDs(ctx context.Context, ids []string) ([]storage.Card, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, category_id, text, card_type FROM cards WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]storage.Card, len(ids))
	for rows.Next() {
		var card storage.Card
		var cardType string
		if err := rows.Scan(&card.ID, &card.CategoryID, &card.Text, &cardType); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		card.Type = storage.CardType(cardType)
		byID[card.ID] = card
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	cards := make([]storage.Card, 0, len(ids))
	for _, id := range ids {
		if card, ok := byID[id]; ok {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

// PutQuestion inserts or updates a question.
func (s *Store) PutQuestion(ctx context.Context, question storage.Question) error {
	if strings.TrimSpace(question.ID) == "" || strings.TrimSpace(question.CategoryID) == "" {
		return fmt.Errorf("question id and category id are required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO questions (id, category_id, text) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET category_id = excluded.category_id, text = excluded.text`,
		question.ID, question.CategoryID, question.Text,
	)
	if err != nil {
		return fmt.Errorf("put question: %w", err)
	}
	return nil
}

// ListQuestions returns every question of a category.
func (s *Store) ListQuestions(ctx context.Context, categoryID string) ([]storage.Question, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, category_id, text FROM questions WHERE category_id = ? ORDER BY id`, categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []storage.Question
	for rows.Next() {
		var q storage.Question
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.Text); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
