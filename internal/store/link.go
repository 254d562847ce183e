package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/shortlink/internal/model"
)

// LinkStore is the link repository. The unique index on code is the final
// arbiter for concurrent allocations: callers probe with CodeExists, but only
// a successful Create or Update proves the code was free.
type LinkStore struct {
	db *sql.DB
}

func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

func scanLink(scanner interface{ Scan(...any) error }) (*model.Link, error) {
	var l model.Link
	var archived int
	err := scanner.Scan(
		&l.ID, &l.AccountID, &l.OriginalURL, &l.Code, &l.Clicks,
		&archived, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Archived = archived != 0
	return &l, nil
}

const linkCols = `id, account_id, original_url, code, clicks, archived, created_at, updated_at`

// Create inserts a link. A taken code yields ErrCodeTaken.
func (s *LinkStore) Create(ctx context.Context, accountID, originalURL, code string) (*model.Link, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO links (id, account_id, original_url, code) VALUES (?, ?, ?, ?)`,
		id, accountID, originalURL, code,
	)
	if uniqueViolation(err, "links.code") {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return s.GetByID(ctx, id)
}

// CreateWithinLimit inserts a link only while the account owns fewer than
// limit links, archived included. Count and insert are one statement, so
// concurrent creates cannot overshoot the limit. A full account yields
// ErrLimitReached and a taken code ErrCodeTaken.
func (s *LinkStore) CreateWithinLimit(ctx context.Context, accountID, originalURL, code string, limit int) (*model.Link, error) {
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO links (id, account_id, original_url, code)
		 SELECT ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM links WHERE account_id = ?) < ?`,
		id, accountID, originalURL, code, accountID, limit,
	)
	if uniqueViolation(err, "links.code") {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	if n == 0 {
		return nil, ErrLimitReached
	}
	return s.GetByID(ctx, id)
}

func (s *LinkStore) GetByID(ctx context.Context, id string) (*model.Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkCols+` FROM links WHERE id = ?`, id)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// GetByCode returns the link holding code, archived or not.
func (s *LinkStore) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkCols+` FROM links WHERE code = ?`, code)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link by code: %w", err)
	}
	return l, nil
}

func (s *LinkStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM links WHERE code = ?`, code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe code: %w", err)
	}
	return true, nil
}

// Resolve increments the click counter of the active link holding code and
// returns it, or nil if there is no such active link.
func (s *LinkStore) Resolve(ctx context.Context, code string) (*model.Link, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE links SET clicks = clicks + 1 WHERE code = ? AND archived = 0 RETURNING `+linkCols,
		code,
	)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve link: %w", err)
	}
	return l, nil
}

// ListByAccount returns the account's links with the given archived state,
// newest first.
func (s *LinkStore) ListByAccount(ctx context.Context, accountID string, archived bool) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkCols+` FROM links WHERE account_id = ? AND archived = ? ORDER BY created_at DESC, rowid DESC`,
		accountID, boolToInt(archived),
	)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// CountByAccount counts every link the account owns, archived included.
func (s *LinkStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}

// Update changes the target and code of a link. A taken code yields
// ErrCodeTaken.
func (s *LinkStore) Update(ctx context.Context, id, originalURL, code string) (*model.Link, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE links SET original_url = ?, code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		originalURL, code, id,
	)
	if uniqueViolation(err, "links.code") {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("update link: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Archive sets the archived flag. There is no way back.
func (s *LinkStore) Archive(ctx context.Context, id string) (*model.Link, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE links SET archived = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("archive link: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *LinkStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// DeleteByAccount removes every link of the account and returns how many
// were removed.
func (s *LinkStore) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete account links: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// DeleteArchivedByAccount removes the account's archived links.
func (s *LinkStore) DeleteArchivedByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE account_id = ? AND archived = 1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete archived links: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
