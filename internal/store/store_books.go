package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertBook inserts a new book as NEW or refreshes the catalogue metadata of
// an existing one. Status, retry count, and file path are left untouched on
// update. It reports whether the row was inserted.
func (s *Store) UpsertBook(ctx context.Context, book Book) (bool, error) {
	if book.ASIN == "" {
		return false, fmt.Errorf("upsert book: asin is required")
	}
	ctx = ensureContext(ctx)
	now := nowString()
	inserted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM audiobooks WHERE asin = ?`, book.ASIN).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			status := book.Status
			if status == "" {
				status = BookNew
			}
			added := now
			if !book.DateAdded.IsZero() {
				added = formatTime(book.DateAdded)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO audiobooks (asin, title, author, narrator, series, series_part, runtime_min,
					release_date, cover_url, status, retry_count, filepath, error_message, date_added, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, NULL, ?, ?)`,
				book.ASIN, book.Title, book.Author, nullableString(book.Narrator), nullableString(book.Series),
				nullableString(book.SeriesPart), book.RuntimeMin, nullableString(book.ReleaseDate),
				nullableString(book.CoverURL), string(status), nullableString(book.Filepath), added, now,
			)
			inserted = err == nil
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE audiobooks SET title = ?, author = ?, narrator = ?, series = ?, series_part = ?,
				runtime_min = ?, release_date = ?, cover_url = COALESCE(?, cover_url), updated_at = ?
			WHERE asin = ?`,
			book.Title, book.Author, nullableString(book.Narrator), nullableString(book.Series),
			nullableString(book.SeriesPart), book.RuntimeMin, nullableString(book.ReleaseDate),
			nullableString(book.CoverURL), now, book.ASIN,
		)
		return err
	})
	if err != nil {
		return false, storageError("upsert book", err)
	}
	return inserted, nil
}

// GetBook returns nil, nil when the book does not exist.
func (s *Store) GetBook(ctx context.Context, asin string) (*Book, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+bookColumns+` FROM audiobooks WHERE asin = ?`, asin)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get book", err)
	}
	return book, nil
}

// ListBooks returns books ordered by title, optionally filtered by status.
func (s *Store) ListBooks(ctx context.Context, statuses ...BookStatus) ([]*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM audiobooks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = stringArgs(statuses)
	}
	query += ` ORDER BY title ASC, asin ASC`
	return s.queryBooks(ctx, query, args...)
}

// BooksForAutoJob selects the books an automatic download job should process,
// ordered by title.
func (s *Store) BooksForAutoJob(ctx context.Context, sel AutoSelection) ([]*Book, error) {
	var (
		clauses []string
		args    []any
	)
	if sel.New {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(BookNew))
	}
	if sel.Missing {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(BookMissing))
	}
	if sel.Error {
		clauses = append(clauses, `(status = ? AND retry_count = 0)`)
		args = append(args, string(BookError))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	where := clauses[0]
	for _, clause := range clauses[1:] {
		where += ` OR ` + clause
	}
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM audiobooks WHERE `+where+` ORDER BY title ASC, asin ASC`, args...)
}

// DownloadedBooks returns every book currently marked DOWNLOADED.
func (s *Store) DownloadedBooks(ctx context.Context) ([]*Book, error) {
	return s.ListBooks(ctx, BookDownloaded)
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]*Book, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, storageError("list books", err)
	}
	defer rows.Close()
	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, storageError("scan book", err)
		}
		books = append(books, book)
	}
	return books, storageError("list books", rows.Err())
}

// MarkBookError records a pipeline failure and increments retry_count so the
// automatic selection stops retrying the book.
func (s *Store) MarkBookError(ctx context.Context, asin, message string) error {
	_, err := s.execWithRetry(ctx, `
		UPDATE audiobooks SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE asin = ?`, string(BookError), message, nowString(), asin)
	return storageError("mark book error", err)
}

// MarkBookDownloaded records a successful conversion.
func (s *Store) MarkBookDownloaded(ctx context.Context, asin, path string) error {
	_, err := s.execWithRetry(ctx, `
		UPDATE audiobooks SET status = ?, filepath = ?, error_message = '', retry_count = 0, updated_at = ?
		WHERE asin = ?`, string(BookDownloaded), path, nowString(), asin)
	return storageError("mark book downloaded", err)
}

// MarkBookMissing flags a downloaded book whose file disappeared.
func (s *Store) MarkBookMissing(ctx context.Context, asin string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE audiobooks SET status = ?, filepath = NULL, updated_at = ? WHERE asin = ?`,
		string(BookMissing), nowString(), asin)
	return storageError("mark book missing", err)
}

// BookStats counts books per status. Every known status is present in the map.
func (s *Store) BookStats(ctx context.Context) (map[BookStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM audiobooks GROUP BY status`)
	if err != nil {
		return nil, storageError("book stats", err)
	}
	defer rows.Close()
	stats := make(map[BookStatus]int, len(AllBookStatuses))
	for _, status := range AllBookStatuses {
		stats[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storageError("book stats", err)
		}
		stats[BookStatus(status)] = count
	}
	return stats, storageError("book stats", rows.Err())
}
