package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = "id, job_type, status, start_time, end_time, parameters"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job      Job
		kind     string
		status   string
		startRaw string
		endRaw   sql.NullString
		params   sql.NullString
	)
	if err := scanner.Scan(&job.ID, &kind, &status, &startRaw, &endRaw, &params); err != nil {
		return nil, err
	}
	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	job.Parameters = params.String
	if start, err := parseTimeString(startRaw); err == nil {
		job.StartTime = start
	}
	if endRaw.Valid {
		if end, err := parseTimeString(endRaw.String); err == nil {
			job.EndTime = &end
		}
	}
	return &job, nil
}

const itemColumns = "id, job_id, asin, status, log, updated_at"

func scanJobItem(scanner rowScanner) (*JobItem, error) {
	var (
		item       JobItem
		status     string
		logText    sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(&item.ID, &item.JobID, &item.ASIN, &status, &logText, &updatedRaw); err != nil {
		return nil, err
	}
	item.Status = ItemStatus(status)
	item.Log = logText.String
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

const bookColumns = "asin, title, author, narrator, series, series_part, runtime_min, release_date, cover_url, status, retry_count, filepath, error_message, date_added, updated_at"

func scanBook(scanner rowScanner) (*Book, error) {
	var (
		book        Book
		narrator    sql.NullString
		series      sql.NullString
		seriesPart  sql.NullString
		releaseDate sql.NullString
		coverURL    sql.NullString
		status      string
		filepath    sql.NullString
		errorMsg    sql.NullString
		addedRaw    string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&book.ASIN, &book.Title, &book.Author, &narrator, &series, &seriesPart,
		&book.RuntimeMin, &releaseDate, &coverURL, &status, &book.RetryCount,
		&filepath, &errorMsg, &addedRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	book.Narrator = narrator.String
	book.Series = series.String
	book.SeriesPart = seriesPart.String
	book.ReleaseDate = releaseDate.String
	book.CoverURL = coverURL.String
	book.Status = BookStatus(status)
	book.Filepath = filepath.String
	book.ErrorMessage = errorMsg.String
	if added, err := parseTimeString(addedRaw); err == nil {
		book.DateAdded = added
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		book.UpdatedAt = updated
	}
	return &book, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func stringArgs[T ~string](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return args
}
