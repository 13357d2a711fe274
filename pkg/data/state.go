package data

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var (
	stateQueries = map[string]string{
		"epss":    "SELECT COUNT(*) FROM epss",
		"kev":     "SELECT COUNT(*) FROM kev",
		"imports": "SELECT COUNT(*) FROM import_history",
	}

	insertImport = `INSERT INTO import_history (source, file, records, model_version, score_date)
		VALUES (?, ?, ?, ?, ?)`

	selectImports = `SELECT source, file, records, COALESCE(model_version, ''), COALESCE(score_date, ''), imported_at
		FROM import_history
		ORDER BY id DESC
		LIMIT ?`
)

// ImportResult describes one feed import.
type ImportResult struct {
	Source       string `json:"source" yaml:"source"`
	File         string `json:"file" yaml:"file"`
	Records      int    `json:"records" yaml:"records"`
	ModelVersion string `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	ScoreDate    string `json:"score_date,omitempty" yaml:"score_date,omitempty"`
	ImportedAt   string `json:"imported_at,omitempty" yaml:"imported_at,omitempty"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveImport(ctx context.Context, db execer, res *ImportResult) error {
	if res == nil {
		return errors.New("import result required")
	}
	if _, err := db.ExecContext(ctx, insertImport, res.Source, res.File, res.Records, res.ModelVersion, res.ScoreDate); err != nil {
		return errors.Wrap(err, "failed to record import")
	}
	return nil
}

// GetImportHistory returns the most recent imports, newest first.
func GetImportHistory(ctx context.Context, db *sql.DB, limit int) ([]*ImportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.QueryContext(ctx, selectImports, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query import history")
	}
	defer rows.Close()

	list := make([]*ImportResult, 0)
	for rows.Next() {
		r := &ImportResult{}
		if err := rows.Scan(&r.Source, &r.File, &r.Records, &r.ModelVersion, &r.ScoreDate, &r.ImportedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan import row")
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate import rows")
	}
	return list, nil
}

// GetDataState returns the row counts of the feed tables.
func GetDataState(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64)
	for k, v := range stateQueries {
		var count int64
		if err := db.QueryRowContext(ctx, v).Scan(&count); err != nil {
			return nil, errors.Wrapf(err, "error getting %s count", k)
		}
		state[k] = count
	}

	return state, nil
}
