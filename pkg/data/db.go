package data

import (
	"database/sql"
	"embed"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "data.db"
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")

	// ErrNotFound is returned when a lookup has no row for the identifier.
	ErrNotFound = errors.New("not found")
)

// Init creates the database schema at dbFilePath when it is missing.
func Init(dbFilePath string) error {
	if dbFilePath == "" {
		return errors.New("dbFilePath not specified")
	}

	db, err := GetDB(dbFilePath)
	if err != nil {
		return errors.Wrapf(err, "error opening database: %s", dbFilePath)
	}
	defer db.Close()

	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read the schema creation file")
	}
	if _, err := db.Exec(string(b)); err != nil {
		return errors.Wrapf(err, "failed to create database schema in: %s", dbFilePath)
	}

	slog.Debug("db schema ready", "path", dbFilePath)
	return nil
}

func GetDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", path)
	}
	return conn, nil
}

// normalizeID trims and upper-cases a CVE identifier.
func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
