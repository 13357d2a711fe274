package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

const (
	SourceKEV = "kev"

	insertKEV = `INSERT INTO kev (cve_id, vendor_project, product, date_added, ransomware_use)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET
			vendor_project = excluded.vendor_project,
			product = excluded.product,
			date_added = excluded.date_added,
			ransomware_use = excluded.ransomware_use`

	selectKEVIDs  = `SELECT cve_id FROM kev`
	deleteAllKEV  = `DELETE FROM kev`
	selectKEVByID = `SELECT 1 FROM kev WHERE cve_id = ?`
)

// KEVCatalog is the known exploited vulnerabilities catalog.
type KEVCatalog struct {
	CatalogVersion  string      `json:"catalogVersion"`
	DateReleased    string      `json:"dateReleased"`
	Count           int         `json:"count"`
	Vulnerabilities []*KEVEntry `json:"vulnerabilities"`
}

// KEVEntry is one catalog entry. JSON field matching is case insensitive,
// so both "cveID" and "cveId" spellings decode into CVEID.
type KEVEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	DateAdded                  string `json:"dateAdded"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// ParseKEV decodes a KEV catalog and drops entries without an identifier.
func ParseKEV(r io.Reader) (*KEVCatalog, error) {
	var c KEVCatalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "error decoding KEV catalog")
	}

	list := make([]*KEVEntry, 0, len(c.Vulnerabilities))
	for _, v := range c.Vulnerabilities {
		if v == nil {
			continue
		}
		v.CVEID = normalizeID(v.CVEID)
		if v.CVEID == "" {
			continue
		}
		list = append(list, v)
	}
	c.Vulnerabilities = list
	return &c, nil
}

// ImportKEV replaces the stored catalog with the file at path.
func ImportKEV(ctx context.Context, db *sql.DB, path string) (*ImportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rc, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	catalog, err := ParseKEV(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing KEV file: %s", path)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteAllKEV); err != nil {
		return nil, errors.Wrap(err, "failed to clear KEV entries")
	}

	stmt, err := tx.PrepareContext(ctx, insertKEV)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare KEV insert statement")
	}
	defer stmt.Close()

	for _, v := range catalog.Vulnerabilities {
		if _, err := stmt.ExecContext(ctx, v.CVEID, v.VendorProject, v.Product, v.DateAdded, v.KnownRansomwareCampaignUse); err != nil {
			return nil, errors.Wrapf(err, "failed to insert KEV entry for %s", v.CVEID)
		}
	}

	res := &ImportResult{
		Source:       SourceKEV,
		File:         path,
		Records:      len(catalog.Vulnerabilities),
		ModelVersion: catalog.CatalogVersion,
		ScoreDate:    catalog.DateReleased,
	}
	if err := saveImport(ctx, tx, res); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit KEV import")
	}

	slog.Debug("KEV imported", "file", path, "records", res.Records)
	return res, nil
}

// GetKEVIDs returns the set of identifiers in the catalog.
func GetKEVIDs(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.QueryContext(ctx, selectKEVIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query KEV identifiers")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan KEV row")
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate KEV rows")
	}
	return ids, nil
}

// IsKnownExploited reports whether cveID is in the catalog.
func IsKnownExploited(ctx context.Context, db *sql.DB, cveID string) (bool, error) {
	if db == nil {
		return false, errDBNotInitialized
	}

	var one int
	err := db.QueryRowContext(ctx, selectKEVByID, normalizeID(cveID)).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to query KEV entry")
	}
	return true, nil
}
