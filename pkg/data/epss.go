package data

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mchmarny/day0/pkg/feature"
	"github.com/pkg/errors"
)

const (
	SourceEPSS = "epss"

	epssColCVE        = "cve"
	epssColScore      = "epss"
	epssColPercentile = "percentile"

	insertEPSS = `INSERT INTO epss (cve_id, epss, percentile) VALUES (?, ?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET epss = excluded.epss, percentile = excluded.percentile`

	selectEPSS     = `SELECT cve_id, epss, percentile FROM epss WHERE cve_id = ?`
	selectAllEPSS  = `SELECT cve_id, epss, percentile FROM epss ORDER BY cve_id`
	deleteAllEPSS  = `DELETE FROM epss`
	gzipMagicFirst = 0x1f

	utf8BOM = "\ufeff"
)

// epssAliases maps header variants seen in EPSS exports to canonical names.
var epssAliases = map[string]string{
	"cve_id":          epssColCVE,
	"epss_score":      epssColScore,
	"score":           epssColScore,
	"epss_percentile": epssColPercentile,
}

// EPSSScore is one row of the EPSS feed.
type EPSSScore struct {
	CVEID      string  `json:"cve_id" yaml:"cve_id"`
	Score      float64 `json:"epss" yaml:"epss"`
	Percentile float64 `json:"percentile" yaml:"percentile"`
}

// Features returns the EPSS vocabulary feature mapping for the score.
func (e *EPSSScore) Features() feature.Mapping {
	return feature.FromEPSS(e.Score, e.Percentile)
}

// EPSSFeed is a parsed EPSS export.
type EPSSFeed struct {
	ModelVersion string
	ScoreDate    string
	Scores       []*EPSSScore
}

// ParseEPSS reads an EPSS CSV export. Leading '#' metadata lines are parsed
// for the model version and score date. Header names are matched case
// insensitively and common aliases are accepted. Unparsable or out of range
// numbers read as 0.
func ParseEPSS(r io.Reader) (*EPSSFeed, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		br.Discard(len(utf8BOM))
	}
	feed := &EPSSFeed{}

	if err := readEPSSMeta(br, feed); err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("EPSS file has no header")
		}
		return nil, errors.Wrap(err, "error reading EPSS header")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, ok := cols[name]; !ok {
			cols[name] = i
		}
	}
	for alias, canonical := range epssAliases {
		if i, ok := cols[alias]; ok {
			if _, exists := cols[canonical]; !exists {
				cols[canonical] = i
			}
		}
	}

	cveCol, okCVE := cols[epssColCVE]
	scoreCol, okScore := cols[epssColScore]
	if !okCVE || !okScore {
		return nil, errors.Errorf("EPSS file missing required columns (cve, epss), found: %v", header)
	}
	pctCol, okPct := cols[epssColPercentile]

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "error reading EPSS row")
		}

		id := normalizeID(field(rec, cveCol))
		if id == "" {
			continue
		}

		s := &EPSSScore{CVEID: id, Score: parseProbability(field(rec, scoreCol))}
		if okPct {
			s.Percentile = parseProbability(field(rec, pctCol))
		}
		feed.Scores = append(feed.Scores, s)
	}

	return feed, nil
}

// readEPSSMeta consumes leading '#' lines such as
// "#model_version:v2023.03.01,score_date:2023-06-10T00:00:00+0000".
func readEPSSMeta(br *bufio.Reader, feed *EPSSFeed) error {
	for {
		b, err := br.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "error reading EPSS file")
		}
		if b[0] != '#' {
			return nil
		}

		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "error reading EPSS metadata")
		}
		for _, part := range strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "#")), ",") {
			k, v, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			switch strings.TrimSpace(k) {
			case "model_version":
				feed.ModelVersion = strings.TrimSpace(v)
			case "score_date":
				feed.ScoreDate = strings.TrimSpace(v)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// parseProbability is parseFloat limited to [0, 1]. Anything else reads as 0.
func parseProbability(s string) float64 {
	v := parseFloat(s)
	if v < 0 || v > 1 {
		return 0
	}
	return v
}

// openFeed opens path and transparently decompresses gzip content.
func openFeed(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening feed file: %s", path)
	}

	br := bufio.NewReader(file)
	if b, err := br.Peek(1); err == nil && b[0] == gzipMagicFirst {
		zr, err := gzip.NewReader(br)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "error reading gzip feed: %s", path)
		}
		return &feedReader{Reader: zr, closers: []io.Closer{zr, file}}, nil
	}

	return &feedReader{Reader: br, closers: []io.Closer{file}}, nil
}

type feedReader struct {
	io.Reader
	closers []io.Closer
}

func (r *feedReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ImportEPSS replaces the stored EPSS scores with the content of the file at
// path (plain or gzipped CSV).
func ImportEPSS(ctx context.Context, db *sql.DB, path string) (*ImportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rc, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	feed, err := ParseEPSS(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing EPSS file: %s", path)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteAllEPSS); err != nil {
		return nil, errors.Wrap(err, "failed to clear EPSS scores")
	}

	stmt, err := tx.PrepareContext(ctx, insertEPSS)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare EPSS insert statement")
	}
	defer stmt.Close()

	for _, s := range feed.Scores {
		if _, err := stmt.ExecContext(ctx, s.CVEID, s.Score, s.Percentile); err != nil {
			return nil, errors.Wrapf(err, "failed to insert EPSS score for %s", s.CVEID)
		}
	}

	res := &ImportResult{
		Source:       SourceEPSS,
		File:         path,
		Records:      len(feed.Scores),
		ModelVersion: feed.ModelVersion,
		ScoreDate:    feed.ScoreDate,
	}
	if err := saveImport(ctx, tx, res); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit EPSS import")
	}

	slog.Debug("EPSS imported", "file", path, "records", res.Records, "score_date", res.ScoreDate)
	return res, nil
}

// GetEPSS returns the stored EPSS score for cveID or ErrNotFound.
func GetEPSS(ctx context.Context, db *sql.DB, cveID string) (*EPSSScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	id := normalizeID(cveID)
	if id == "" {
		return nil, errors.Wrap(ErrNotFound, "empty CVE identifier")
	}

	var s EPSSScore
	err := db.QueryRowContext(ctx, selectEPSS, id).Scan(&s.CVEID, &s.Score, &s.Percentile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "no EPSS score for %s", id)
		}
		return nil, errors.Wrapf(err, "failed to query EPSS score for %s", id)
	}
	return &s, nil
}

// ListEPSS returns every stored EPSS score ordered by CVE identifier.
func ListEPSS(ctx context.Context, db *sql.DB) ([]*EPSSScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.QueryContext(ctx, selectAllEPSS)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query EPSS scores")
	}
	defer rows.Close()

	list := make([]*EPSSScore, 0)
	for rows.Next() {
		s := &EPSSScore{}
		if err := rows.Scan(&s.CVEID, &s.Score, &s.Percentile); err != nil {
			return nil, errors.Wrap(err, "failed to scan EPSS row")
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate EPSS rows")
	}
	return list, nil
}

// EPSSLookup serves EPSS feature mappings from the database.
type EPSSLookup struct {
	DB *sql.DB
}

// EPSSFeatures returns the EPSS feature mapping for cveID. Unknown
// identifiers return ErrNotFound.
func (l *EPSSLookup) EPSSFeatures(ctx context.Context, cveID string) (feature.Mapping, error) {
	s, err := GetEPSS(ctx, l.DB, cveID)
	if err != nil {
		return nil, err
	}
	return s.Features(), nil
}
