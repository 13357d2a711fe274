package data

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/pkg/errors"
)

const (
	colCVEID = "cve_id"
	colLabel = "label"

	// negativesPerPositive and minNegatives size the negative sample.
	negativesPerPositive = 5
	minNegatives         = 1000

	SeedDefault = 42
)

// Dataset is a labeled set of feature rows. Columns holds the feature names
// in file order.
type Dataset struct {
	Columns []string
	IDs     []string
	Rows    []feature.Mapping
	Labels  []int
}

// Positives returns the number of rows labeled 1.
func (d *Dataset) Positives() int {
	var n int
	for _, y := range d.Labels {
		n += y
	}
	return n
}

// Subset returns the rows at idx.
func (d *Dataset) Subset(idx []int) *Dataset {
	s := &Dataset{
		Columns: d.Columns,
		IDs:     make([]string, 0, len(idx)),
		Rows:    make([]feature.Mapping, 0, len(idx)),
		Labels:  make([]int, 0, len(idx)),
	}
	for _, i := range idx {
		s.IDs = append(s.IDs, d.IDs[i])
		s.Rows = append(s.Rows, d.Rows[i])
		s.Labels = append(s.Labels, d.Labels[i])
	}
	return s
}

// BuildDataset labels every stored EPSS score by KEV membership and keeps
// all positives plus a seeded sample of min(negatives, max(5 * positives,
// 1000)) negatives.
func BuildDataset(ctx context.Context, db *sql.DB, seed uint64) (*Dataset, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	kev, err := GetKEVIDs(ctx, db)
	if err != nil {
		return nil, err
	}

	scores, err := ListEPSS(ctx, db)
	if err != nil {
		return nil, err
	}

	var pos, neg []*EPSSScore
	for _, s := range scores {
		if kev[s.CVEID] {
			pos = append(pos, s)
			continue
		}
		neg = append(neg, s)
	}
	if len(pos) == 0 {
		return nil, errors.Errorf("no KEV CVEs matched %d EPSS scores, import both feeds first", len(scores))
	}

	n := min(len(neg), max(len(pos)*negativesPerPositive, minNegatives))
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })
	neg = neg[:n]

	ds := &Dataset{Columns: append([]string(nil), feature.EPSSOrder...)}
	for _, group := range []struct {
		label  int
		scores []*EPSSScore
	}{{1, pos}, {0, neg}} {
		for _, s := range group.scores {
			ds.IDs = append(ds.IDs, s.CVEID)
			ds.Rows = append(ds.Rows, s.Features())
			ds.Labels = append(ds.Labels, group.label)
		}
	}

	slog.Debug("dataset built", "rows", len(ds.Rows), "positives", len(pos), "negatives", len(neg))
	return ds, nil
}

// WriteDataset writes ds as CSV: cve_id, label, then one column per feature.
func WriteDataset(w io.Writer, ds *Dataset) error {
	if ds == nil {
		return errors.New("dataset required")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{colCVEID, colLabel}, ds.Columns...)); err != nil {
		return errors.Wrap(err, "error writing dataset header")
	}

	rec := make([]string, len(ds.Columns)+2)
	for i, row := range ds.Rows {
		rec[0] = ds.IDs[i]
		rec[1] = strconv.Itoa(ds.Labels[i])
		for j, c := range ds.Columns {
			rec[j+2] = strconv.FormatFloat(row[c], 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrapf(err, "error writing dataset row %d", i)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "error flushing dataset")
}

// ReadDataset reads a CSV written by WriteDataset. Every column other than
// cve_id and label is a feature.
func ReadDataset(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "error reading dataset header")
	}

	idCol, labelCol := -1, -1
	ds := &Dataset{}
	featureCols := make([]int, 0, len(header))
	for i, h := range header {
		switch name := strings.ToLower(strings.TrimSpace(h)); name {
		case colCVEID:
			idCol = i
		case colLabel:
			labelCol = i
		default:
			ds.Columns = append(ds.Columns, name)
			featureCols = append(featureCols, i)
		}
	}
	if labelCol < 0 {
		return nil, errors.New("dataset missing label column")
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error reading dataset line %d", line)
		}

		label, err := strconv.ParseFloat(strings.TrimSpace(rec[labelCol]), 64)
		if err != nil || (label != 0 && label != 1) {
			return nil, errors.Errorf("invalid label %q on line %d", rec[labelCol], line)
		}

		row := make(feature.Mapping, len(featureCols))
		for j, c := range featureCols {
			row[ds.Columns[j]] = parseFloat(strings.TrimSpace(rec[c]))
		}

		id := ""
		if idCol >= 0 {
			id = rec[idCol]
		}
		ds.IDs = append(ds.IDs, id)
		ds.Rows = append(ds.Rows, row)
		ds.Labels = append(ds.Labels, int(math.Round(label)))
	}

	return ds, nil
}
