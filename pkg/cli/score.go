package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mchmarny/day0/pkg/config"
	"github.com/mchmarny/day0/pkg/data"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/mchmarny/day0/pkg/score"
	"github.com/urfave/cli/v3"
)

const (
	stdinFile = "-"

	fileFlag       = "file"
	modelFlag      = "model"
	noFallbackFlag = "no-fallback"
	cveIDFlag      = "cve-id"
)

func newModelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  modelFlag,
		Usage: "Path to the trained model (default: from config)",
	}
}

func newCVEIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     cveIDFlag,
		Usage:    "CVE identifier (e.g. CVE-2021-44228)",
		Required: true,
	}
}

func newScoreCmd() *cli.Command {
	return &cli.Command{
		Name:    "score",
		Aliases: []string{"s"},
		Usage:   "Score CVE JSON records",
		UsageText: `day0 score --file CVE-2021-44228.json                 # score one record
   day0 score --file a.json --file b.json --format text  # score several records
   cat CVE-2021-44228.json | day0 score --file -         # read the record from stdin
   day0 score --file a.json --no-fallback                # require a trained model`,
		Action: cmdScore,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  fileFlag,
				Usage: "Path to a CVE JSON record, '-' for stdin (can be specified multiple times)",
			},
			newModelFlag(),
			&cli.BoolFlag{
				Name:  noFallbackFlag,
				Usage: "Fail instead of using the heuristic when no trained model exists",
			},
		},
	}
}

func newScoreEPSSCmd() *cli.Command {
	return &cli.Command{
		Name:   "score-epss",
		Usage:  "Score a CVE from its imported EPSS values (requires a trained model)",
		Action: cmdScoreEPSS,
		Flags: []cli.Flag{
			newCVEIDFlag(),
			newModelFlag(),
		},
	}
}

func newLookupCmd() *cli.Command {
	return &cli.Command{
		Name:   "lookup",
		Usage:  "Show the imported EPSS values and KEV membership of a CVE",
		Action: cmdLookup,
		Flags: []cli.Flag{
			newCVEIDFlag(),
		},
	}
}

// LookupResult is the imported feed data for one CVE.
type LookupResult struct {
	CVEID          string          `json:"cve_id" yaml:"cve_id"`
	EPSS           *data.EPSSScore `json:"epss,omitempty" yaml:"epss,omitempty"`
	KnownExploited bool            `json:"known_exploited" yaml:"known_exploited"`
}

func (r *LookupResult) String() string {
	if r.EPSS == nil {
		return fmt.Sprintf("%s epss=n/a kev=%t", r.CVEID, r.KnownExploited)
	}
	return fmt.Sprintf("%s epss=%g percentile=%g kev=%t", r.CVEID, r.EPSS.Score, r.EPSS.Percentile, r.KnownExploited)
}

func newEngine(cmd *cli.Command, allowFallback bool) *score.Engine {
	cfg := getConfig(cmd)
	p := cmd.String(modelFlag)
	if p == "" {
		p = cfg.Config.ModelPath
	}
	return score.NewEngine(score.Options{
		ModelPath:     p,
		AllowFallback: allowFallback,
		Workers:       cfg.Config.Workers,
	})
}

func readDocs(cmd *cli.Command, files []string) ([][]byte, error) {
	docs := make([][]byte, 0, len(files))
	for _, f := range files {
		var (
			b   []byte
			err error
		)
		if f == stdinFile {
			r := cmd.Root().Reader
			if r == nil {
				r = os.Stdin
			}
			b, err = io.ReadAll(r)
		} else {
			b, err = os.ReadFile(f)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		docs = append(docs, b)
	}
	return docs, nil
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	files := append(cmd.StringSlice(fileFlag), cmd.Args().Slice()...)
	if len(files) == 0 {
		return cli.ShowSubcommandHelp(cmd)
	}

	docs, err := readDocs(cmd, files)
	if err != nil {
		return err
	}

	allow := getConfig(cmd).Config.Fallback && !cmd.Bool(noFallbackFlag)
	results, err := newEngine(cmd, allow).ScoreJSONs(ctx, docs)
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) {
			return fmt.Errorf("no trained model, run 'day0 train' or drop --no-fallback: %w", err)
		}
		return fmt.Errorf("scoring: %w", err)
	}

	for i, r := range results {
		slog.Debug("scored", "file", files[i], "cve", r.CVEID, "risk", r.Risk, "mode", r.Mode)
	}

	if len(results) == 1 {
		return encode(cmd, results[0])
	}
	if getConfig(cmd).Format == config.FormatText {
		list := make([]fmt.Stringer, len(results))
		for i, r := range results {
			list[i] = r
		}
		return encode(cmd, list)
	}
	return encode(cmd, results)
}

func cmdScoreEPSS(ctx context.Context, cmd *cli.Command) error {
	db, err := getConfig(cmd).DB()
	if err != nil {
		return err
	}

	id := cmd.String(cveIDFlag)
	res, err := newEngine(cmd, false).ScoreEPSS(ctx, &data.EPSSLookup{DB: db}, id)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("%s not in imported EPSS data, run 'day0 import epss': %w", id, err)
		}
		return fmt.Errorf("scoring %s: %w", id, err)
	}

	return encode(cmd, res)
}

func cmdLookup(ctx context.Context, cmd *cli.Command) error {
	db, err := getConfig(cmd).DB()
	if err != nil {
		return err
	}

	id := cmd.String(cveIDFlag)
	res := &LookupResult{CVEID: id}

	s, err := data.GetEPSS(ctx, db, id)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("looking up EPSS for %s: %w", id, err)
	}
	if s != nil {
		res.CVEID = s.CVEID
		res.EPSS = s
	}

	if res.KnownExploited, err = data.IsKnownExploited(ctx, db, id); err != nil {
		return fmt.Errorf("looking up KEV for %s: %w", id, err)
	}

	return encode(cmd, res)
}
