package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/day0/pkg/data"
	"github.com/urfave/cli/v3"
)

const (
	importFileFlag = "file"
)

type importFunc func(ctx context.Context, db *sql.DB, path string) (*data.ImportResult, error)

func newImportCmd() *cli.Command {
	return &cli.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Import local EPSS and KEV feed files",
		UsageText: `day0 import epss --file epss_scores-current.csv.gz     # replace the EPSS scores
   day0 import kev --file known_exploited_vulnerabilities.json  # replace the KEV catalog`,
		Commands: []*cli.Command{
			newImportFeedCmd("epss", "Import an EPSS CSV export (plain or gzipped)", data.ImportEPSS),
			newImportFeedCmd("kev", "Import a KEV catalog JSON file (plain or gzipped)", data.ImportKEV),
		},
	}
}

func newImportFeedCmd(name, usage string, fn importFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     importFileFlag,
				Usage:    "Path to the feed file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdImport(ctx, cmd, fn)
		},
	}
}

// ImportOutput is the result of an import command.
type ImportOutput struct {
	Import   *data.ImportResult `json:"import" yaml:"import"`
	Duration string             `json:"duration" yaml:"duration"`
}

func cmdImport(ctx context.Context, cmd *cli.Command, fn importFunc) error {
	start := time.Now()

	db, err := getConfig(cmd).DB()
	if err != nil {
		return err
	}

	path := cmd.String(importFileFlag)
	res, err := fn(ctx, db, path)
	if err != nil {
		return fmt.Errorf("importing %s: %w", cmd.Name, err)
	}

	slog.Info("import complete", "source", res.Source, "records", res.Records)
	return encode(cmd, &ImportOutput{
		Import:   res,
		Duration: time.Since(start).String(),
	})
}
