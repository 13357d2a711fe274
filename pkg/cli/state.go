package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/day0/pkg/data"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/urfave/cli/v3"
)

const (
	historyLimitFlag    = "limit"
	historyLimitDefault = 10
)

func newStateCmd() *cli.Command {
	return &cli.Command{
		Name:   "state",
		Usage:  "Show local data counts, import history and model status",
		Action: cmdState,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  historyLimitFlag,
				Usage: "Number of recent imports to list",
				Value: historyLimitDefault,
			},
		},
	}
}

// ModelState describes the configured model artifact.
type ModelState struct {
	Path       string                 `json:"path" yaml:"path"`
	Available  bool                   `json:"available" yaml:"available"`
	Vocabulary string                 `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
	Features   int                    `json:"features,omitempty" yaml:"features,omitempty"`
	TrainedAt  string                 `json:"trained_at,omitempty" yaml:"trained_at,omitempty"`
	Summary    *model.TrainingSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Error      string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// StateOutput is the result of the state command.
type StateOutput struct {
	ConfigDir string               `json:"config_dir" yaml:"config_dir"`
	Database  string               `json:"database" yaml:"database"`
	Counts    map[string]int64     `json:"counts" yaml:"counts"`
	Imports   []*data.ImportResult `json:"imports" yaml:"imports"`
	Model     *ModelState          `json:"model" yaml:"model"`
}

func cmdState(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	db, err := cfg.DB()
	if err != nil {
		return err
	}

	counts, err := data.GetDataState(ctx, db)
	if err != nil {
		return fmt.Errorf("getting data state: %w", err)
	}

	imports, err := data.GetImportHistory(ctx, db, cmd.Int(historyLimitFlag))
	if err != nil {
		return fmt.Errorf("getting import history: %w", err)
	}

	return encode(cmd, &StateOutput{
		ConfigDir: cfg.Dir,
		Database:  cfg.Config.DBPath,
		Counts:    counts,
		Imports:   imports,
		Model:     modelState(cfg.Config.ModelPath),
	})
}

func modelState(path string) *ModelState {
	s := &ModelState{Path: path}
	if !model.Exists(path) {
		return s
	}

	m, err := model.Load(path)
	if err != nil {
		s.Error = err.Error()
		return s
	}

	s.Available = true
	s.Vocabulary = m.Vocabulary
	s.Features = len(m.Features)
	s.Summary = m.Summary
	if !m.TrainedAt.IsZero() {
		s.TrainedAt = m.TrainedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return s
}
