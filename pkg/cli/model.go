package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/mchmarny/day0/pkg/data"
	"github.com/mchmarny/day0/pkg/feature"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/urfave/cli/v3"
)

const (
	outFlag          = "out"
	seedFlag         = "seed"
	datasetFlag      = "dataset"
	vocabularyFlag   = "vocabulary"
	iterationsFlag   = "iterations"
	testFractionFlag = "test-fraction"

	testFractionDefault = 0.25
)

func newSeedFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  seedFlag,
		Usage: "Random seed for sampling and splitting",
		Value: data.SeedDefault,
	}
}

func newDatasetFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     datasetFlag,
		Usage:    "Path to a labeled dataset CSV (see 'day0 dataset')",
		Required: true,
	}
}

func newDatasetCmd() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "Build a labeled training dataset from the imported EPSS and KEV data",
		UsageText: `day0 dataset --out dataset.csv     # write the dataset to a file
   day0 dataset --seed 7 > dataset.csv  # different negative sample`,
		Action: cmdDataset,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  outFlag,
				Usage: "Output CSV path (default: stdout)",
			},
			newSeedFlag(),
		},
	}
}

func newTrainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Train and save the linear model from a labeled dataset",
		UsageText: `day0 train --dataset dataset.csv                         # EPSS model to the configured path
   day0 train --dataset cves.csv --vocabulary cvss --out m.json  # CVE record model, dataset built outside day0
                                                               # with cve_id, label and the CVE record feature columns`,
		Action: cmdTrain,
		Flags: []cli.Flag{
			newDatasetFileFlag(),
			&cli.StringFlag{
				Name:  outFlag,
				Usage: "Model output path (default: from config)",
			},
			&cli.StringFlag{
				Name:  vocabularyFlag,
				Usage: fmt.Sprintf("Feature vocabulary [%s]", strings.Join(feature.Vocabularies, ", ")),
				Value: feature.VocabularyEPSS,
			},
			&cli.IntFlag{
				Name:  iterationsFlag,
				Usage: "Maximum gradient descent iterations (default: 1000)",
			},
			&cli.FloatFlag{
				Name:  testFractionFlag,
				Usage: "Share of rows held out for evaluation",
				Value: testFractionDefault,
			},
			newSeedFlag(),
		},
	}
}

func newEvaluateCmd() *cli.Command {
	return &cli.Command{
		Name:   "evaluate",
		Usage:  "Evaluate a trained model on a labeled dataset",
		Action: cmdEvaluate,
		Flags: []cli.Flag{
			newDatasetFileFlag(),
			newModelFlag(),
		},
	}
}

// DatasetOutput summarises a dataset written to a file.
type DatasetOutput struct {
	Path      string `json:"path" yaml:"path"`
	Rows      int    `json:"rows" yaml:"rows"`
	Positives int    `json:"positives" yaml:"positives"`
	Negatives int    `json:"negatives" yaml:"negatives"`
}

// TrainOutput is the result of the train command.
type TrainOutput struct {
	Path       string                 `json:"path" yaml:"path"`
	Vocabulary string                 `json:"vocabulary" yaml:"vocabulary"`
	Summary    *model.TrainingSummary `json:"summary" yaml:"summary"`
	Holdout    *model.Metrics         `json:"holdout" yaml:"holdout"`
}

// EvaluateOutput is the result of the evaluate command.
type EvaluateOutput struct {
	Path       string         `json:"path" yaml:"path"`
	Vocabulary string         `json:"vocabulary" yaml:"vocabulary"`
	Metrics    *model.Metrics `json:"metrics" yaml:"metrics"`
}

func cmdDataset(ctx context.Context, cmd *cli.Command) error {
	db, err := getConfig(cmd).DB()
	if err != nil {
		return err
	}

	ds, err := data.BuildDataset(ctx, db, uint64(cmd.Int(seedFlag)))
	if err != nil {
		return fmt.Errorf("building dataset: %w", err)
	}

	path := cmd.String(outFlag)
	if path == "" {
		w := cmd.Root().Writer
		if w == nil {
			w = os.Stdout
		}
		return data.WriteDataset(w, ds)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dataset file: %w", err)
	}
	if err := data.WriteDataset(f, ds); err != nil {
		f.Close()
		return fmt.Errorf("writing dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing dataset file: %w", err)
	}

	pos := ds.Positives()
	return encode(cmd, &DatasetOutput{
		Path:      path,
		Rows:      len(ds.Rows),
		Positives: pos,
		Negatives: len(ds.Rows) - pos,
	})
}

func readDatasetFile(path string) (*data.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	ds, err := data.ReadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	return ds, nil
}

func cmdTrain(_ context.Context, cmd *cli.Command) error {
	vocab := cmd.String(vocabularyFlag)
	order, err := feature.Order(vocab)
	if err != nil {
		return err
	}

	ds, err := readDatasetFile(cmd.String(datasetFlag))
	if err != nil {
		return err
	}
	for _, name := range order {
		if !slices.Contains(ds.Columns, name) {
			return fmt.Errorf("dataset has no %q column for the %s vocabulary", name, vocab)
		}
	}

	trainIdx, testIdx := model.Split(ds.Labels, cmd.Float(testFractionFlag), uint64(cmd.Int(seedFlag)))
	train := ds.Subset(trainIdx)
	slog.Debug("dataset split", "train", len(trainIdx), "test", len(testIdx))

	m, err := model.Train(order, train.Rows, train.Labels, model.TrainOptions{
		Iterations: cmd.Int(iterationsFlag),
	})
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}

	holdout := train
	if len(testIdx) > 0 {
		holdout = ds.Subset(testIdx)
	}
	metrics, err := model.EvaluateModel(m, holdout.Rows, holdout.Labels)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}

	path := cmd.String(outFlag)
	if path == "" {
		path = getConfig(cmd).Config.ModelPath
	}
	if err := model.Save(m, path); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}

	slog.Info("model saved", "path", path, "vocabulary", m.Vocabulary, "rows", m.Summary.Rows)
	return encode(cmd, &TrainOutput{
		Path:       path,
		Vocabulary: m.Vocabulary,
		Summary:    m.Summary,
		Holdout:    metrics,
	})
}

func cmdEvaluate(_ context.Context, cmd *cli.Command) error {
	path := cmd.String(modelFlag)
	if path == "" {
		path = getConfig(cmd).Config.ModelPath
	}

	m, err := model.Load(path)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	ds, err := readDatasetFile(cmd.String(datasetFlag))
	if err != nil {
		return err
	}

	metrics, err := model.EvaluateModel(m, ds.Rows, ds.Labels)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}

	return encode(cmd, &EvaluateOutput{
		Path:       path,
		Vocabulary: m.Vocabulary,
		Metrics:    metrics,
	})
}
