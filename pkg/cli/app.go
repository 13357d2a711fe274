package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/day0/pkg/config"
	"github.com/mchmarny/day0/pkg/data"
	"github.com/mchmarny/day0/pkg/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "day0"
	appConfigKey = "app-config"
	configDirEnv = "DAY0_CONFIG_DIR"

	debugFlag     = "debug"
	configDirFlag = "config-dir"
	formatFlag    = "format"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	Dir    string
	Config *config.Config
	Format string

	db *sql.DB
}

// DB initializes and opens the database on first use.
func (a *appConfig) DB() (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if err := data.Init(a.Config.DBPath); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	db, err := data.GetDB(a.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *appConfig) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func getConfig(cmd *cli.Command) *appConfig {
	return cmd.Root().Metadata[appConfigKey].(*appConfig)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Defensive exploitation risk scoring for CVE records",
		Metadata:              map[string]any{},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&cli.StringFlag{
				Name:    configDirFlag,
				Usage:   "Directory holding config.yaml, the model and the database (default: ~/.day0)",
				Sources: cli.EnvVars(configDirEnv),
			},
			&cli.StringFlag{
				Name:  formatFlag,
				Usage: fmt.Sprintf("Output format [%s] (default: from config)", strings.Join(config.Formats, ", ")),
			},
		},
		Commands: []*cli.Command{
			newScoreCmd(),
			newScoreEPSSCmd(),
			newLookupCmd(),
			newImportCmd(),
			newDatasetCmd(),
			newTrainCmd(),
			newEvaluateCmd(),
			newStateCmd(),
			newResetCmd(),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			dir := cmd.String(configDirFlag)
			if dir == "" {
				home, _, err := config.GetOrCreateHomeDir(appName)
				if err != nil {
					return ctx, fmt.Errorf("resolving config dir: %w", err)
				}
				dir = home
			}

			cfg, err := config.ReadOrCreate(dir)
			if err != nil {
				return ctx, fmt.Errorf("reading config: %w", err)
			}

			level := cfg.LogLevel
			if cmd.Bool(debugFlag) {
				level = "debug"
			}
			logging.SetDefaultCLILogger(level)

			format := cfg.Format
			if f := cmd.String(formatFlag); f != "" {
				if f == "yml" {
					f = config.FormatYAML
				}
				if !config.IsFormat(f) {
					return ctx, fmt.Errorf("unsupported format %q, expected one of %s", f, strings.Join(config.Formats, ", "))
				}
				format = f
			}

			slog.Debug("config loaded", "dir", dir, "model", cfg.ModelPath, "db", cfg.DBPath, "format", format)
			cmd.Metadata[appConfigKey] = &appConfig{
				Dir:    dir,
				Config: cfg,
				Format: format,
			}
			return ctx, nil
		},
		After: func(_ context.Context, cmd *cli.Command) error {
			if cfg, ok := cmd.Metadata[appConfigKey].(*appConfig); ok {
				cfg.close()
			}
			return nil
		},
	}
}

// encode writes v to the command's writer in the configured format. The
// text format prints fmt.Stringer values one per line and falls back to YAML.
func encode(cmd *cli.Command, v any) error {
	w := cmd.Root().Writer
	if w == nil {
		w = os.Stdout
	}
	return encodeTo(w, getConfig(cmd).Format, v)
}

func encodeTo(w io.Writer, format string, v any) error {
	switch format {
	case config.FormatYAML:
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return e.Close()
	case config.FormatText:
		if ok, err := encodeText(w, v); ok {
			return err
		}
		return encodeTo(w, config.FormatYAML, v)
	default:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	}
}

func encodeText(w io.Writer, v any) (bool, error) {
	switch t := v.(type) {
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, t.String())
		return true, err
	case []fmt.Stringer:
		for _, s := range t {
			if _, err := fmt.Fprintln(w, s.String()); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	return false, nil
}
