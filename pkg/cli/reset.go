package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/day0/pkg/data"
	"github.com/urfave/cli/v3"
)

const (
	yesFlag = "yes"
)

func newResetCmd() *cli.Command {
	return &cli.Command{
		Name:   "reset",
		Usage:  "Delete all imported feed data and start fresh",
		Action: cmdReset,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  yesFlag,
				Usage: "Skip the confirmation prompt",
			},
		},
	}
}

func cmdReset(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}

	if !cmd.Bool(yesFlag) {
		fmt.Fprintf(out, "This will permanently delete all data in %s\n", cfg.Config.DBPath)
		fmt.Fprint(out, "Are you sure? [y/N]: ")

		in := cmd.Root().Reader
		if in == nil {
			in = os.Stdin
		}
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	// close the DB before deleting the file
	cfg.close()

	if err := os.Remove(cfg.Config.DBPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting database: %w", err)
	}

	slog.Info("database deleted", "path", cfg.Config.DBPath)

	if err := data.Init(cfg.Config.DBPath); err != nil {
		return fmt.Errorf("re-initializing database: %w", err)
	}

	slog.Info("database re-initialized", "path", cfg.Config.DBPath)
	fmt.Fprintln(out, "Reset complete.")
	return nil
}
