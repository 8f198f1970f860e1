package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/urfave/cli/v3"
)

var (
	yesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Skip the confirmation prompt",
	}

	resetCmd = &cli.Command{
		Name:            "reset",
		Usage:           "Delete all stored projects and results",
		HideHelpCommand: true,
		Flags:           []cli.Flag{yesFlag},
		Action:          cmdReset,
	}
)

func confirm(cmd *cli.Command, prompt string) (bool, error) {
	if cmd.Bool(yesFlag.Name) {
		return true, nil
	}
	var r io.Reader = os.Stdin
	if cmd.Root().Reader != nil {
		r = cmd.Root().Reader
	}
	fmt.Fprint(writer(cmd), prompt+" [y/N]: ")
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && answer == "" {
		return false, fmt.Errorf("reading input: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(answer)) == "y", nil
}

func cmdReset(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	ok, err := confirm(cmd, fmt.Sprintf("This will permanently delete all data in %s", data.Redact(cfg.DSN)))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(writer(cmd), "Aborted.")
		return nil
	}

	if err := data.Reset(cfg.DB); err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}
	slog.Info("database reset", "dsn", data.Redact(cfg.DSN))
	return nil
}
