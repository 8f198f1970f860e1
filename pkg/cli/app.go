package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mchmarny/sejctl/pkg/config"
	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/logging"
	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "sejctl"
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	homeFlag = &cli.StringFlag{
		Name:    "home",
		Usage:   "Directory holding config, .env, token and the default database (default: $HOME/.sejctl)",
		Sources: cli.EnvVars("SEJCTL_HOME"),
	}

	dbFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "SQLite file path or postgres:// DSN (default: config dsn, then <home>/data.db)",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml] (default: config format)",
	}

	projectFlag = &cli.StringFlag{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "Name of the project to operate on",
		Sources: cli.EnvVars("SEJCTL_PROJECT"),
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

type appConfig struct {
	Home   string
	DSN    string
	Debug  bool
	Format string
	Config *config.Config
	DB     *sql.DB
}

func getConfig(cmd *cli.Command) *appConfig {
	cfg, _ := cmd.Root().Metadata[appConfigKey].(*appConfig)
	return cfg
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Structured expert judgment with Cooke's classical model",
		Metadata:              map[string]any{},
		Flags: []cli.Flag{
			debugFlag,
			homeFlag,
			dbFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			projectCmd,
			quantileCmd,
			expertCmd,
			itemCmd,
			assessCmd,
			calcCmd,
			resultsCmd,
			configCmd,
			authCmd,
			resetCmd,
			serverCmd,
		},
		Before: before,
		After: func(_ context.Context, cmd *cli.Command) error {
			if cfg := getConfig(cmd); cfg != nil && cfg.DB != nil {
				return cfg.DB.Close()
			}
			return nil
		},
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	home := cmd.String(homeFlag.Name)
	if home == "" {
		var err error
		if home, _, err = config.GetOrCreateHomeDir(appName); err != nil {
			slog.Debug("error getting home dir, using current dir instead", "error", err)
			home = "."
		}
	}

	conf, err := config.ReadOrCreate(home)
	if err != nil {
		return ctx, fmt.Errorf("reading config: %w", err)
	}
	if err := conf.ApplyEnv(config.EnvFileName, filepath.Join(home, config.EnvFileName)); err != nil {
		return ctx, fmt.Errorf("applying environment: %w", err)
	}

	debug := cmd.Bool(debugFlag.Name)
	level := conf.LogLevel
	if debug {
		level = "debug"
	}
	logging.SetDefaultCLILogger(level)

	format := conf.Format
	if cmd.IsSet(formatFlag.Name) {
		format = cmd.String(formatFlag.Name)
	}
	f, err := project.ParseFormat(format)
	if err != nil {
		return ctx, err
	}

	dsn := cmd.String(dbFlag.Name)
	if dsn == "" {
		dsn = conf.DSN
	}
	if dsn == "" {
		dsn = filepath.Join(home, data.DataFileName)
	}

	if err := data.Init(dsn); err != nil {
		return ctx, fmt.Errorf("initializing database: %w", err)
	}
	db, err := data.GetDB(dsn)
	if err != nil {
		return ctx, fmt.Errorf("opening database: %w", err)
	}

	cmd.Root().Metadata[appConfigKey] = &appConfig{
		Home:   home,
		DSN:    dsn,
		Debug:  debug,
		Format: string(f),
		Config: conf,
		DB:     db,
	}
	return ctx, nil
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func encode(cmd *cli.Command, v any) error {
	format := formatJSON
	if cfg := getConfig(cmd); cfg != nil {
		format = cfg.Format
	}
	return encodeTo(writer(cmd), format, v)
}

func encodeTo(w io.Writer, format string, v any) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func projectName(cmd *cli.Command) (string, error) {
	name := cmd.String(projectFlag.Name)
	if name == "" {
		return "", errors.New("project required (--project or SEJCTL_PROJECT)")
	}
	return name, nil
}

// loadProject reads the --project project from the database.
func loadProject(cmd *cli.Command) (*project.Project, error) {
	name, err := projectName(cmd)
	if err != nil {
		return nil, err
	}
	p, err := data.GetProject(getConfig(cmd).DB, name)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return p, nil
}

// updateProject loads the --project project, applies fn and saves it back.
func updateProject(cmd *cli.Command, fn func(p *project.Project) error) (*project.Project, error) {
	p, err := loadProject(cmd)
	if err != nil {
		return nil, err
	}
	rev := p.Revision()
	if err := fn(p); err != nil {
		return nil, err
	}
	if p.Revision() == rev {
		return p, nil
	}
	if err := data.SaveProject(getConfig(cmd).DB, p); err != nil {
		return nil, fmt.Errorf("saving project: %w", err)
	}
	slog.Debug("project saved", "project", p.Name(), "revision", p.Revision())
	return p, nil
}
