package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/net"
	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/urfave/cli/v3"
)

var (
	quantilesFlag = &cli.FloatSliceFlag{
		Name:    "quantiles",
		Aliases: []string{"q"},
		Usage:   "Quantile levels of the project (default: 0.05,0.5,0.95)",
	}

	fileFlag = &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Path of the project file (format from the extension: .json, .yaml, .yml)",
	}

	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "URL of the project file; the stored token is sent when present",
	}

	docFormatFlag = &cli.StringFlag{
		Name:  "doc-format",
		Usage: "Project file format [json, yaml] (default: from the file extension)",
	}

	overwriteFlag = &cli.BoolFlag{
		Name:  "overwrite",
		Usage: "Replace an existing entry with the same name",
	}

	projectCmd = &cli.Command{
		Name:            "project",
		Usage:           "Create, import, export and list projects",
		HideHelpCommand: true,
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create an empty project",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{quantilesFlag},
				Action:    cmdProjectCreate,
			},
			{
				Name:  "import",
				Usage: "Import a project from a JSON or YAML file",
				UsageText: `sejctl project import --file panel.yaml
   sejctl project import --url https://raw.githubusercontent.com/org/repo/main/panel.json`,
				Flags:  []cli.Flag{fileFlag, urlFlag, docFormatFlag, overwriteFlag},
				Action: cmdProjectImport,
			},
			{
				Name:      "export",
				Usage:     "Write a project as JSON or YAML (stdout without --file)",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{fileFlag, docFormatFlag},
				Action:    cmdProjectExport,
			},
			{
				Name:   "list",
				Usage:  "List stored projects",
				Action: cmdProjectList,
			},
			{
				Name:      "show",
				Usage:     "Print a stored project",
				ArgsUsage: "NAME",
				Action:    cmdProjectShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a project with its results",
				ArgsUsage: "NAME",
				Action:    cmdProjectDelete,
			},
		},
	}

	quantileCmd = &cli.Command{
		Name:            "quantile",
		Usage:           "Add or remove project quantile levels",
		HideHelpCommand: true,
		Flags:           []cli.Flag{projectFlag},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a level; existing assessments get an unanswered value",
				ArgsUsage: "LEVEL",
				Action:    cmdQuantile(func(p *project.Project, q float64) error { return p.AddQuantile(q) }),
			},
			{
				Name:      "remove",
				Usage:     "Remove a level and its assessment values",
				ArgsUsage: "LEVEL",
				Action:    cmdQuantile(func(p *project.Project, q float64) error { return p.RemoveQuantile(q) }),
			},
		},
	}
)

func argName(cmd *cli.Command, what string) (string, error) {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return "", fmt.Errorf("%s required", what)
	}
	return name, nil
}

func cmdProjectCreate(_ context.Context, cmd *cli.Command) error {
	name, err := argName(cmd, "project name")
	if err != nil {
		return err
	}
	db := getConfig(cmd).DB
	if _, err := data.GetProject(db, name); err == nil {
		return fmt.Errorf("project %s: %w", name, project.ErrDuplicate)
	}

	p, err := project.New(name, cmd.FloatSlice(quantilesFlag.Name))
	if err != nil {
		return err
	}
	if err := data.SaveProject(db, p); err != nil {
		return fmt.Errorf("saving project: %w", err)
	}
	slog.Info("project created", "project", name, "quantiles", p.Quantiles())
	return nil
}

// docFormat resolves the project file format from the flag or the path.
func docFormat(cmd *cli.Command, path string) (project.Format, error) {
	if f := cmd.String(docFormatFlag.Name); f != "" {
		return project.ParseFormat(f)
	}
	return project.FormatFromPath(path), nil
}

func readDocument(ctx context.Context, cmd *cli.Command) ([]byte, string, error) {
	file, url := cmd.String(fileFlag.Name), cmd.String(urlFlag.Name)
	switch {
	case file != "" && url != "":
		return nil, "", errors.New("use either --file or --url")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", file, err)
		}
		return b, file, nil
	case url != "":
		token, err := getFetchToken(getConfig(cmd).Home)
		if err != nil {
			slog.Debug("no stored token, fetching anonymously", "error", err)
		}
		c, err := net.GetOAuthClient(ctx, token)
		if err != nil {
			return nil, "", err
		}
		b, err := net.Fetch(ctx, c, url)
		if err != nil {
			return nil, "", fmt.Errorf("fetching project: %w", err)
		}
		return b, url, nil
	default:
		return nil, "", errors.New("--file or --url required")
	}
}

// ImportResult summarizes an imported project.
type ImportResult struct {
	Project  string `json:"project" yaml:"project"`
	Source   string `json:"source" yaml:"source"`
	Experts  int    `json:"experts" yaml:"experts"`
	Items    int    `json:"items" yaml:"items"`
	Results  int    `json:"results" yaml:"results"`
	Duration string `json:"duration" yaml:"duration"`
}

func cmdProjectImport(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	b, src, err := readDocument(ctx, cmd)
	if err != nil {
		return err
	}
	f, err := docFormat(cmd, src)
	if err != nil {
		return err
	}
	p, err := project.Decode(bytes.NewReader(b), f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", src, err)
	}

	db := getConfig(cmd).DB
	if _, err := data.GetProject(db, p.Name()); err == nil && !cmd.Bool(overwriteFlag.Name) {
		return fmt.Errorf("project %s (use --overwrite to replace): %w", p.Name(), project.ErrDuplicate)
	}
	if err := data.SaveProject(db, p); err != nil {
		return fmt.Errorf("saving project: %w", err)
	}

	return encode(cmd, &ImportResult{
		Project:  p.Name(),
		Source:   src,
		Experts:  len(p.Experts()),
		Items:    len(p.Items()),
		Results:  len(p.ResultsList()),
		Duration: time.Since(start).String(),
	})
}

func cmdProjectExport(_ context.Context, cmd *cli.Command) error {
	name, err := argName(cmd, "project name")
	if err != nil {
		return err
	}
	p, err := data.GetProject(getConfig(cmd).DB, name)
	if err != nil {
		return err
	}

	file := cmd.String(fileFlag.Name)
	if file == "" {
		f := project.Format(getConfig(cmd).Format)
		if cmd.IsSet(docFormatFlag.Name) {
			if f, err = project.ParseFormat(cmd.String(docFormatFlag.Name)); err != nil {
				return err
			}
		}
		return project.Encode(writer(cmd), p, f)
	}

	f, err := docFormat(cmd, file)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := project.Encode(&buf, p, f); err != nil {
		return err
	}
	if err := os.WriteFile(file, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", file, err)
	}
	slog.Info("project exported", "project", name, "file", file)
	return nil
}

func cmdProjectList(_ context.Context, cmd *cli.Command) error {
	list, err := data.ListProjects(getConfig(cmd).DB)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*data.ProjectSummary{}
	}
	return encode(cmd, list)
}

func cmdProjectShow(_ context.Context, cmd *cli.Command) error {
	name, err := argName(cmd, "project name")
	if err != nil {
		return err
	}
	p, err := data.GetProject(getConfig(cmd).DB, name)
	if err != nil {
		return err
	}
	return encode(cmd, p.Document())
}

func cmdProjectDelete(_ context.Context, cmd *cli.Command) error {
	name, err := argName(cmd, "project name")
	if err != nil {
		return err
	}
	if err := data.DeleteProject(getConfig(cmd).DB, name); err != nil {
		return err
	}
	slog.Info("project deleted", "project", name)
	return nil
}

func cmdQuantile(fn func(p *project.Project, q float64) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		q, err := argFloat(cmd, 0, "level")
		if err != nil {
			return err
		}
		p, err := updateProject(cmd, func(p *project.Project) error { return fn(p, q) })
		if err != nil {
			return err
		}
		return encode(cmd, map[string]any{"project": p.Name(), "quantiles": p.Quantiles()})
	}
}
