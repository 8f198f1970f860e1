package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/sejctl/pkg/cooke"
	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/urfave/cli/v3"
)

const defaultScoreID = "DM"

var (
	weightFlag = &cli.StringFlag{
		Name:    "weight",
		Aliases: []string{"w"},
		Usage:   "Weight scheme [equal, user, global, item] (default: config weight)",
	}

	alphaFlag = &cli.FloatFlag{
		Name:  "alpha",
		Usage: "Calibration cutoff in [0, 1]; optimized when omitted for global and item weights",
	}

	overshootFlag = &cli.FloatFlag{
		Name:  "overshoot",
		Usage: "Intrinsic range overshoot (default: config overshoot)",
	}

	calPowerFlag = &cli.FloatFlag{
		Name:  "calpower",
		Usage: "Calibration power in (0, 1] (default: config calpower)",
	}

	robustnessFlag = &cli.BoolFlag{
		Name:  "robustness",
		Usage: "Also compute leave-one-out robustness tables",
	}

	dmNameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Display name of the decision maker (default: ID)",
	}

	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Print the results without saving the decision maker",
	}

	minFlag = &cli.IntFlag{
		Name:  "min",
		Usage: "Smallest number of left-out experts or seed items",
		Value: 1,
	}

	maxFlag = &cli.IntFlag{
		Name:  "max",
		Usage: "Largest number of left-out experts or seed items",
		Value: 1,
	}

	profileFlag = &cli.BoolFlag{
		Name:  "profile",
		Usage: "Summarize the table per exclusion count instead of listing every entry",
	}

	settingsFlags = []cli.Flag{weightFlag, alphaFlag, overshootFlag, calPowerFlag}

	calcCmd = &cli.Command{
		Name:            "calc",
		Usage:           "Score experts and compute decision makers",
		HideHelpCommand: true,
		Flags:           []cli.Flag{projectFlag},
		Commands: []*cli.Command{
			{
				Name:      "dm",
				Usage:     "Compute a decision maker and add it to the project",
				ArgsUsage: "ID",
				UsageText: `sejctl calc dm -p panel DM1
   sejctl calc dm -p panel --weight item --alpha 0.05 --robustness DM2`,
				Flags:  append([]cli.Flag{dmNameFlag, robustnessFlag, overwriteFlag, dryRunFlag}, settingsFlags...),
				Action: cmdCalcDM,
			},
			{
				Name:   "score",
				Usage:  "Print expert scores and weights without saving anything",
				Flags:  settingsFlags,
				Action: cmdCalcScore,
			},
			{
				Name:      "robustness",
				Usage:     "Recompute the decision maker leaving out experts or seed items",
				ArgsUsage: "expert|item",
				Flags:     append([]cli.Flag{minFlag, maxFlag, profileFlag}, settingsFlags...),
				Action:    cmdCalcRobustness,
			},
		},
	}
)

// settingsFromCmd starts from the configured defaults and applies any set flags.
func settingsFromCmd(cmd *cli.Command, id string) (project.Settings, error) {
	s := getConfig(cmd).Config.Calculation.Settings(id)
	if cmd.IsSet(weightFlag.Name) {
		w, err := project.ParseWeightType(cmd.String(weightFlag.Name))
		if err != nil {
			return s, err
		}
		s.Weight = w
	}
	if cmd.IsSet(alphaFlag.Name) {
		a := cmd.Float(alphaFlag.Name)
		s.Alpha = &a
	}
	if cmd.IsSet(overshootFlag.Name) {
		s.Overshoot = cmd.Float(overshootFlag.Name)
	}
	if cmd.IsSet(calPowerFlag.Name) {
		s.CalPower = cmd.Float(calPowerFlag.Name)
	}
	if cmd.IsSet(robustnessFlag.Name) {
		s.Robustness = cmd.Bool(robustnessFlag.Name)
	}
	if n := cmd.String(dmNameFlag.Name); n != "" {
		s.Name = n
	}
	return s, nil
}

func cmdCalcDM(ctx context.Context, cmd *cli.Command) error {
	id, err := argName(cmd, "decision maker ID")
	if err != nil {
		return err
	}
	s, err := settingsFromCmd(cmd, id)
	if err != nil {
		return err
	}

	start := time.Now()
	if cmd.Bool(dryRunFlag.Name) {
		p, err := loadProject(cmd)
		if err != nil {
			return err
		}
		r, err := cooke.Calculate(ctx, p, s)
		if err != nil {
			return err
		}
		return encode(cmd, r)
	}

	var r *project.Results
	_, err = updateProject(cmd, func(p *project.Project) error {
		r, err = cooke.CalculateDecisionMaker(ctx, p, s, cmd.Bool(overwriteFlag.Name))
		return err
	})
	if err != nil {
		return err
	}
	slog.Debug("decision maker saved", "id", id, "duration", time.Since(start).String())
	return encode(cmd, r)
}

func cmdCalcScore(ctx context.Context, cmd *cli.Command) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	s, err := settingsFromCmd(cmd, defaultScoreID)
	if err != nil {
		return err
	}
	scores, err := cooke.Score(ctx, p, s)
	if err != nil {
		return err
	}
	return encode(cmd, scores)
}

// robustnessFunc selects the robustness table for "expert" or "item".
func robustnessFunc(target string) (func(context.Context, *project.Project, project.Settings, int, int) ([]project.RobustnessEntry, error), error) {
	switch target {
	case "expert", "experts":
		return cooke.CalculateExpertRobustness, nil
	case "item", "items":
		return cooke.CalculateItemRobustness, nil
	default:
		return nil, fmt.Errorf("robustness target %q (expected expert or item): %w", target, project.ErrInvalid)
	}
}

func cmdCalcRobustness(ctx context.Context, cmd *cli.Command) error {
	fn, err := robustnessFunc(cmd.Args().First())
	if err != nil {
		return err
	}
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	s, err := settingsFromCmd(cmd, defaultScoreID)
	if err != nil {
		return err
	}
	entries, err := fn(ctx, p, s, int(cmd.Int(minFlag.Name)), int(cmd.Int(maxFlag.Name)))
	if err != nil {
		return err
	}
	if cmd.Bool(profileFlag.Name) {
		return encode(cmd, cooke.SensitivityProfile(entries))
	}
	return encode(cmd, entries)
}

var resultsCmd = &cli.Command{
	Name:            "results",
	Usage:           "List, show and delete decision maker results",
	HideHelpCommand: true,
	Flags:           []cli.Flag{projectFlag},
	Commands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List the results stored for a project",
			Action: cmdResultsList,
		},
		{
			Name:      "show",
			Usage:     "Print the full results of a decision maker",
			ArgsUsage: "ID",
			Action:    cmdResultsShow,
		},
		{
			Name:      "delete",
			Usage:     "Delete a decision maker and its results",
			ArgsUsage: "ID",
			Action: cmdUpdateByID("decision maker", func(p *project.Project, id string, _ *cli.Command) error {
				return p.RemoveResults(id)
			}),
		},
	},
}

func cmdResultsList(_ context.Context, cmd *cli.Command) error {
	name, err := projectName(cmd)
	if err != nil {
		return err
	}
	list, err := data.ListResultSummaries(getConfig(cmd).DB, name)
	if err != nil {
		return err
	}
	return encode(cmd, list)
}

func cmdResultsShow(_ context.Context, cmd *cli.Command) error {
	name, err := projectName(cmd)
	if err != nil {
		return err
	}
	id, err := argName(cmd, "decision maker ID")
	if err != nil {
		return err
	}
	r, err := data.GetResults(getConfig(cmd).DB, name, id)
	if err != nil {
		return err
	}
	return encode(cmd, r)
}
