package cli

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/urfave/cli/v3"
)

var (
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Display name of the expert",
	}

	clearFlag = &cli.BoolFlag{
		Name:  "clear",
		Usage: "Remove the value instead of setting it",
	}

	questionFlag = &cli.StringFlag{
		Name:  "question",
		Usage: "Question text of the item",
	}

	unitFlag = &cli.StringFlag{
		Name:  "unit",
		Usage: "Unit of the item values",
	}

	scaleFlag = &cli.StringFlag{
		Name:  "scale",
		Usage: "Item scale [uni, log]",
		Value: string(project.ScaleUniform),
	}

	realizationFlag = &cli.FloatFlag{
		Name:  "realization",
		Usage: "Known outcome; makes the item a seed item",
	}

	lowerFlag = &cli.FloatFlag{
		Name:  "lower",
		Usage: "Lower value (unset when omitted)",
	}

	upperFlag = &cli.FloatFlag{
		Name:  "upper",
		Usage: "Upper value (unset when omitted)",
	}

	levelsFlag = &cli.FloatSliceFlag{
		Name:  "levels",
		Usage: "Subset of the project quantile levels the item uses (all when omitted)",
	}

	expertCmd = &cli.Command{
		Name:            "expert",
		Usage:           "Manage the experts of a project",
		HideHelpCommand: true,
		Flags:           []cli.Flag{projectFlag},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an expert (IDs up to 8 characters)",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{nameFlag},
				Action:    cmdExpertAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove an expert and their assessments",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("expert", func(p *project.Project, id string, _ *cli.Command) error {
					return p.RemoveExpert(id)
				}),
			},
			{
				Name:      "exclude",
				Usage:     "Leave an expert out of calculations",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("expert", func(p *project.Project, id string, _ *cli.Command) error {
					return p.SetExpertExcluded(id, true)
				}),
			},
			{
				Name:      "include",
				Usage:     "Include a previously excluded expert",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("expert", func(p *project.Project, id string, _ *cli.Command) error {
					return p.SetExpertExcluded(id, false)
				}),
			},
			{
				Name:      "weight",
				Usage:     "Set the user weight of an expert",
				ArgsUsage: "ID [WEIGHT]",
				Flags:     []cli.Flag{clearFlag},
				Action: cmdUpdateByID("expert", func(p *project.Project, id string, cmd *cli.Command) error {
					w, err := optionalArgFloat(cmd, 1, "weight")
					if err != nil {
						return err
					}
					return p.SetUserWeight(id, w)
				}),
			},
			{
				Name:   "list",
				Usage:  "List the experts of a project",
				Action: cmdExpertList,
			},
		},
	}

	itemCmd = &cli.Command{
		Name:            "item",
		Usage:           "Manage the items of a project",
		HideHelpCommand: true,
		Flags:           []cli.Flag{projectFlag},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an item (IDs up to 14 characters)",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{questionFlag, unitFlag, scaleFlag, realizationFlag},
				Action:    cmdItemAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove an item and its assessments",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("item", func(p *project.Project, id string, _ *cli.Command) error {
					return p.RemoveItem(id)
				}),
			},
			{
				Name:      "exclude",
				Usage:     "Leave an item out of calculations",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("item", func(p *project.Project, id string, _ *cli.Command) error {
					return p.SetItemExcluded(id, true)
				}),
			},
			{
				Name:      "include",
				Usage:     "Include a previously excluded item",
				ArgsUsage: "ID",
				Action: cmdUpdateByID("item", func(p *project.Project, id string, _ *cli.Command) error {
					return p.SetItemExcluded(id, false)
				}),
			},
			{
				Name:      "realization",
				Usage:     "Set the realization of an item, or --clear it to make it a target item",
				ArgsUsage: "ID [VALUE]",
				Flags:     []cli.Flag{clearFlag},
				Action: cmdUpdateByID("item", func(p *project.Project, id string, cmd *cli.Command) error {
					v, err := optionalArgFloat(cmd, 1, "realization")
					if err != nil {
						return err
					}
					return p.SetRealization(id, v)
				}),
			},
			{
				Name:      "scale",
				Usage:     "Set the scale of an item [uni, log]",
				ArgsUsage: "ID SCALE",
				Action: cmdUpdateByID("item", func(p *project.Project, id string, cmd *cli.Command) error {
					s, err := project.ParseScale(cmd.Args().Get(1))
					if err != nil {
						return err
					}
					return p.SetScale(id, s)
				}),
			},
			{
				Name:      "bounds",
				Usage:     "Set the hard bounds of an item",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{lowerFlag, upperFlag},
				Action: cmdUpdateByID("item", func(p *project.Project, id string, cmd *cli.Command) error {
					return p.SetItemBounds(id, floatFlag(cmd, lowerFlag), floatFlag(cmd, upperFlag))
				}),
			},
			{
				Name:      "overshoot",
				Usage:     "Override the overshoot of an item",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{lowerFlag, upperFlag},
				Action: cmdUpdateByID("item", func(p *project.Project, id string, cmd *cli.Command) error {
					return p.SetItemOvershoots(id, floatFlag(cmd, lowerFlag), floatFlag(cmd, upperFlag))
				}),
			},
			{
				Name:      "levels",
				Usage:     "Restrict an item to a subset of the project quantile levels",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{levelsFlag},
				Action: cmdUpdateByID("item", func(p *project.Project, id string, cmd *cli.Command) error {
					return p.SetItemQuantiles(id, cmd.FloatSlice(levelsFlag.Name))
				}),
			},
			{
				Name:   "list",
				Usage:  "List the items of a project",
				Action: cmdItemList,
			},
		},
	}

	assessCmd = &cli.Command{
		Name:            "assess",
		Usage:           "Record or read expert assessments",
		HideHelpCommand: true,
		Flags:           []cli.Flag{projectFlag},
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Set the values of an expert for an item, one per project level",
				UsageText: `sejctl assess set -p panel e1 s1 5 10 15
   sejctl assess set -p panel e1 t1 1 - 3      # "-" marks an unanswered level`,
				ArgsUsage: "EXPERT ITEM VALUE...",
				Action:    cmdAssessSet,
			},
			{
				Name:      "get",
				Usage:     "Print assessments, optionally filtered by expert and item",
				ArgsUsage: "[EXPERT] [ITEM]",
				Action:    cmdAssessGet,
			},
		},
	}
)

func floatFlag(cmd *cli.Command, f *cli.FloatFlag) *float64 {
	if !cmd.IsSet(f.Name) {
		return nil
	}
	v := cmd.Float(f.Name)
	return &v
}

func argFloat(cmd *cli.Command, i int, what string) (float64, error) {
	s := strings.TrimSpace(cmd.Args().Get(i))
	if s == "" {
		return 0, fmt.Errorf("%s required", what)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", what, s, err)
	}
	return v, nil
}

// optionalArgFloat returns nil with --clear, the parsed argument otherwise.
func optionalArgFloat(cmd *cli.Command, i int, what string) (*float64, error) {
	if cmd.Bool(clearFlag.Name) {
		return nil, nil
	}
	v, err := argFloat(cmd, i, what)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func cmdUpdateByID(what string, fn func(p *project.Project, id string, cmd *cli.Command) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		id, err := argName(cmd, what+" ID")
		if err != nil {
			return err
		}
		_, err = updateProject(cmd, func(p *project.Project) error { return fn(p, id, cmd) })
		return err
	}
}

func cmdExpertAdd(_ context.Context, cmd *cli.Command) error {
	id, err := argName(cmd, "expert ID")
	if err != nil {
		return err
	}
	_, err = updateProject(cmd, func(p *project.Project) error {
		return p.AddExpert(id, cmd.String(nameFlag.Name))
	})
	return err
}

func cmdExpertList(_ context.Context, cmd *cli.Command) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	return encode(cmd, p.Experts())
}

func cmdItemAdd(_ context.Context, cmd *cli.Command) error {
	id, err := argName(cmd, "item ID")
	if err != nil {
		return err
	}
	s, err := project.ParseScale(cmd.String(scaleFlag.Name))
	if err != nil {
		return err
	}
	_, err = updateProject(cmd, func(p *project.Project) error {
		q := cmd.String(questionFlag.Name)
		if err := p.AddItem(id, q, s); err != nil {
			return err
		}
		if u := cmd.String(unitFlag.Name); u != "" {
			if err := p.SetItemText(id, q, u); err != nil {
				return err
			}
		}
		return p.SetRealization(id, floatFlag(cmd, realizationFlag))
	})
	return err
}

func cmdItemList(_ context.Context, cmd *cli.Command) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	return encode(cmd, p.Items())
}

// parseValues reads assessment values; "-", "nan" and "" mark unanswered levels.
func parseValues(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		switch strings.ToLower(strings.TrimSpace(a)) {
		case "-", "nan", "":
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", a, err)
		}
		out[i] = v
	}
	return out, nil
}

func cmdAssessSet(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) < 3 {
		return fmt.Errorf("expert, item and values required")
	}
	values, err := parseValues(args[2:])
	if err != nil {
		return err
	}
	_, err = updateProject(cmd, func(p *project.Project) error {
		return p.SetAssessment(args[0], args[1], values)
	})
	return err
}

// AssessmentRow is one (expert, item) assessment; null marks an unanswered level.
type AssessmentRow struct {
	Expert string     `json:"expert" yaml:"expert"`
	Item   string     `json:"item" yaml:"item"`
	Values []*float64 `json:"values" yaml:"values"`
}

func cmdAssessGet(_ context.Context, cmd *cli.Command) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	expertID, itemID := cmd.Args().Get(0), cmd.Args().Get(1)

	rows := make([]*AssessmentRow, 0)
	for _, e := range p.Experts() {
		if expertID != "" && e.ID != expertID {
			continue
		}
		for _, it := range p.Items() {
			if itemID != "" && it.ID != itemID {
				continue
			}
			v, err := p.Assessment(e.ID, it.ID)
			if err != nil {
				return err
			}
			row := &AssessmentRow{Expert: e.ID, Item: it.ID, Values: make([]*float64, len(v))}
			for i, x := range v {
				if !math.IsNaN(x) {
					row.Values[i] = &x
				}
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 && (expertID != "" || itemID != "") {
		return fmt.Errorf("assessment %s/%s: %w", expertID, itemID, project.ErrNotFound)
	}
	return encode(cmd, rows)
}
