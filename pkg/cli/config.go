package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/sejctl/pkg/config"
	"github.com/urfave/cli/v3"
)

var configCmd = &cli.Command{
	Name:            "config",
	Usage:           "Show and change the defaults stored in <home>/config.yaml",
	HideHelpCommand: true,
	Commands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "Print the effective configuration (file and environment)",
			Action: cmdConfigShow,
		},
		{
			Name:      "get",
			Usage:     "Print one configuration value",
			ArgsUsage: "KEY",
			Action:    cmdConfigGet,
		},
		{
			Name:      "set",
			Usage:     fmt.Sprintf("Set a configuration value %v", config.Keys),
			ArgsUsage: "KEY VALUE",
			Action:    cmdConfigSet,
		},
	},
}

func cmdConfigShow(_ context.Context, cmd *cli.Command) error {
	return encode(cmd, getConfig(cmd).Config)
}

func cmdConfigGet(_ context.Context, cmd *cli.Command) error {
	key, err := argName(cmd, "config key")
	if err != nil {
		return err
	}
	v, err := getConfig(cmd).Config.Get(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(writer(cmd), v)
	return nil
}

func cmdConfigSet(_ context.Context, cmd *cli.Command) error {
	key, err := argName(cmd, "config key")
	if err != nil {
		return err
	}
	if !config.IsKey(key) {
		return fmt.Errorf("unknown config key %q, expected one of %v", key, config.Keys)
	}

	// edit the file copy so environment overrides are not persisted
	home := getConfig(cmd).Home
	c, err := config.ReadOrCreate(home)
	if err != nil {
		return err
	}
	if err := c.Set(key, cmd.Args().Get(1)); err != nil {
		return err
	}
	return config.Save(home, c)
}
