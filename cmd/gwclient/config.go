package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/groupwire/internal/config"
)

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check configuration files",
	}

	var kind string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteTemplate(*configPath, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, *configPath)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "client", "config kind: client|peer")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var validateKind string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			switch validateKind {
			case "client":
				_, err = config.LoadClientConfig(*configPath)
			case "peer":
				_, err = config.LoadPeerConfig(*configPath)
			default:
				err = fmt.Errorf("unknown config kind: %s", validateKind)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", validateKind, *configPath)
			return nil
		},
	}
	validateCmd.Flags().StringVar(&validateKind, "kind", "client", "config kind: client|peer")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
