package main

import (
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/fastir/pkg/config"
)

func newConfigCommand() *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Config prints the configuration after defaults, the config file and
FASTIR_* environment overrides are applied. Secrets are masked. With --save
the unmasked configuration is written to a file instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if save != "" {
				return config.Save(save, cfg)
			}
			data, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "Write the configuration to this file")
	return cmd
}
