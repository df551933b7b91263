package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/furisto/cadence/frontend/cli/pkg/fail"
	"github.com/furisto/cadence/frontend/cli/pkg/terminal"
	"github.com/furisto/cadence/shared/config"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Inspect and manage the run configuration",
		GroupID: "system",
	}

	cmd.AddCommand(NewConfigShowCmd())
	cmd.AddCommand(NewConfigValidateCmd())
	cmd.AddCommand(NewConfigInitCmd())
	cmd.AddCommand(NewConfigSetKeyCmd())
	cmd.AddCommand(NewConfigDeleteKeyCmd())
	return cmd
}

func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after defaults are applied. Inline API keys are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *getConfig(cmd.Context())
			cfg.Reactive.APIKey = mask(cfg.Reactive.APIKey)
			cfg.Planning.APIKey = mask(cfg.Planning.APIKey)

			content, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

func NewConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and budget settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd.Context())
			if err := validate(cfg); err != nil {
				return fail.EnhanceError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid: %s\n", terminal.SuccessSymbol, cfg.Setting())
			return nil
		},
	}
}

type configInitOptions struct {
	Force bool
}

func NewConfigInitCmd() *cobra.Command {
	options := configInitOptions{}
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Long: `Write the configuration after defaults and the loaded file are applied, so it
can be edited. Inline API keys are never written. Without a path the user
config directory is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			if len(args) == 1 {
				path = args[0]
			}

			exists, err := getFileSystem(cmd.Context()).Exists(path)
			if err != nil {
				return fail.EnhanceError(err)
			}
			if exists && !options.Force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}

			cfg := *getConfig(cmd.Context())
			cfg.Reactive.APIKey, cfg.Planning.APIKey = "", ""
			cfg.Checkpoint = ""
			if err := getConfigLoader(cmd.Context()).Save(path, &cfg); err != nil {
				return fail.EnhanceError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration written to %s\n", terminal.SuccessSymbol, path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&options.Force, "force", false, "overwrite an existing file")
	return cmd
}

func NewConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <provider>",
		Short: "Store a provider API key in the system keyring",
		Long: `Read an API key from stdin and store it in the system keyring under the
provider name. Keys in the environment still take precedence.`,
		Example: `  echo "$KEY" | cadence config set-key deepseek`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			key := strings.TrimSpace(string(content))
			if key == "" {
				return fmt.Errorf("no API key on stdin for %s", args[0])
			}

			if err := getKeyring(cmd.Context()).Set(args[0], key); err != nil {
				return fail.EnhanceError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key for %s stored in the keyring\n", terminal.SuccessSymbol, args[0])
			return nil
		},
	}
}

func NewConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <provider>",
		Short: "Remove a provider API key from the system keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getKeyring(cmd.Context()).Delete(args[0]); err != nil {
				return fail.EnhanceError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key for %s removed from the keyring\n", terminal.SuccessSymbol, args[0])
			return nil
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
