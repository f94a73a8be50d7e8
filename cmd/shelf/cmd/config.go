package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/shelf/configs"
	"github.com/Aman-CERP/shelf/internal/config"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage shelf configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/shelf/config.yaml)
  3. Library config (<library>/.shelf.yaml)
  4. <library>/.env
  5. Environment variables (SHELF_*)`,
		Example: `  # Create a library config from the template
  shelf config init

  # Show effective configuration (merged from all sources)
  shelf config show

  # Print user config file path
  shelf config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write the commented configuration template to <library>/.shelf.yaml,
or with --user to the user configuration file.`,
		Example: `  shelf config init
  shelf config init --user --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, user, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user configuration instead of the library's")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := map[string]string{"user": config.GetUserConfigPath()}
			if root, err := libraryRoot(); err == nil {
				paths["library"] = filepath.Join(root, config.ProjectConfigName)
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				return enc.Encode(paths)
			}
			fmt.Fprintln(cmd.OutOrStdout(), paths["user"])
			if p, ok := paths["library"]; ok {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runConfigInit(cmd *cobra.Command, user, force bool) error {
	out := output.New(cmd.OutOrStdout())

	var path string
	if user {
		path = config.GetUserConfigPath()
	} else {
		root, err := libraryRoot()
		if err != nil {
			return err
		}
		path = filepath.Join(root, config.ProjectConfigName)
	}

	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Configuration already exists")
		out.Field("Location", path)
		out.Newline()
		out.Status("→", "Use --force to overwrite it with the template")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return shelferrors.IOError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return shelferrors.IOError("failed to write config file", err)
	}

	out.Successf("Created %s", path)
	out.Status("→", "Edit it, then run 'shelf config show' to check the result")
	return nil
}

// libraryRoot resolves the library directory without loading its config.
func libraryRoot() (string, error) {
	if libraryPath != "" {
		return filepath.Abs(libraryPath)
	}
	return config.FindLibraryRoot(".")
}
