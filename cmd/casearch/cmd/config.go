package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JCHanratty/CASearch/internal/config"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage CASearch configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/casearch/config.yaml)
  3. Project config (casearch.yaml or casearch.toml, or --config)
  4. Environment variables (CASEARCH_*)`,
		Example: `  # Create casearch.yaml in the current directory
  casearch config init

  # Show effective configuration
  casearch config show

  # Print user config file path
  casearch config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		user   bool
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write a configuration file holding every setting at its default.

Without --user the file is casearch.yaml (or casearch.toml) in the
current directory. An existing file is only replaced with --force, and
a backup of it is kept next to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format = strings.ToLower(format)
			if format != "yaml" && format != "toml" {
				return caserrors.ValidationError(fmt.Sprintf("invalid --format %q (expected yaml or toml)", format), nil)
			}

			path := config.GetUserConfigPath()
			if !user {
				path = "casearch." + format
			} else if format == "toml" {
				return caserrors.ValidationError("the user config file is always YAML", nil)
			}
			return runConfigInit(cmd, path, format, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config file instead of a project file")
	cmd.Flags().StringVar(&format, "format", "yaml", "File format: yaml, toml")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path, format string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	var backup string
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("%s already exists", path)
			out.Status("", "Use --force to replace it (a backup is kept)")
			return nil
		}
		if backup, err = config.BackupFile(path); err != nil {
			return err
		}
	}

	cfg := config.NewConfig()
	var err error
	if format == "toml" {
		err = cfg.WriteTOML(path)
	} else {
		err = cfg.WriteYAML(path)
	}
	if err != nil {
		return err
	}

	out.Successf("Wrote %s", path)
	if backup != "" {
		out.Statusf("", "Backup: %s", backup)
	}
	return nil
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Show the configuration after merging defaults, files and environment variables.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				data []byte
				err  error
			)
			switch strings.ToLower(format) {
			case "yaml":
				data, err = yaml.Marshal(root.cfg)
			case "toml":
				data, err = toml.Marshal(root.cfg)
			case "json":
				return output.New(cmd.OutOrStdout()).JSON(root.cfg)
			default:
				return caserrors.ValidationError(fmt.Sprintf("invalid --format %q (expected yaml, toml or json)", format), nil)
			}
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, toml, json")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
			project := "(none)"
			if wd, err := os.Getwd(); err == nil {
				if p := config.FindProjectConfig(wd); p != "" {
					project = p
				}
			}
			_, _ = fmt.Fprintf(w, "project: %s\n", project)
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Restore a configuration file from its newest backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetUserConfigPath()
			switch {
			case len(args) == 1:
				path = args[0]
			case !user:
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				path = config.FindProjectConfig(wd)
				if path == "" {
					path = filepath.Join(wd, "casearch.yaml")
				}
			}

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				return caserrors.New(caserrors.ErrCodeConfigNotFound, "no backups found", nil).
					WithDetail("path", path)
			}
			if err := config.RestoreFile(path, backups[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Restored %s from %s", path, backups[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config file")

	return cmd
}
