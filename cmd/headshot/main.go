// Package main is the entry point for the Headshot CLI. Headshot
// reconciles Tenable.io vulnerability findings against asset metadata:
// each configured rule selects the assets with open vulnerabilities
// matching its filter expression and asserts a named custom attribute on
// exactly those assets.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/headshot/internal/config"
	"github.com/joshsymonds/headshot/internal/rules"
	"github.com/joshsymonds/headshot/internal/tenable"
	"github.com/joshsymonds/headshot/pkg/logger"
	"github.com/joshsymonds/headshot/pkg/pathutil"
)

type options struct {
	configPath string
	ruleNames  []string
	dryRun     bool
	listRules  bool
	debug      bool
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "headshot",
		Short: "Land critical hits on your vulnerabilities",
		Long: `Headshot tags Tenable.io assets based on their open vulnerabilities.

Each rule in the configuration pairs a plugin filter expression with a
custom attribute. Headshot finds the assets whose findings match the
expression and assigns the attribute to them, creating the attribute
definition on the platform when it does not exist yet.`,
		Example: `  # Run all enabled rules from config.json
  headshot

  # Run specific rules by name
  headshot --rules "Critical Windows Vulnerabilities" --rules "Database Critical Vulnerabilities"

  # Use a different config file
  headshot --config custom-config.json

  # Dry run to see what would happen
  headshot --dry-run

  # List available rules
  headshot --list-rules`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.json", "Path to configuration file")
	cmd.Flags().StringArrayVarP(&opts.ruleNames, "rules", "r", nil, "Specific rule names to run (default: all enabled rules)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVar(&opts.listRules, "list-rules", false, "List all available rules and exit")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text or json)")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	log := logger.NewLogger(opts.debug, opts.logFormat)
	logger.SetGlobalLogger(log)

	path, err := pathutil.ValidateConfigPath(opts.configPath)
	if err != nil {
		log.Error("invalid config path", "path", opts.configPath, "error", err)
		return err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Error("loading configuration failed", "path", path, "error", err)
		return err
	}
	log.Info("configuration loaded", "path", path, "rules", len(cfg.Rules))

	if opts.listRules {
		printRules(cmd, cfg)
		return nil
	}

	selected, err := cfg.SelectRules(opts.ruleNames)
	if err != nil {
		log.Error("rule selection failed", "error", err)
		return err
	}

	accessKey, secretKey, err := cfg.Credentials()
	if err != nil {
		log.Error("credential resolution failed", "error", err)
		return err
	}

	client := tenable.NewClient(tenable.ClientConfig{
		BaseURL:   cfg.Tenable.URL,
		AccessKey: accessKey,
		SecretKey: secretKey,
		PageSize:  cfg.Tenable.ExportPageSize,
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := rules.NewExecutor(client, client, log, cfg.Tenable.BatchSize, opts.dryRun)
	summary := rules.NewRunner(executor, log).Run(ctx, selected)

	if err := summary.Err(); err != nil {
		log.Error("run finished with failures", "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func printRules(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "\nAvailable rules in configuration:")
	fmt.Fprintln(out, "================================================================================")
	for i, rule := range cfg.Rules {
		status := "ENABLED"
		if !rule.IsEnabled() {
			status = "DISABLED"
		}
		fmt.Fprintf(out, "\n%d. %s [%s]\n", i+1, rule.Name, status)
		if rule.Description != "" {
			fmt.Fprintf(out, "   Description: %s\n", rule.Description)
		}
		fmt.Fprintf(out, "   Attribute: %s = %s\n", rule.CustomAttribute.Name, rule.CustomAttribute.Value)
		fmt.Fprintf(out, "   Filters: %s\n", rule.Filters)
	}
	fmt.Fprintln(out, "\n================================================================================")
}
