// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grab/internal/config"
	"github.com/xkilldash9x/grab/internal/observability"
	"github.com/xkilldash9x/grab/internal/orchestrator"
	"github.com/xkilldash9x/grab/internal/reporting"
)

// flagKeys maps each command line flag to the configuration key it overrides.
var flagKeys = map[string]string{
	"url":         "target",
	"out":         "capture.output_dir",
	"same-origin": "capture.same_origin",
	"same-site":   "capture.same_site",
	"include":     "capture.include",
	"exclude":     "capture.exclude",
	"wait":        "network.idle_wait",
	"timeout":     "network.navigation_timeout",
	"scroll":      "plan.scroll_count",
	"click":       "plan.clicks",
	"hover":       "plan.hovers",
	"route":       "plan.routes",
	"user-agent":  "browser.user_agent",
	"top":         "report.top_n",
	"format":      "report.format",
	"report":      "report.output",
	"log-level":   "logger.level",
	"log-file":    "logger.log_file",
}

// NewRootCommand builds the grab command backed by a local Chrome.
func NewRootCommand() *cobra.Command {
	return newRootCommand(orchestrator.ChromeLauncher())
}

func newRootCommand(launcher orchestrator.Launcher) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	var (
		cfgFile string
		headful bool
	)

	rootCmd := &cobra.Command{
		Use:   "grab",
		Short: "Collect JavaScript chunks from web pages during loading",
		Long: `grab drives a browser to a page, optionally scrolls, clicks, hovers and
visits extra routes, and saves every script the page loads to a mirrored
directory tree with a manifest.json describing what was captured.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			// Flags override the config file and environment.
			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("failed to bind --%s: %w", flag, err)
				}
			}
			if cmd.Flags().Changed("headful") {
				v.Set("browser.headless", !headful)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if cfg.Target == "" {
				return fmt.Errorf("a target is required: pass --url or set target in the config")
			}

			observability.InitializeLogger(cfg.Logger)
			return runCollection(cmd.Context(), cfg, launcher, cmd.OutOrStdout())
		},
	}

	rootCmd.SetVersionTemplate(`{{printf "grab version %s\n" .Version}}`)

	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./grab.yaml or ~/.config/grab/grab.yaml)")
	flags.StringP("url", "u", "", "URL to collect JavaScript from")
	flags.StringP("out", "o", "./out", "Output directory")
	flags.Bool("same-origin", false, "Only collect same-origin scripts")
	flags.Bool("same-site", false, "Only collect scripts from the target's registrable domain")
	flags.String("include", "", "Include URLs matching regex")
	flags.String("exclude", "", "Exclude URLs matching regex")
	flags.Var(newMillisDuration(config.NewDefaultConfig().Network.IdleWait), "wait", "Wait time for network idle (ms or duration)")
	flags.Var(newMillisDuration(config.NewDefaultConfig().Network.NavigationTimeout), "timeout", "Page load timeout (ms or duration)")
	flags.Int("scroll", 0, "Number of scroll actions")
	flags.StringArray("click", nil, "Click selector (can be used multiple times)")
	flags.StringArray("hover", nil, "Hover selector (can be used multiple times)")
	flags.StringArray("route", nil, "Extra route to visit, relative to the target origin (can be used multiple times)")
	flags.BoolVar(&headful, "headful", false, "Run browser in headful mode")
	flags.String("user-agent", config.DefaultUserAgent, "User agent string")
	flags.Int("top", 5, "Number of largest files listed in the summary")
	flags.String("format", "text", "Summary format (text, json)")
	flags.String("report", "", "Write the summary to this file instead of stdout")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Also write JSON logs to this rotated file")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// runCollection runs one session and reports it to out, or to the configured
// report file.
func runCollection(ctx context.Context, cfg *config.Config, launcher orchestrator.Launcher, out io.Writer) error {
	logger := observability.GetLogger()

	var (
		reporter reporting.Reporter
		err      error
	)
	if cfg.Report.Output == "" || cfg.Report.Output == "stdout" {
		reporter, err = reporting.NewWriter(cfg.Report.Format, out)
	} else {
		reporter, err = reporting.New(cfg.Report.Format, cfg.Report.Output)
	}
	if err != nil {
		return err
	}
	defer reporter.Close()

	o, err := orchestrator.New(cfg, logger, launcher, orchestrator.WithReporter(reporter))
	if err != nil {
		return err
	}

	res, err := o.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn("Collection interrupted; partial manifest written.")
		return err
	}
	if err != nil {
		return err
	}
	logger.Info("Collection complete.", zap.String("manifest", res.ManifestPath), zap.Int("resources", res.Manifest.Count))
	return nil
}

// initializeConfig reads the config file, if any, and enables GRAB_ env overrides.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if dir, err := homedir.Expand("~/.config/grab"); err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("grab")
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults, env and flags apply.
	}
	return nil
}

// Execute runs the root command with ctx and prints a fatal error once.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}
