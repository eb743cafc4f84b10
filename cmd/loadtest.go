package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Paul-frank/bluegreen-todo-api/internal/loadtest"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
)

const (
	defaultThinkTime      = time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultGracefulStop   = 30 * time.Second
)

var errThresholds = errors.New("load test thresholds breached")

func newLoadtestCmd(root *rootOptions) *cobra.Command {
	// Load test flags are also read from the environment: --base-url from
	// BASE_URL, --think-time from THINK_TIME and so on.
	lv := viper.New()
	lv.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lv.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive staged virtual-user load against a running deployment",
		Long: `Each virtual user loops over: health check, list, create, get, update
(completed=true) and delete, pausing --think-time between steps. The number of
users follows the stages of --profile, or the explicit --stage list.

The command exits non-zero when p(95) latency, the failed request rate or the
failed check rate crosses its threshold.`,
		Example: `  todo-api loadtest --base-url http://localhost --profile smoke
  todo-api loadtest --stage 30s:20 --stage 1m:20 --stage 10s:0 --p95 300ms
  BASE_URL=http://lb/green todo-api loadtest --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule, err := scheduleFrom(lv.GetString("profile"), lv.GetStringSlice("stage"))
			if err != nil {
				return err
			}
			output := lv.GetString("output")
			if output != "text" && output != "yaml" {
				return fmt.Errorf("unknown --output %q, want text or yaml", output)
			}

			logger, err := logging.New(cmd.ErrOrStderr(), root.v.GetString("log_level"), root.v.GetString("log_format"))
			if err != nil {
				return err
			}

			report, runErr := loadtest.Run(cmd.Context(), loadtest.Options{
				BaseURL:        lv.GetString("base-url"),
				Schedule:       schedule,
				ThinkTime:      lv.GetDuration("think-time"),
				RequestTimeout: lv.GetDuration("request-timeout"),
				GracefulStop:   lv.GetDuration("graceful-stop"),
				Thresholds: loadtest.Thresholds{
					P95:              lv.GetDuration("p95"),
					MaxFailureRate:   lv.GetFloat64("max-failure-rate"),
					MaxCheckFailRate: lv.GetFloat64("max-check-fail-rate"),
				},
				Logger: logger,
			})
			if report == nil {
				return runErr
			}

			if output == "yaml" {
				out, err := yaml.Marshal(report)
				if err != nil {
					return err
				}
				if _, err := cmd.OutOrStdout().Write(out); err != nil {
					return err
				}
			} else if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}

			if runErr != nil {
				return runErr
			}
			if !report.Passed() {
				return fmt.Errorf("%w: %s", errThresholds, strings.Join(report.Breaches, "; "))
			}
			return nil
		},
	}

	th := loadtest.DefaultThresholds
	flags := cmd.Flags()
	flags.String("base-url", "http://localhost:3000", "root URL of the deployment under test")
	flags.String("profile", "default", "stage profile: "+strings.Join(loadtest.ProfileNames(), ", "))
	flags.StringSlice("stage", nil, "duration:target stage, repeatable; overrides --profile")
	flags.Duration("think-time", defaultThinkTime, "pause between scenario steps")
	flags.Duration("request-timeout", defaultRequestTimeout, "per-request timeout")
	flags.Duration("graceful-stop", defaultGracefulStop, "time allowed for running iterations to finish at the end")
	flags.Duration("p95", th.P95, "p(95) request duration threshold; 0 disables")
	flags.Float64("max-failure-rate", th.MaxFailureRate, "failed request rate threshold; 0 disables")
	flags.Float64("max-check-fail-rate", th.MaxCheckFailRate, "failed check rate threshold; 0 disables")
	flags.String("output", "text", "report format: text or yaml")
	cobra.CheckErr(lv.BindPFlags(flags))

	return cmd
}

func scheduleFrom(profile string, stages []string) (loadtest.Schedule, error) {
	if len(stages) > 0 {
		return loadtest.ParseStages(stages)
	}
	schedule, ok := loadtest.Profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q, want one of %s", profile, strings.Join(loadtest.ProfileNames(), ", "))
	}
	return schedule, nil
}
