package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Paul-frank/bluegreen-todo-api/internal/config"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
	v          *viper.Viper
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v, o.configFile, o.envFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "todo-api",
		Short: "Todo CRUD API for blue/green deployments",
		Long: `todo-api serves a JSON CRUD API for todo records stored in MongoDB
(or SQLite for local runs). Every response carries the deployment label set
with --app-version, so a load balancer can route between a blue and a green
instance of the same build.

Settings are read from flags, then environment variables (PORT, MONGODB_URI,
APP_VERSION, ...), then a config file, then a .env file.

Examples:
  # Serve on :3000 against the default MongoDB
  todo-api

  # Green instance on a local SQLite file
  todo-api serve --app-version green --mongodb-uri sqlite://todos.db

  # Show the effective configuration
  todo-api config --port 8080

  # Ramp load against a running deployment
  todo-api loadtest --base-url http://localhost --profile smoke`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default todo-api.yaml in the working directory, if present)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with KEY=value settings; empty to skip")
	cobra.CheckErr(config.RegisterFlags(opts.v, flags))

	root.AddCommand(newServeCmd(opts), newConfigCmd(opts), newLoadtestCmd(opts))
	return root
}
