package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciler/cmd/reconciler/config"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// initErr holds a failure from initConfig until a command can return it.
	initErr error
	// cfg is the loaded configuration of the running command.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Marketplace settlement reconciliation",
	Long: `Reconciler ingests marketplace order, cancellation, return, return charge
and payment exports, classifies every order line, checks what the marketplace
settled against what it should have, and reports the differences per period.

Settings come from flags, RECONCILER_* environment variables, an optional
config file and a .env file in the working directory.

The default memory store lives as long as one process, so it serves
'serve' and 'reconcile --dir'. Commands that hand data to a later command
need store.driver=mysql.

Examples:
  reconciler serve --addr :3001
  reconciler reconcile --dir ./exports/2024-01 --period 2024-01
  reconciler upload --type order --file ORDER.csv --period 2024-01
  reconciler reconcile --period 2024-01
  reconciler summary --period 2024-01 --output-format json
  reconciler export --period 2024-01 --output-file report.xlsx`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("store-driver", "", "dataset store: memory or mysql")
	flags.String("dsn", "", "MySQL DSN for the mysql store")
	flags.String("redis-addr", "", "Redis address for distributed period locks")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")

	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("store.driver", flags.Lookup("store-driver"))
	viper.BindPFlag("store.dsn", flags.Lookup("dsn"))
	viper.BindPFlag("redis.addr", flags.Lookup("redis-addr"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// initConfig reads in the .env file, the config file and ENV variables.
func initConfig() {
	initErr = nil
	if err := config.LoadDotEnv(envFile); err != nil {
		initErr = err
		return
	}

	v := viper.GetViper()
	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			initErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err)
			return
		}
	}
}

// loadConfig unmarshals the settings and installs the global logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	if initErr != nil {
		return initErr
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logConfig := loaded.LoggerConfig()
	if verbose {
		logConfig.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", loaded.Log, err)
	}
	logger.SetGlobalLogger(log)
	cfg = loaded

	if verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", viper.ConfigFileUsed())
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
