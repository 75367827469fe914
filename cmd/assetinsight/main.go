package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/app"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/config"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// cli holds what every subcommand shares once the root has opened the client.
type cli struct {
	configFile string
	viper      *viper.Viper
	app        *app.App
	logger     *zap.Logger
	out        io.Writer
}

func main() {
	rootCmd, state := newRootCommand(os.Stdout)
	runErr := rootCmd.Execute()
	if closeErr := state.close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", closeErr)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) (*cobra.Command, *cli) {
	state := &cli{viper: config.NewViper(), out: out}

	rootCmd := &cobra.Command{
		Use:           "assetinsight",
		Short:         "Offline-first asset tracker",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.open()
		},
	}
	rootCmd.SetOut(out)

	setupFlags(rootCmd, state)

	rootCmd.AddCommand(
		newRecordCommand(state),
		newDeleteCommand(state),
		newTotalCommand(state),
		newBreakdownCommand(state),
		newSeriesCommand(state),
		newCategoriesCommand(state),
		newSignUpCommand(state),
		newLoginCommand(state),
		newLogoutCommand(state),
		newProfilesCommand(state),
		newSwitchCommand(state),
		newSyncCommand(state),
		newStatusCommand(state),
		newDaemonCommand(state),
	)
	return rootCmd, state
}

func setupFlags(cmd *cobra.Command, state *cli) {
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&state.configFile, "config", "", "Path to configuration file")
	flags.String("database-path", defaults.GetString("database.path"), "Local SQLite database path")
	flags.String("remote-url", defaults.GetString("remote.base_url"), "Sync service base URL")
	flags.Duration("sync-interval", defaults.GetDuration("sync.interval"), "Daemon sync interval")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Write logs to a rotating file instead of stderr")

	bindFlag(state.viper, cmd, "database.path", "database-path")
	bindFlag(state.viper, cmd, "remote.base_url", "remote-url")
	bindFlag(state.viper, cmd, "sync.interval", "sync-interval")
	bindFlag(state.viper, cmd, "log.level", "log-level")
	bindFlag(state.viper, cmd, "log.file", "log-file")
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func (c *cli) open() error {
	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
		if err := c.viper.ReadInConfig(); err != nil {
			return err
		}
	}

	cfg, err := config.LoadClient(c.viper)
	if err != nil {
		return err
	}

	logger, err := logging.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	c.logger = logger

	application, err := app.Open(cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	c.app = application
	return nil
}

func (c *cli) close() error {
	var closeErr error
	if c.app != nil {
		closeErr = c.app.Close()
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return closeErr
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

var errUsage = errors.New("invalid arguments")
