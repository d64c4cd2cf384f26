package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type flags struct {
	port       string
	configPath string
	logLevel   string
	pretty     bool
}

// Execute runs the CLI.
func Execute() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env")
	}
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	v := viper.New()
	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quiz-live",
		Short:         "Live quiz sessions over Gorilla WebSocket",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(f.logLevel, f.pretty)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&f.port, "port", "", "port to listen on, overrides the config file (env: QUIZ_PORT)")
	fs.StringVar(&f.configPath, "config", "config/config.yaml", "path to YAML config (env: QUIZ_CONFIG)")
	fs.StringVar(&f.logLevel, "log-level", "info", "zerolog level (env: QUIZ_LOG_LEVEL)")
	fs.BoolVar(&f.pretty, "pretty", false, "human readable console logs (env: QUIZ_PRETTY)")

	fs.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(fl.Name, fl)
		_ = v.BindEnv(fl.Name)
		if !fl.Changed && v.IsSet(fl.Name) {
			_ = fs.Set(fl.Name, fmt.Sprintf("%v", v.Get(fl.Name)))
		}
	})
	// PORT is what most platforms inject.
	if f.port == "" {
		f.port = os.Getenv("PORT")
	}

	cmd.AddCommand(NewStartCmd(f))
	cmd.AddCommand(NewMigrateCmd(f))
	return cmd
}

func setupLogging(level string, pretty bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}
