package commands

import (
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ambientscribe/pkg/config"
	"github.com/xaionaro-go/ambientscribe/pkg/xpath"
)

const appName = "ambientscribe"

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:          appName,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx := getContext(cmd.Context(), getFlags(cmd))
			cmd.SetContext(ctx)
			logger.Debugf(ctx, "log-level: %v", LoggerLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			logger.Debug(ctx, "end")
			belt.Flush(ctx)
		},
	}

	Run = &cobra.Command{
		Use:   "run",
		Short: "capture the microphone and print the transcript until interrupted",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}

	Recover = &cobra.Command{
		Use:   "recover",
		Short: "purge a session abandoned by a crashed process, if any",
		Args:  cobra.ExactArgs(0),
		RunE:  recoverSession,
	}

	Purge = &cobra.Command{
		Use:   "purge",
		Short: "discard any ephemeral session state unconditionally",
		Args:  cobra.ExactArgs(0),
		RunE:  purge,
	}

	GenerateConfig = &cobra.Command{
		Use:   "generate-config",
		Short: "print the default config",
		Args:  cobra.ExactArgs(0),
		RunE:  generateConfig,
	}

	Version = &cobra.Command{
		Use:   "version",
		Short: "print the build info",
		Args:  cobra.ExactArgs(0),
		RunE:  version,
	}

	LoggerLevel = logger.LevelWarning
)

func init() {
	Root.PersistentFlags().Var(&LoggerLevel, "log-level", "")
	Root.PersistentFlags().String("config-path", "~/.ambientscribe/config.yaml", "the path to the config file")
	Root.PersistentFlags().String("sentry-dsn", "", "DSN of a Sentry instance to send error reports")
	Root.PersistentFlags().String("logstash-addr", "", "the address of logstash to send logs to (for example: 'tcp://192.168.0.2:5044')")
	Root.PersistentFlags().String("log-file", "", "log file to write logs into")
	Root.PersistentFlags().String("log-format", logFormatText, "'text' (logrus) or 'json' (zap)")

	Run.Flags().String("input", "", "audio input: 'pulse' or 'synthetic' (overrides the config)")
	Run.Flags().String("model", "", "path to the whisper model (overrides the config)")
	Run.Flags().String("device-tier", "", "'A', 'B' or 'auto' (overrides the config)")
	Run.Flags().String("metrics-listen-addr", "", "address to serve the Prometheus metrics at (overrides the config)")
	Run.Flags().Duration("duration", 0, "stop after this duration; zero means run until interrupted")

	Purge.Flags().String("reason", "manual", "the reason recorded in the audit log")

	Root.AddCommand(Run)
	Root.AddCommand(Recover)
	Root.AddCommand(Purge)
	Root.AddCommand(GenerateConfig)
	Root.AddCommand(Version)
}

type Flags struct {
	LoggerLevel  logger.Level
	SentryDSN    string
	LogstashAddr string
	LogFile      string
	LogFormat    string
}

func getFlags(cmd *cobra.Command) Flags {
	flags := cmd.Flags()
	sentryDSN, _ := flags.GetString("sentry-dsn")
	logstashAddr, _ := flags.GetString("logstash-addr")
	logFile, _ := flags.GetString("log-file")
	logFormat, _ := flags.GetString("log-format")
	return Flags{
		LoggerLevel:  LoggerLevel,
		SentryDSN:    sentryDSN,
		LogstashAddr: logstashAddr,
		LogFile:      logFile,
		LogFormat:    logFormat,
	}
}

func getConfigPath(cmd *cobra.Command) (string, error) {
	cfgPathRaw, err := cmd.Flags().GetString("config-path")
	if err != nil {
		return "", err
	}
	return xpath.Expand(cfgPathRaw)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := getConfigPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("unable to get the config path: %w", err)
	}
	return config.ReadOrCreateConfigFile(cmd.Context(), cfgPath)
}

func generateConfig(cmd *cobra.Command, args []string) error {
	_, err := config.Default().WriteTo(cmd.OutOrStdout())
	return err
}

func version(cmd *cobra.Command, args []string) error {
	b, err := yaml.Marshal(getBuildInfo())
	if err != nil {
		return fmt.Errorf("unable to serialize the build info: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

func formatOffset(d time.Duration) string {
	d = d.Truncate(time.Millisecond)
	return fmt.Sprintf("%02d:%02d.%03d", int(d.Minutes()), int(d.Seconds())%60, d.Milliseconds()%1000)
}
