package main

import (
	"fmt"
	"time"

	"github.com/AdinAck/Headlights-App/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose. Without either, the level of an
// explicitly given config file applies; otherwise logging is silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel
	if path, _ := cmd.Flags().GetString("config"); path != "" && cfg != nil {
		logLevel = cfg.Level()
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
