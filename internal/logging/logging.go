// Package logging configures the logrus logger shared by the command line
// tool and the filtering engines.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr.
func New(verbose, json bool) *logrus.Logger {
	return NewWithOutput(os.Stderr, verbose, json)
}

// NewWithOutput returns a logger writing to w. Verbose loggers log at debug
// level; json selects the JSON formatter over the text one.
func NewWithOutput(w io.Writer, verbose, json bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if json {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.Debug("Debug logging enabled")
	return logger
}
