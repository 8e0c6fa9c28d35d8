// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package verbose provides the shared logger. Quiet unless verbosity is
// switched on, so library code can log freely.
package verbose

import (
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Logger returns the process-wide logger.
func Logger() *logrus.Logger {
	return logger
}

// Log writes one formatted line at info level.
func Log(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// SetVerbose routes log output to stderr (or silences it again).
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(ioutil.Discard)
	}
}
