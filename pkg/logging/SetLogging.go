// Package logging with the logrus setup shared by session clients and servers
package logging

import (
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// SetLogging sets the logging level and output file.
// This sets the timestamp format to "2006-01-02T15:04:05.000-0700" and includes the caller
// file and line when the level is debug.
//
//  levelName is the requested logging level: error, warning, info, debug
//  filename is the output log file full name including path, use "" for stderr only
// Returns an error if the log file cannot be opened, in which case logging continues on stderr.
func SetLogging(levelName string, filename string) error {
	var err error
	loggingLevel := logrus.InfoLevel
	switch strings.ToLower(levelName) {
	case "error":
		loggingLevel = logrus.ErrorLevel
	case "warn", "warning":
		loggingLevel = logrus.WarnLevel
	case "info":
		loggingLevel = logrus.InfoLevel
	case "debug":
		loggingLevel = logrus.DebugLevel
	case "trace":
		loggingLevel = logrus.TraceLevel
	}

	var out io.Writer = os.Stderr
	if filename != "" {
		logFile, err2 := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err2 != nil {
			err = err2
			logrus.Errorf("SetLogging: Unable to open logfile '%s': %s", filename, err)
		} else {
			out = io.MultiWriter(os.Stderr, logFile)
		}
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000-0700",
		CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
			funcName := path.Base(frame.Function)
			return funcName, ""
		},
	})
	logrus.SetReportCaller(loggingLevel >= logrus.DebugLevel)
	logrus.SetOutput(out)
	logrus.SetLevel(loggingLevel)
	return err
}
