// Package ledutils holds the ambient logging and configuration plumbing
// shared by ledctl and ledmon.
package ledutils

import (
	"fmt"
	"log/syslog"
	"time"

	"github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// originalLoggerLevel is the log level applied at init (Warn); SetLevel
// replaces it.
var originalLoggerLevel = logrus.WarnLevel

var rootLogger = logrus.New()

func init() {
	rootLogger.SetLevel(originalLoggerLevel)
	rootLogger.Formatter = &logrus.TextFormatter{TimestampFormat: time.RFC3339Nano}
}

// LogLevelFromName maps the CLI's --log-level vocabulary
// (quiet,error,warning,info,debug,all) onto a logrus.Level.
func LogLevelFromName(name string) (logrus.Level, error) {
	switch name {
	case "quiet":
		return logrus.PanicLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "all":
		return logrus.TraceLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// SetLevel sets the process-wide log level, overriding the default Warn.
func SetLevel(level logrus.Level) {
	originalLoggerLevel = level
	rootLogger.SetLevel(level)
}

// SetLogFile redirects the root logger to path, in addition to the syslog
// hook installed by EnableSyslog.
func SetLogFile(path string) error {
	f, err := openAppend(path)
	if err != nil {
		return err
	}
	rootLogger.SetOutput(f)
	return nil
}

// EnableSyslog installs a syslog hook whose entries always use a
// TextFormatter, regardless of the main logger's configured formatter.
func EnableSyslog(tag string) error {
	hook, err := lSyslog.NewSyslogHook("", "", syslog.LOG_INFO, tag)
	if err != nil {
		return err
	}
	rootLogger.AddHook(&sysLogHook{
		shook:     hook,
		formatter: &logrus.TextFormatter{TimestampFormat: time.RFC3339Nano},
	})
	return nil
}

// sysLogHook wraps a syslog logrus hook and a formatter to be used for all
// syslog entries, independent of the main logger's configured formatter.
type sysLogHook struct {
	shook     *lSyslog.SyslogHook
	formatter logrus.Formatter
}

func (h *sysLogHook) Levels() []logrus.Level { return h.shook.Levels() }

func (h *sysLogHook) Fire(e *logrus.Entry) error {
	formatter := e.Logger.Formatter
	e.Logger.Formatter = h.formatter
	err := h.shook.Fire(e)
	e.Logger.Formatter = formatter
	return err
}

// ComponentLogger returns a logrus.Entry tagged with "source": component,
// the pattern every package in this module uses to obtain its package-scoped
// logger.
func ComponentLogger(component string) *logrus.Entry {
	return rootLogger.WithFields(logrus.Fields{"source": component})
}
