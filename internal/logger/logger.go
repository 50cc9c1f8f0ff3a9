package logger

import (
	"github.com/sirupsen/logrus"

	"github.com/tinyoslab/tinyfs/internal/config"
)

var log = logrus.New()

func SetLevel(l config.LogLevel) {
	switch l {
	case config.LogLevelDebug:
		log.SetLevel(logrus.DebugLevel)
	case config.LogLevelInfo:
		log.SetLevel(logrus.InfoLevel)
	case config.LogLevelWarn:
		log.SetLevel(logrus.WarnLevel)
	case config.LogLevelError:
		log.SetLevel(logrus.ErrorLevel)
	}
}

func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
