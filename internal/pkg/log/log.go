// Package log adds logging utilities.
package log

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level.
func SetLogger(level string) {
	logrus.SetLevel(logrus.ErrorLevel)
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

// ConnFields builds log fields identifying one client connection.
func ConnFields(id uuid.UUID, conn net.Conn) logrus.Fields {
	fields := logrus.Fields{
		"uuid": id.String(),
	}
	if conn != nil && conn.RemoteAddr() != nil {
		fields["remote"] = conn.RemoteAddr().String()
	}
	return fields
}

// CommandFields builds log fields for one dispatched command.
func CommandFields(id uuid.UUID, op string) logrus.Fields {
	return logrus.Fields{
		"uuid": id.String(),
		"op":   op,
	}
}
