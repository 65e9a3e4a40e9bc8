package obs

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
		if lvl, err := logrus.ParseLevel(os.Getenv("SECSCAN_LOG_LEVEL")); err == nil {
			logger.SetLevel(lvl)
		}
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(fields map[string]any) {
	entry := Logger().WithFields(logrus.Fields(fields))
	if status, ok := fields["status"].(int); ok && status >= 500 {
		entry.Error("request_complete")
		return
	}
	entry.Info("request_complete")
}
