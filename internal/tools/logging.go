package tools

import (
	log "github.com/sirupsen/logrus"
)

func SetupLogging(level string) {
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
