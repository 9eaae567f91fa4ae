// Package logging configures the structured logger shared by all registry
// components.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a component-scoped entry on a freshly configured logger.
// Level comes from LOG_LEVEL (default info); LOG_FORMAT=json switches to the
// JSON formatter, which is what production deployments scrape.
func New(component string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l.WithField("component", component)
}

func parseLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
