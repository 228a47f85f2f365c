// Package zlog builds the logger shared by every component of the flashing
// engine: one prefixed, colorized logrus logger, never a global.
package zlog

import (
	"io"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// New builds a logger that writes prefixed, colorized lines to a
// colorable wrapper around os.Stderr, at debug level when verbose is set
// and info level otherwise.
func New(verbose bool) *logrus.Logger {
	log := logrus.New()

	var out io.Writer = colorable.NewColorableStderr()
	log.SetOutput(out)

	log.SetFormatter(&prefixed.TextFormatter{
		ForceFormatting: true,
		FullTimestamp:   true,
		ForceColors:     true,
	})

	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Discard returns a logger that drops everything, for tests that don't
// want console noise.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Fields is shorthand for logrus.Fields, kept so callers never import
// logrus directly just to build a field set.
type Fields = logrus.Fields
