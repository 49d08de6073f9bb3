package badgerdb

import (
	"fmt"
	"strings"

	"github.com/celer-network/go-dsu/log"
)

// extendedLog adapts the module logger to badger's Logger interface.
type extendedLog struct {
	*log.Logger
}

func trimmed(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (l *extendedLog) Errorf(format string, args ...interface{}) {
	l.Error().Msg(trimmed(format, args...))
}

func (l *extendedLog) Warningf(format string, args ...interface{}) {
	l.Warn().Msg(trimmed(format, args...))
}

func (l *extendedLog) Infof(format string, args ...interface{}) {
	l.Info().Msg(trimmed(format, args...))
}

func (l *extendedLog) Debugf(format string, args ...interface{}) {
	l.Debug().Msg(trimmed(format, args...))
}
