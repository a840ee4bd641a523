package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	logx "outreach/pkg/logx"
)

// waLogger routes whatsmeow's printf logging into logx. whatsmeow debug
// output is very chatty, so it is only forwarded when verbose is set.
type waLogger struct {
	log     logx.Logger
	verbose bool
}

var _ waLog.Logger = waLogger{}

func newWALogger(log logx.Logger, module string, verbose bool) waLogger {
	return waLogger{log: log.With(logx.String("wa", module)), verbose: verbose}
}

func (l waLogger) Errorf(msg string, args ...any) { l.log.Error(fmt.Sprintf(msg, args...)) }
func (l waLogger) Warnf(msg string, args ...any)  { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l waLogger) Infof(msg string, args ...any)  { l.log.Info(fmt.Sprintf(msg, args...)) }

func (l waLogger) Debugf(msg string, args ...any) {
	if l.verbose {
		l.log.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With(logx.String("wa_sub", module)), verbose: l.verbose}
}
