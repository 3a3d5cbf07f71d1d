// Operator alerting for dangerous chain conditions
package alert

import (
	"os/exec"
	"strings"

	"github.com/richmills3/bitcoin-sv/internal/logger"
)

// Notifier delivers high-priority messages to the node operator
type Notifier interface {
	Alert(message string)
}

// Sink logs every alert and optionally runs an operator-configured command
// with %s replaced by the message (the classic -alertnotify contract).
type Sink struct {
	command string
	log     *logger.Logger
}

// NewSink creates an alert sink. command may be empty.
func NewSink(command string, log *logger.Logger) *Sink {
	return &Sink{command: command, log: log}
}

// Alert logs the message and fires the notify command if configured
func (s *Sink) Alert(message string) {
	s.log.WithField("alert", message).Warn("Operator alert")

	if s.command == "" {
		return
	}

	cmd := strings.ReplaceAll(s.command, "%s", singleQuote(message))
	go func() {
		if err := exec.Command("/bin/sh", "-c", cmd).Run(); err != nil {
			s.log.WithError(err).Warn("Alert notify command failed")
		}
	}()
}

// singleQuote wraps the message for safe shell interpolation
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
