package session

import (
	"log/slog"

	"github.com/rabbitmq/amqp10-bridge/internal/debug"
)

// RegisterLogger configures the package's debug logger with the given slog.Handler.
//
// By default the debug logger uses a no-op handler and produces no log events.
func RegisterLogger(h slog.Handler) {
	debug.RegisterLogger(h)
}
