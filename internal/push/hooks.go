package push

import (
	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/protocol"
)

// Hooks is the capability set of notification callbacks spec §9 calls
// "free-form configurable procedures" — on_connect, on_disconnect,
// on_subscribe, on_verbose, on_error, on_collision. Hooks are never
// invoked while the Registry's client-map lock is held. OnConnect and
// OnDisconnect run on the HookPool, off the caller's goroutine; the
// store package calls OnSubscribe, OnError and OnCollision directly,
// on the domain worker's goroutine or on the goroutine of the Store
// call that raised the error, so blocking work in those delays that
// worker or caller.
type Hooks interface {
	OnConnect(clientID string)
	OnDisconnect(clientID string)
	OnSubscribe(clientID, domain string)
	OnVerbose(msg string)
	OnError(op string, err error)
	OnCollision(kind protocol.Kind, domain, key string)
}

// NoopHooks implements Hooks with no-ops, for callers that don't need
// notifications.
type NoopHooks struct{}

func (NoopHooks) OnConnect(string)                             {}
func (NoopHooks) OnDisconnect(string)                           {}
func (NoopHooks) OnSubscribe(string, string)                    {}
func (NoopHooks) OnVerbose(string)                              {}
func (NoopHooks) OnError(string, error)                         {}
func (NoopHooks) OnCollision(protocol.Kind, string, string)     {}

// LoggingHooks logs every callback through zerolog, matching spec §6's
// stated default of "no-op / stderr" for the notification hooks.
type LoggingHooks struct {
	Logger zerolog.Logger
}

func (h LoggingHooks) OnConnect(clientID string) {
	h.Logger.Info().Str("client_id", clientID).Msg("client connected")
}

func (h LoggingHooks) OnDisconnect(clientID string) {
	h.Logger.Info().Str("client_id", clientID).Msg("client disconnected")
}

func (h LoggingHooks) OnSubscribe(clientID, domain string) {
	h.Logger.Info().Str("client_id", clientID).Str("domain", domain).Msg("client subscribed")
}

func (h LoggingHooks) OnVerbose(msg string) {
	h.Logger.Debug().Msg(msg)
}

func (h LoggingHooks) OnError(op string, err error) {
	h.Logger.Error().Str("op", op).Err(err).Msg("protocol error")
}

func (h LoggingHooks) OnCollision(kind protocol.Kind, domain, key string) {
	h.Logger.Warn().Str("kind", kind.String()).Str("domain", domain).Str("key", key).Msg("collision")
}
