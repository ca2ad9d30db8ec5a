package session

import (
	"github.com/dkeye/mediacore/internal/domain"
	"github.com/dkeye/mediacore/internal/processor"
	"github.com/pion/transport/v3"
	"github.com/rs/zerolog"
)

type options struct {
	net        transport.Net
	id         domain.SessionID
	logger     *zerolog.Logger
	processors *processor.Registry
	pionLevel  zerolog.Level
}

type Option func(*options)

// WithNet runs ICE over n instead of the host network, e.g. a vnet.Net in tests.
func WithNet(n transport.Net) Option {
	return func(o *options) { o.net = n }
}

func WithID(id domain.SessionID) Option {
	return func(o *options) { o.id = id }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithProcessors sets the registry used to resolve Media.Processors for
// every video track attached to the session.
func WithProcessors(r *processor.Registry) Option {
	return func(o *options) { o.processors = r }
}

// WithPionLogLevel sets the minimum level of pion's own logs. Default warn.
func WithPionLogLevel(l zerolog.Level) Option {
	return func(o *options) { o.pionLevel = l }
}
