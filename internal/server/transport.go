package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/config"
	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/transport"
	"github.com/zeusync/framesync/internal/core/transport/quic"
	"github.com/zeusync/framesync/internal/core/transport/websocket"
)

// Listen opens the listener selected by cfg.Transport.Kind.
func Listen(cfg config.Config, logger log.Log) (transport.Listener, error) {
	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		return websocket.Listen(cfg.Transport.Address, cfg.TransportConfig(), logger)
	case config.TransportQUIC:
		tlsConfig, err := quic.GenerateSelfSignedTLS()
		if err != nil {
			return nil, errors.Wrap(err, "generate certificate")
		}
		return quic.Listen(cfg.Transport.Address, tlsConfig, cfg.TransportConfig(), logger)
	default:
		return nil, errors.Wrap(ErrUnknownTransport, cfg.Transport.Kind)
	}
}

// Dial connects to the authority selected by cfg.Transport.
func Dial(ctx context.Context, cfg config.Config, logger log.Log) (transport.Conn, error) {
	var dialer transport.Dialer
	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		dialer = websocket.NewDialer(cfg.TransportConfig(), logger)
	case config.TransportQUIC:
		dialer = quic.NewDialer(nil, cfg.TransportConfig(), logger)
	default:
		return nil, errors.Wrap(ErrUnknownTransport, cfg.Transport.Kind)
	}
	return dialer.Dial(ctx, cfg.Transport.Address)
}
