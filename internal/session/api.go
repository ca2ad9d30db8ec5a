package session

import (
	"fmt"

	"github.com/dkeye/mediacore/internal/abr"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func newAPI(cfg config.Session, o *options, ctrl *abr.Controller, logger zerolog.Logger) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	ir.Add(abr.NewInterceptorFactory(ctrl))

	se := webrtc.SettingEngine{
		LoggerFactory: newLoggerFactory(logger, o.pionLevel),
	}
	if cfg.ICEDisconnected > 0 && cfg.ICEFailed > 0 && cfg.ICEKeepAlive > 0 {
		se.SetICETimeouts(cfg.ICEDisconnected, cfg.ICEFailed, cfg.ICEKeepAlive)
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	if o.net != nil {
		se.SetNet(o.net)
		// mDNS needs real multicast sockets
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func rtcConfiguration(cfg config.Session) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}
	return webrtc.Configuration{ICEServers: servers}
}
