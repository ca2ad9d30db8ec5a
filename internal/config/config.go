package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`

	Session     Session     `mapstructure:"session"`
	Media       Media       `mapstructure:"media"`
	ABR         ABR         `mapstructure:"abr"`
	DataChannel DataChannel `mapstructure:"datachannel"`
}

// Session holds per-PeerConnection settings. It is copied into every session at
// construction time.
type Session struct {
	ICEServers       []string      `mapstructure:"ice_servers"`
	IncludeLoopback  bool          `mapstructure:"include_loopback"`
	CandidateQueue   int           `mapstructure:"candidate_queue"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
	RetryBudget      int           `mapstructure:"retry_budget"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	ICEDisconnected  time.Duration `mapstructure:"ice_disconnected"`
	ICEFailed        time.Duration `mapstructure:"ice_failed"`
	ICEKeepAlive     time.Duration `mapstructure:"ice_keepalive"`

	Media       Media       `mapstructure:"-"`
	ABR         ABR         `mapstructure:"-"`
	DataChannel DataChannel `mapstructure:"-"`
}

type Media struct {
	FPS           int           `mapstructure:"fps"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	SampleRate    int           `mapstructure:"sample_rate"`
	AudioBitrate  int           `mapstructure:"audio_bitrate"`
	CaptureQueue  int           `mapstructure:"capture_queue"`
	CaptureBlock  time.Duration `mapstructure:"capture_block"`
	EncodeQueue   int           `mapstructure:"encode_queue"`
	EncodeBudget  time.Duration `mapstructure:"encode_budget"`
	JitterWindow  int           `mapstructure:"jitter_window"`
	JitterDelay   time.Duration `mapstructure:"jitter_delay"`
	MuteTimeout   time.Duration `mapstructure:"mute_timeout"`
	Processors    []string      `mapstructure:"processors"`
	SampleMaxLate uint16        `mapstructure:"sample_max_late"`
}

type ABR struct {
	MinBitrate     int           `mapstructure:"min_bitrate"`
	MaxBitrate     int           `mapstructure:"max_bitrate"`
	StartBitrate   int           `mapstructure:"start_bitrate"`
	LossThreshold  float64       `mapstructure:"loss_threshold"`
	DecreaseFactor float64       `mapstructure:"decrease_factor"`
	DecreaseAfter  int           `mapstructure:"decrease_after"`
	IncreaseStep   int           `mapstructure:"increase_step"`
	IncreaseAfter  int           `mapstructure:"increase_after"`
	RTTThreshold   time.Duration `mapstructure:"rtt_threshold"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

type DataChannel struct {
	HighWatermark  uint64 `mapstructure:"high_watermark"`
	LowWatermark   uint64 `mapstructure:"low_watermark"`
	MaxRetransmits uint16 `mapstructure:"max_retransmits"`
	RecvBuffer     int    `mapstructure:"recv_buffer"`
}

var defaults = map[string]any{
	"mode":        "release",
	"port":        8080,
	"static_path": "./web",
	"read_limit":  32768,
	"ping_period": "54s",
	"log_level":   "info",

	"join_limit":    5,
	"join_interval": "10s",

	"session.ice_servers":       []string{"stun:stun.l.google.com:19302"},
	"session.include_loopback":  false,
	"session.candidate_queue":   64,
	"session.event_buffer":      128,
	"session.connect_timeout":   "10s",
	"session.reconnect_timeout": "5s",
	"session.retry_budget":      3,
	"session.retry_interval":    "500ms",
	"session.ice_disconnected":  "5s",
	"session.ice_failed":        "25s",
	"session.ice_keepalive":     "2s",

	"media.fps":             30,
	"media.width":           320,
	"media.height":          240,
	"media.sample_rate":     48000,
	"media.audio_bitrate":   32000,
	"media.capture_queue":   4,
	"media.capture_block":   "5ms",
	"media.encode_queue":    8,
	"media.encode_budget":   "20ms",
	"media.jitter_window":   16,
	"media.jitter_delay":    "200ms",
	"media.mute_timeout":    "1500ms",
	"media.processors":      []string{},
	"media.sample_max_late": 64,

	"abr.min_bitrate":     100_000,
	"abr.max_bitrate":     2_500_000,
	"abr.start_bitrate":   600_000,
	"abr.loss_threshold":  0.02,
	"abr.decrease_factor": 0.85,
	"abr.decrease_after":  1,
	"abr.increase_step":   50_000,
	"abr.increase_after":  3,
	"abr.rtt_threshold":   "400ms",
	"abr.stale_after":     "5s",

	"datachannel.high_watermark":  1 << 20,
	"datachannel.low_watermark":   256 << 10,
	"datachannel.max_retransmits": 3,
	"datachannel.recv_buffer":     256,
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Session.Media = cfg.Media
	cfg.Session.ABR = cfg.ABR
	cfg.Session.DataChannel = cfg.DataChannel
	return &cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load() (*Config, error) {
	v := newViper()

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MEDIACORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return cfg, nil
}
