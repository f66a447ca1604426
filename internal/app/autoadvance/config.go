package autoadvance

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	engine "github.com/Apurer/order-autoadvance/internal/autoadvance"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// Config is the environment surface of the auto-advance process.
type Config struct {
	OrderServiceURL string `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8080"`
	// OrderStreamURL defaults to the websocket endpoint of OrderServiceURL.
	OrderStreamURL string `env:"ORDER_STREAM_URL"`
	Token          string `env:"ORDER_SERVICE_TOKEN"`
	BoardPort      string `env:"BOARD_PORT" envDefault:"8090"`

	DwellReceived  time.Duration `env:"DWELL_RECEIVED" envDefault:"40s"`
	DwellPreparing time.Duration `env:"DWELL_PREPARING" envDefault:"40s"`
	DwellReady     time.Duration `env:"DWELL_READY" envDefault:"40s"`

	RetryBase        time.Duration `env:"RETRY_BASE" envDefault:"1s"`
	RetryMax         time.Duration `env:"RETRY_MAX" envDefault:"30s"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	ReconnectBase    time.Duration `env:"RECONNECT_BASE" envDefault:"1s"`
	ReconnectMax     time.Duration `env:"RECONNECT_MAX" envDefault:"30s"`
	ResyncRetry      time.Duration `env:"RESYNC_RETRY" envDefault:"5s"`
}

// LoadConfig parses the environment and fills derived defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.OrderStreamURL == "" {
		streamURL, err := streamURLFor(cfg.OrderServiceURL)
		if err != nil {
			return Config{}, err
		}
		cfg.OrderStreamURL = streamURL
	}
	return cfg, nil
}

// Engine converts the environment settings into validated engine policy.
func (c Config) Engine() (engine.Config, error) {
	cfg := engine.Config{
		Dwell: map[domain.Status]time.Duration{
			domain.StatusReceived:  c.DwellReceived,
			domain.StatusPreparing: c.DwellPreparing,
			domain.StatusReady:     c.DwellReady,
		},
		RetryBase:        c.RetryBase,
		RetryMax:         c.RetryMax,
		RetryMaxAttempts: c.RetryMaxAttempts,
		ReconnectBase:    c.ReconnectBase,
		ReconnectMax:     c.ReconnectMax,
		ResyncRetry:      c.ResyncRetry,
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func streamURLFor(serviceURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("ORDER_SERVICE_URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("ORDER_SERVICE_URL must use http or https")
	}
	return u.JoinPath("v1", "orders", "stream").String(), nil
}
