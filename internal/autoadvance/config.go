package autoadvance

import (
	"errors"
	"fmt"
	"time"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// DefaultDwell is the dwell applied to every auto-advancing status unless configured.
const DefaultDwell = 40 * time.Second

// Config carries the engine's timing policy.
type Config struct {
	// Dwell is the minimum time an order stays in a status before auto-advancing.
	// Statuses without an entry never auto-advance.
	Dwell map[domain.Status]time.Duration

	RetryBase        time.Duration
	RetryMax         time.Duration
	RetryMaxAttempts int

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// ResyncRetry is the delay before a failed full resync is attempted again.
	ResyncRetry time.Duration
}

func DefaultConfig() Config {
	return Config{
		Dwell: map[domain.Status]time.Duration{
			domain.StatusReceived:  DefaultDwell,
			domain.StatusPreparing: DefaultDwell,
			domain.StatusReady:     DefaultDwell,
		},
		RetryBase:        time.Second,
		RetryMax:         30 * time.Second,
		RetryMaxAttempts: 5,
		ReconnectBase:    time.Second,
		ReconnectMax:     30 * time.Second,
		ResyncRetry:      5 * time.Second,
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	for status, d := range c.Dwell {
		if status.Terminal() || !status.Valid() {
			errs = append(errs, fmt.Errorf("dwell configured for non-advancing status %q", status))
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("dwell for %s must not be negative", status))
		}
	}
	if c.RetryBase <= 0 {
		errs = append(errs, errors.New("retry base must be positive"))
	}
	if c.RetryMax < c.RetryBase {
		errs = append(errs, errors.New("retry max must be at least retry base"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		errs = append(errs, errors.New("reconnect delays must be positive and max >= base"))
	}
	if c.ResyncRetry <= 0 {
		errs = append(errs, errors.New("resync retry must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) dwellFor(status domain.Status) (time.Duration, bool) {
	d, ok := c.Dwell[status]
	return d, ok
}
