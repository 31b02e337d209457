package delay

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const ErrCodeInvalidConfig = "DELAY_INVALID_CONFIG"

const (
	defaultDelay   = 5 * time.Second
	defaultTimeout = 20 * time.Minute
)

// Config declares a delay policy in host configuration. Durations are Go
// duration strings ("5s", "2m30s").
type Config struct {
	Kind     string   `json:"kind" yaml:"kind"`
	Delay    string   `json:"delay,omitempty" yaml:"delay,omitempty"`
	Timeout  string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Factor   float64  `json:"factor,omitempty" yaml:"factor,omitempty"`
	Max      string   `json:"max,omitempty" yaml:"max,omitempty"`
	Multiple int      `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	Policies []Config `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// ParseConfig reads a YAML or JSON policy declaration and builds it.
func ParseConfig(data []byte) (Delay, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml handles JSON too, a single attempt is fine
		return nil, errors.Wrap(err, errors.CategoryValidation, "parse delay config").
			WithTextCode(ErrCodeInvalidConfig)
	}
	return cfg.Build()
}

// Build constructs the policy the config describes.
func (c Config) Build() (Delay, error) {
	d, err := parseDuration(c.Delay, defaultDelay)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration(c.Timeout, defaultTimeout)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case "", "constant":
		return Constant{Delay: d, Timeout: timeout}, nil
	case "exponential":
		max, err := parseDuration(c.Max, 0)
		if err != nil {
			return nil, err
		}
		return Exponential{Base: d, Factor: c.Factor, Max: max, Timeout: timeout}, nil
	case "multiple":
		return MultipleOf{Delay: d, Multiple: c.Multiple, Timeout: timeout}, nil
	case "blended":
		if len(c.Policies) == 0 {
			return nil, errors.New("blended policy requires at least one member", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidConfig)
		}
		blended := Blended{Delays: make([]Delay, 0, len(c.Policies))}
		for _, member := range c.Policies {
			built, err := member.Build()
			if err != nil {
				return nil, err
			}
			blended.Delays = append(blended.Delays, built)
		}
		return blended, nil
	default:
		return nil, errors.New("unknown delay kind: "+c.Kind, errors.CategoryValidation).
			WithTextCode(ErrCodeInvalidConfig)
	}
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryValidation, "parse duration "+value).
			WithTextCode(ErrCodeInvalidConfig)
	}
	return d, nil
}
