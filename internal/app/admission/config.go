package admission

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Settings is the raw admission configuration as it appears in the
// config file's settings block.
type Settings struct {
	CooldownSec   int     `yaml:"cooldown_sec" mapstructure:"cooldown_sec" default:"5" validate:"gte=0"`
	WindowMax     int     `yaml:"window_max" mapstructure:"window_max" default:"3" validate:"gte=0"`
	WindowMinutes float64 `yaml:"window_minutes" mapstructure:"window_minutes" default:"60" validate:"gt=0"`
}

// Config is the parsed limiter configuration.
type Config struct {
	Cooldown  time.Duration // minimum spacing between accepted requests
	WindowMax int           // accepted requests per window (0 disables the gate)
	Window    time.Duration // fixed window size
}

// ParseSettings decodes, defaults and validates a settings block.
func ParseSettings(settings map[string]any) (*Config, error) {
	var s Settings

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &s,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&s); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &Config{
		Cooldown:  time.Duration(s.CooldownSec) * time.Second,
		WindowMax: s.WindowMax,
		Window:    time.Duration(s.WindowMinutes * float64(time.Minute)),
	}, nil
}
