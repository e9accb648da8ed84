package echosight

import (
	"github.com/rs/zerolog"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/internal/narrator"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
)

// Option is a function that configures an App under construction.
type Option func(*appOptions) error

type appOptions struct {
	cfg        *config.Config
	configFile string
	logger     *zerolog.Logger
	source     frames.Source
	grabber    frames.Grabber
	synth      narrator.Synthesizer
}

func defaultOptions() *appOptions {
	return &appOptions{}
}

// WithConfig supplies a ready configuration, bypassing file and environment
// loading.
func WithConfig(cfg *config.Config) Option {
	return func(o *appOptions) error {
		if cfg == nil {
			return errors.Wrapf(errors.ErrInvalidInput, "nil config")
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile points configuration loading at a YAML file. Ignored when
// WithConfig is also given.
func WithConfigFile(path string) Option {
	return func(o *appOptions) error {
		o.configFile = path
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *appOptions) error {
		if logger == nil {
			return errors.Wrapf(errors.ErrInvalidInput, "nil logger")
		}
		o.logger = logger
		return nil
	}
}

// WithFrameSource installs a custom frame source instead of the built-in
// latest-frame holder. PushFrame is disabled when this option is used.
func WithFrameSource(source frames.Source) Option {
	return func(o *appOptions) error {
		if source == nil {
			return errors.Wrapf(errors.ErrInvalidInput, "nil frame source")
		}
		o.source = source
		return nil
	}
}

// WithGrabber installs a recapture callback for the built-in frame holder,
// invoked when the latest frame is stale.
func WithGrabber(grabber frames.Grabber) Option {
	return func(o *appOptions) error {
		o.grabber = grabber
		return nil
	}
}

// WithSynthesizer replaces the default speech synthesizer.
func WithSynthesizer(synth narrator.Synthesizer) Option {
	return func(o *appOptions) error {
		if synth == nil {
			return errors.Wrapf(errors.ErrInvalidInput, "nil synthesizer")
		}
		o.synth = synth
		return nil
	}
}
