package output

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/audio"
)

// NewDevice creates the audio device named by typ from its settings.
func NewDevice(typ string, settings map[string]any) (audio.Device, error) {
	zlog.Debug().Msgf("creating audio device: type=%s settings=%+v", typ, settings)
	switch typ {
	case "clock", "":
		var s ClockSettings
		if err := decode(settings, &s); err != nil {
			return nil, err
		}
		return NewClockDevice(s), nil
	case "speaker":
		var s SpeakerSettings
		if err := decode(settings, &s); err != nil {
			return nil, err
		}
		return NewSpeakerDevice(s), nil
	default:
		return nil, errors.Newf("unsupported audio device type: %s", typ)
	}
}

func decode(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
