package postprocess

import (
	"github.com/mentat25/Metrix/pkg/config"
	"github.com/sirupsen/logrus"
)

// New builds the triggers enabled in cfg. It returns nil when none are.
func New(log logrus.FieldLogger, cfg *config.PostProcessingConfig) (Trigger, error) {
	var triggers Multi

	if cfg.S3.Enabled {
		triggers = append(triggers, NewS3Archiver(log, &cfg.S3))
	}

	if cfg.Command.Enabled {
		cmd, err := NewCommand(log, &cfg.Command)
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, cmd)
	}

	switch len(triggers) {
	case 0:
		return nil, nil
	case 1:
		return triggers[0], nil
	default:
		return triggers, nil
	}
}
