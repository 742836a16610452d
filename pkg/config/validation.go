package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/bytesize"
)

// minSegmentSize keeps segment files larger than their header and a few
// records. Smaller values are accepted by the library for tests only.
const minSegmentSize = 4 * bytesize.KiB

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg and the rules that span fields.
// It does not modify cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' validation (value %v)",
					fe.Namespace(), fieldRule(fe), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return validateLog(cfg)
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// validateLog checks the log settings that depend on each other.
func validateLog(cfg *Config) error {
	l := cfg.Log
	if l.SegmentSize != 0 && l.SegmentSize < minSegmentSize {
		return fmt.Errorf("log.segment_size %s is below the minimum of %s", l.SegmentSize, minSegmentSize)
	}
	if l.BufferSize != 0 && l.SegmentSize != 0 && l.BufferSize > l.SegmentSize {
		return fmt.Errorf("log.buffer_size %s exceeds log.segment_size %s", l.BufferSize, l.SegmentSize)
	}
	if cfg.Archive.Enabled && l.Retention == 0 {
		return fmt.Errorf("archive.enabled requires log.retention: segments are only archived when purged")
	}
	if (cfg.Archive.AccessKeyID == "") != (cfg.Archive.SecretAccessKey == "") {
		return fmt.Errorf("archive.access_key_id and archive.secret_access_key must be set together")
	}
	return nil
}
