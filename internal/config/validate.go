package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	archiveIDPattern = regexp.MustCompile(`^CC-MAIN-\d{4}-\d{2}$`)
)

// validatorInstance configures and returns the shared validator instance.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("archive_id", func(fl validator.FieldLevel) bool {
			return archiveIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance for use outside the
// config package (the rules package validates chain configs with it).
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
			ve := ves[0]
			return fmt.Errorf("config: %s fails %q constraint (value %v)", ve.Namespace(), ve.Tag(), ve.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	if len(c.CCIndex.Archives) == 0 {
		return fmt.Errorf("config: cc_index.archives must name at least one archive")
	}
	for _, a := range c.CCIndex.Archives {
		if !archiveIDPattern.MatchString(a) {
			return fmt.Errorf("config: %q is not a valid archive ID (want CC-MAIN-YYYY-WW)", a)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}

	return nil
}
