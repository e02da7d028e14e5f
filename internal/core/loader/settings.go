package loader

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Settings tune the retry bounds and failure policy of a loading run.
type Settings struct {
	// InitializationAttempts is the number of retry rounds for deferred types.
	InitializationAttempts int `yaml:"initialization_attempts" json:"InitializationAttempts" env:"UNIVERSE_INITIALIZATION_ATTEMPTS" mapstructure:"initialization_attempts"`
	// ModelTestBuildAttempts bounds the test-build rounds.
	ModelTestBuildAttempts int `yaml:"model_test_build_attempts" json:"ModelTestBuildAttempts" env:"UNIVERSE_MODEL_TEST_BUILD_ATTEMPTS" mapstructure:"model_test_build_attempts"`
	// FinalizationAttempts is the number of finish retries after the first attempt.
	FinalizationAttempts int `yaml:"finalization_attempts" json:"FinalizationAttempts" env:"UNIVERSE_FINALIZATION_ATTEMPTS" mapstructure:"finalization_attempts"`

	FatalOnCannotInitializeType                      bool `yaml:"fatal_on_cannot_initialize_type" json:"FatalOnCannotInitializeType" env:"UNIVERSE_FATAL_ON_CANNOT_INITIALIZE_TYPE" mapstructure:"fatal_on_cannot_initialize_type"`
	FatalDuringFinalizationOnCouldNotInitializeTypes bool `yaml:"fatal_during_finalization_on_could_not_initialize_types" json:"FatalDuringFinalizationOnCouldNotInitializeTypes" env:"UNIVERSE_FATAL_DURING_FINALIZATION" mapstructure:"fatal_during_finalization_on_could_not_initialize_types"`
	// AllowRuntimeTypeRegistrations keeps lazy splay generation and enumeration
	// registration open after sealing.
	AllowRuntimeTypeRegistrations bool `yaml:"allow_runtime_type_registrations" json:"AllowRuntimeTypeRegistrations" env:"UNIVERSE_ALLOW_RUNTIME_TYPE_REGISTRATIONS" mapstructure:"allow_runtime_type_registrations"`
}

func DefaultSettings() Settings {
	return Settings{
		InitializationAttempts: 10,
		ModelTestBuildAttempts: 10,
		FinalizationAttempts:   1,
	}
}

// LoadSettings reads a YAML settings file on top of the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, s.Validate()
}

// ApplyEnv overrides s with UNIVERSE_* environment variables.
func ApplyEnv(s *Settings) error {
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return s.Validate()
}

func (s Settings) Validate() error {
	switch {
	case s.InitializationAttempts < 0:
		return fmt.Errorf("settings: initialization attempts must not be negative, got %d", s.InitializationAttempts)
	case s.ModelTestBuildAttempts < 0:
		return fmt.Errorf("settings: model test build attempts must not be negative, got %d", s.ModelTestBuildAttempts)
	case s.FinalizationAttempts < 0:
		return fmt.Errorf("settings: finalization attempts must not be negative, got %d", s.FinalizationAttempts)
	}
	return nil
}
