package diffstat

import (
	"errors"
	"fmt"
)

// Config holds the thresholds and multipliers used to rescale scores.
type Config struct {
	LargeChangeThreshold  int     `json:"large_change_threshold" koanf:"large_change_threshold" toml:"large_change_threshold"`
	MediumChangeThreshold int     `json:"medium_change_threshold" koanf:"medium_change_threshold" toml:"medium_change_threshold"`
	LargeChangeBonus      float64 `json:"large_change_bonus" koanf:"large_change_bonus" toml:"large_change_bonus"`
	MediumChangeBonus     float64 `json:"medium_change_bonus" koanf:"medium_change_bonus" toml:"medium_change_bonus"`

	MajorNewFiles      int     `json:"major_new_files" koanf:"major_new_files" toml:"major_new_files"`
	MinorNewFiles      int     `json:"minor_new_files" koanf:"minor_new_files" toml:"minor_new_files"`
	MajorNewFilesBonus float64 `json:"major_new_files_bonus" koanf:"major_new_files_bonus" toml:"major_new_files_bonus"`
	MinorNewFilesBonus float64 `json:"minor_new_files_bonus" koanf:"minor_new_files_bonus" toml:"minor_new_files_bonus"`

	// Dampening applies when config files changed and source-like lines make
	// up less than MinSourceFraction of the change.
	ConfigOnlyMultiplier float64 `json:"config_only_multiplier" koanf:"config_only_multiplier" toml:"config_only_multiplier"`
	MinSourceFraction    float64 `json:"min_source_fraction" koanf:"min_source_fraction" toml:"min_source_fraction"`

	Floor   float64 `json:"multiplier_floor" koanf:"multiplier_floor" toml:"multiplier_floor"`
	Ceiling float64 `json:"multiplier_ceiling" koanf:"multiplier_ceiling" toml:"multiplier_ceiling"`

	// Commits adding at least TestLinesThreshold test lines get TestCategory
	// raised to TestStrength.
	TestLinesThreshold int     `json:"test_lines_threshold" koanf:"test_lines_threshold" toml:"test_lines_threshold"`
	TestCategory       string  `json:"test_category" koanf:"test_category" toml:"test_category"`
	TestStrength       float64 `json:"test_strength" koanf:"test_strength" toml:"test_strength"`
}

// DefaultConfig returns the default adjuster settings.
func DefaultConfig() Config {
	return Config{
		LargeChangeThreshold:  100,
		MediumChangeThreshold: 30,
		LargeChangeBonus:      0.30,
		MediumChangeBonus:     0.15,
		MajorNewFiles:         3,
		MinorNewFiles:         1,
		MajorNewFilesBonus:    0.20,
		MinorNewFilesBonus:    0.10,
		ConfigOnlyMultiplier:  0.8,
		MinSourceFraction:     0.1,
		Floor:                 0.4,
		Ceiling:               2.0,
		TestLinesThreshold:    10,
		TestCategory:          "safety",
		TestStrength:          1.0,
	}
}

// Validate checks that thresholds are ordered and multipliers are sane.
func (c Config) Validate() error {
	var errs []error
	if c.MediumChangeThreshold < 0 || c.LargeChangeThreshold < c.MediumChangeThreshold {
		errs = append(errs, fmt.Errorf("change thresholds must satisfy 0 <= medium (%d) <= large (%d)",
			c.MediumChangeThreshold, c.LargeChangeThreshold))
	}
	if c.MediumChangeBonus < 0 || c.LargeChangeBonus < c.MediumChangeBonus {
		errs = append(errs, fmt.Errorf("change bonuses must satisfy 0 <= medium (%g) <= large (%g)",
			c.MediumChangeBonus, c.LargeChangeBonus))
	}
	if c.MinorNewFiles < 1 || c.MajorNewFiles < c.MinorNewFiles {
		errs = append(errs, fmt.Errorf("new file thresholds must satisfy 1 <= minor (%d) <= major (%d)",
			c.MinorNewFiles, c.MajorNewFiles))
	}
	if c.MinorNewFilesBonus < 0 || c.MajorNewFilesBonus < c.MinorNewFilesBonus {
		errs = append(errs, fmt.Errorf("new file bonuses must satisfy 0 <= minor (%g) <= major (%g)",
			c.MinorNewFilesBonus, c.MajorNewFilesBonus))
	}
	if c.ConfigOnlyMultiplier <= 0 || c.ConfigOnlyMultiplier > 1 {
		errs = append(errs, fmt.Errorf("config_only_multiplier %g must be in (0,1]", c.ConfigOnlyMultiplier))
	}
	if c.MinSourceFraction < 0 || c.MinSourceFraction > 1 {
		errs = append(errs, fmt.Errorf("min_source_fraction %g must be in [0,1]", c.MinSourceFraction))
	}
	if c.Floor <= 0 || c.Ceiling < c.Floor {
		errs = append(errs, fmt.Errorf("multiplier bounds must satisfy 0 < floor (%g) <= ceiling (%g)", c.Floor, c.Ceiling))
	}
	if c.TestLinesThreshold < 0 {
		errs = append(errs, fmt.Errorf("test_lines_threshold %d must not be negative", c.TestLinesThreshold))
	}
	if c.TestStrength < 0 || c.TestStrength > 1 {
		errs = append(errs, fmt.Errorf("test_strength %g must be in [0,1]", c.TestStrength))
	}
	return errors.Join(errs...)
}
