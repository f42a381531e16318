package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParkingPolicy describes the placeholder resource used during a move
type ParkingPolicy struct {
	DummyResourceKey string `yaml:"dummy_resource_key" json:"dummy_resource_key"`
	MaxDwellSeconds  int    `yaml:"max_dwell_seconds" json:"max_dwell_seconds"`
}

// Selectors are the UI anchors the legacy driver relies on
type Selectors struct {
	GridContainer       string `yaml:"grid_container" json:"grid_container"`
	SearchInput         string `yaml:"search_input" json:"search_input"`
	AppointmentCell     string `yaml:"appointment_cell" json:"appointment_cell"`
	MoveToParkingButton string `yaml:"move_to_parking_button" json:"move_to_parking_button"`
	CancelButton        string `yaml:"cancel_button" json:"cancel_button"`
}

// ClinicConfig holds per-clinic settings
type ClinicConfig struct {
	ClinicID  string        `yaml:"clinic_id" json:"clinic_id"`
	Timezone  string        `yaml:"timezone" json:"timezone"`
	Parking   ParkingPolicy `yaml:"parking" json:"parking"`
	Selectors Selectors     `yaml:"selectors" json:"selectors"`
}

const defaultMaxDwellSeconds = 600

// DefaultClinic builds the clinic config implied by the environment alone
func (c *RuntimeConfig) DefaultClinic() ClinicConfig {
	return ClinicConfig{
		ClinicID: c.ClinicID,
		Timezone: c.ClinicTZ,
		Parking: ParkingPolicy{
			DummyResourceKey: c.ParkingResourceKey,
			MaxDwellSeconds:  defaultMaxDwellSeconds,
		},
		Selectors: Selectors{
			GridContainer:       "[data-testid=schedule-grid]",
			SearchInput:         "input[type=search]",
			AppointmentCell:     "[data-testid=appointment]",
			MoveToParkingButton: "button[data-action=move]",
			CancelButton:        "button[data-action=cancel]",
		},
	}
}

// Clinic returns the environment defaults overlaid with CLINIC_CONFIG_PATH, if set
func (c *RuntimeConfig) Clinic() (ClinicConfig, error) {
	base := c.DefaultClinic()
	if c.ClinicConfigPath == "" {
		return base, nil
	}
	raw, err := os.ReadFile(c.ClinicConfigPath)
	if err != nil {
		return base, fmt.Errorf("read clinic config: %w", err)
	}
	return ParseClinicConfig(raw, base)
}

// ParseClinicConfig decodes YAML on top of base. Keys absent from the
// document keep their base values.
func ParseClinicConfig(raw []byte, base ClinicConfig) (ClinicConfig, error) {
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("parse clinic config: %w", err)
	}
	if cfg.Parking.DummyResourceKey == "" {
		return base, fmt.Errorf("parse clinic config: parking.dummy_resource_key must not be empty")
	}
	return cfg, nil
}
