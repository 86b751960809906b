/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package travel

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete tuning of the processing pipeline. It is a
// plain value: copy it freely, compare it, marshal it. The zero value
// of any field means "use the default"; actual nonsense (negative
// thresholds, inverted speed bands) fails validation, and validation
// failures are fatal at construction time, never mid-pipeline.
type Config struct {
	// Visit clustering.
	SpatialThresholdMeters float64       `json:"spatial_threshold_meters"`
	MinVisitDuration       time.Duration `json:"min_visit_duration"`
	MaxClusterGap          time.Duration `json:"max_cluster_gap"`

	// Route assembly.
	SimplifyEpsilonMeters float64 `json:"simplify_epsilon_meters"`

	// Transport classification bands, km/h.
	WalkMaxKmh  float64 `json:"walk_max_kmh"`
	BikeMaxKmh  float64 `json:"bike_max_kmh"`
	CarMaxKmh   float64 `json:"car_max_kmh"`
	TrainMinKmh float64 `json:"train_min_kmh"` // rail consideration starts here
	PlaneMinKmh float64 `json:"plane_min_kmh"`

	// Corroborating signals for rail and air.
	TrainMaxTortuosity   float64 `json:"train_max_tortuosity"`
	PlaneMinAltitudeGain float64 `json:"plane_min_altitude_gain"` // meters

	// Trip assembly.
	TripInactivityGap time.Duration `json:"trip_inactivity_gap"`
	HomeStayClose     time.Duration `json:"home_stay_close"`

	// Ingest hygiene.
	MaxPlausibleSpeed float64       `json:"max_plausible_speed"` // m/s; faster jumps are sensor noise
	DedupeWindow      time.Duration `json:"dedupe_window"`
	DedupeDistance    float64       `json:"dedupe_distance"` // meters

	// Enrichment.
	GeocodePerSecond float64 `json:"geocode_per_second"`
}

// DefaultConfig returns the tuning the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		SpatialThresholdMeters: 120,
		MinVisitDuration:       12 * time.Minute,
		MaxClusterGap:          45 * time.Minute,
		SimplifyEpsilonMeters:  15,
		WalkMaxKmh:             7,
		BikeMaxKmh:             25,
		CarMaxKmh:              120,
		TrainMinKmh:            60,
		PlaneMinKmh:            250,
		TrainMaxTortuosity:     1.08,
		PlaneMinAltitudeGain:   2000,
		TripInactivityGap:      48 * time.Hour,
		HomeStayClose:          6 * time.Hour,
		MaxPlausibleSpeed:      343, // the speed of sound is a generous ceiling
		DedupeWindow:           5 * time.Second,
		DedupeDistance:         5,
		GeocodePerSecond:       1,
	}
}

// fill replaces zero fields with their defaults.
func (cfg *Config) fill() {
	def := DefaultConfig()
	if cfg.SpatialThresholdMeters == 0 {
		cfg.SpatialThresholdMeters = def.SpatialThresholdMeters
	}
	if cfg.MinVisitDuration == 0 {
		cfg.MinVisitDuration = def.MinVisitDuration
	}
	if cfg.MaxClusterGap == 0 {
		cfg.MaxClusterGap = def.MaxClusterGap
	}
	if cfg.SimplifyEpsilonMeters == 0 {
		cfg.SimplifyEpsilonMeters = def.SimplifyEpsilonMeters
	}
	if cfg.WalkMaxKmh == 0 {
		cfg.WalkMaxKmh = def.WalkMaxKmh
	}
	if cfg.BikeMaxKmh == 0 {
		cfg.BikeMaxKmh = def.BikeMaxKmh
	}
	if cfg.CarMaxKmh == 0 {
		cfg.CarMaxKmh = def.CarMaxKmh
	}
	if cfg.TrainMinKmh == 0 {
		cfg.TrainMinKmh = def.TrainMinKmh
	}
	if cfg.PlaneMinKmh == 0 {
		cfg.PlaneMinKmh = def.PlaneMinKmh
	}
	if cfg.TrainMaxTortuosity == 0 {
		cfg.TrainMaxTortuosity = def.TrainMaxTortuosity
	}
	if cfg.PlaneMinAltitudeGain == 0 {
		cfg.PlaneMinAltitudeGain = def.PlaneMinAltitudeGain
	}
	if cfg.TripInactivityGap == 0 {
		cfg.TripInactivityGap = def.TripInactivityGap
	}
	if cfg.HomeStayClose == 0 {
		cfg.HomeStayClose = def.HomeStayClose
	}
	if cfg.MaxPlausibleSpeed == 0 {
		cfg.MaxPlausibleSpeed = def.MaxPlausibleSpeed
	}
	if cfg.DedupeWindow == 0 {
		cfg.DedupeWindow = def.DedupeWindow
	}
	if cfg.DedupeDistance == 0 {
		cfg.DedupeDistance = def.DedupeDistance
	}
	if cfg.GeocodePerSecond == 0 {
		cfg.GeocodePerSecond = def.GeocodePerSecond
	}
}

// validate rejects configurations that would make the pipeline lie.
func (cfg Config) validate() error {
	if cfg.SpatialThresholdMeters <= 0 {
		return fmt.Errorf("spatial threshold must be positive, got %v", cfg.SpatialThresholdMeters)
	}
	if cfg.MinVisitDuration <= 0 {
		return fmt.Errorf("minimum visit duration must be positive, got %v", cfg.MinVisitDuration)
	}
	if cfg.MaxClusterGap < cfg.MinVisitDuration {
		return fmt.Errorf("max cluster gap %v is shorter than the minimum visit duration %v",
			cfg.MaxClusterGap, cfg.MinVisitDuration)
	}
	if cfg.SimplifyEpsilonMeters < 0 {
		return fmt.Errorf("simplify epsilon must not be negative, got %v", cfg.SimplifyEpsilonMeters)
	}
	if cfg.WalkMaxKmh <= 0 || cfg.BikeMaxKmh <= cfg.WalkMaxKmh ||
		cfg.CarMaxKmh <= cfg.BikeMaxKmh || cfg.PlaneMinKmh <= cfg.CarMaxKmh {
		return errors.New("transport speed bands must be ordered: 0 < walk < bike < car < plane")
	}
	if cfg.TrainMinKmh <= cfg.BikeMaxKmh || cfg.TrainMinKmh >= cfg.CarMaxKmh {
		return fmt.Errorf("train consideration speed %v must sit inside the car band (%v, %v)",
			cfg.TrainMinKmh, cfg.BikeMaxKmh, cfg.CarMaxKmh)
	}
	if cfg.TrainMaxTortuosity < 1 {
		return fmt.Errorf("tortuosity is a ratio >= 1, got %v", cfg.TrainMaxTortuosity)
	}
	if cfg.PlaneMinAltitudeGain <= 0 {
		return fmt.Errorf("plane altitude gain must be positive, got %v", cfg.PlaneMinAltitudeGain)
	}
	if cfg.TripInactivityGap <= 0 || cfg.HomeStayClose <= 0 {
		return errors.New("trip gap thresholds must be positive")
	}
	if cfg.MaxPlausibleSpeed <= 0 {
		return fmt.Errorf("max plausible speed must be positive, got %v", cfg.MaxPlausibleSpeed)
	}
	if cfg.DedupeWindow < 0 || cfg.DedupeDistance < 0 {
		return errors.New("dedupe thresholds must not be negative")
	}
	if cfg.GeocodePerSecond <= 0 {
		return fmt.Errorf("geocode rate must be positive, got %v", cfg.GeocodePerSecond)
	}
	return nil
}

// prepared fills defaults and validates in one step; every entry point
// that accepts a Config goes through here first.
func (cfg Config) prepared() (Config, error) {
	cfg.fill()
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
