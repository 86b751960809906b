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
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if _, err := DefaultConfig().prepared(); err != nil {
		t.Fatalf("the shipped defaults do not validate: %v", err)
	}
}

func TestZeroConfigFillsDefaults(t *testing.T) {
	cfg, err := Config{}.prepared()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("zero config prepared to %+v, want the defaults", cfg)
	}
}

func TestPartialConfigKeepsOverrides(t *testing.T) {
	cfg, err := Config{SpatialThresholdMeters: 200}.prepared()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpatialThresholdMeters != 200 {
		t.Errorf("override was lost: %v", cfg.SpatialThresholdMeters)
	}
	if cfg.MinVisitDuration != 12*time.Minute {
		t.Errorf("unset field not defaulted: %v", cfg.MinVisitDuration)
	}
}

func TestConfigValidation(t *testing.T) {
	mutate := func(f func(*Config)) Config {
		cfg := DefaultConfig()
		f(&cfg)
		return cfg
	}

	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"negative spatial threshold", mutate(func(c *Config) { c.SpatialThresholdMeters = -5 })},
		{"negative visit duration", mutate(func(c *Config) { c.MinVisitDuration = -time.Minute })},
		{"gap shorter than visit", mutate(func(c *Config) { c.MaxClusterGap = time.Minute })},
		{"negative epsilon", mutate(func(c *Config) { c.SimplifyEpsilonMeters = -1 })},
		{"walk faster than bike", mutate(func(c *Config) { c.WalkMaxKmh = 30 })},
		{"bike faster than car", mutate(func(c *Config) { c.BikeMaxKmh = 150 })},
		{"plane slower than car", mutate(func(c *Config) { c.PlaneMinKmh = 100 })},
		{"train below bike band", mutate(func(c *Config) { c.TrainMinKmh = 20 })},
		{"train above car band", mutate(func(c *Config) { c.TrainMinKmh = 130 })},
		{"tortuosity below one", mutate(func(c *Config) { c.TrainMaxTortuosity = 0.5 })},
		{"negative altitude gain", mutate(func(c *Config) { c.PlaneMinAltitudeGain = -100 })},
		{"negative trip gap", mutate(func(c *Config) { c.TripInactivityGap = -time.Hour })},
		{"negative home close", mutate(func(c *Config) { c.HomeStayClose = -time.Hour })},
		{"negative plausible speed", mutate(func(c *Config) { c.MaxPlausibleSpeed = -1 })},
		{"negative dedupe window", mutate(func(c *Config) { c.DedupeWindow = -time.Second })},
		{"negative geocode rate", mutate(func(c *Config) { c.GeocodePerSecond = -2 })},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.cfg.prepared(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
