//go:generate go run generator.go

package main

import (
	_ "github.com/travelog/travelog/sources/gpx"
	_ "github.com/travelog/travelog/sources/nmea"
)
