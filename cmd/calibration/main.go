// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided calibration of the IR proximity distance table.
// For each prompted distance the operator places an obstacle in front of the
// selected sensors; the tool averages raw intensities over a number of MCU
// exchanges with the wheels stopped.
//
// Output:
//
//	Writes a JSON breakpoint table (default ./proximity_table.json) that the
//	driver loads through DISTANCE_TABLE_FILE.
//
// Run (driver must be stopped, the MCU link allows one master):
//
//	go run ./cmd/calibration -sensors 0,7 -samples 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/relabs-tech/epuck_driver/internal/app"
	"github.com/relabs-tech/epuck_driver/internal/config"
)

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad sensor index %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseDistances(s string) ([]float64, error) {
	if s == "" {
		return app.DefaultCalibrationDistances(), nil
	}
	var out []float64
	for _, f := range strings.Split(s, ",") {
		mm, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("bad distance %q", f)
		}
		out = append(out, mm/1000)
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "epuck_config.txt", "Path to configuration file")
	sensors := flag.String("sensors", "0,7", "Comma separated proximity sensor indices to average")
	samples := flag.Int("samples", 50, "Good exchanges captured per distance")
	distances := flag.String("distances", "", "Comma separated distances in mm, nearest first (default: factory table rows)")
	output := flag.String("out", "proximity_table.json", "Output table file")
	flag.Parse()

	fmt.Println("=== Guided Proximity Calibration ===")
	fmt.Println()

	// Initialize configuration
	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	idx, err := parseInts(*sensors)
	if err != nil {
		fatal(err)
	}
	dist, err := parseDistances(*distances)
	if err != nil {
		fatal(err)
	}
	if *samples < 1 {
		fatal(fmt.Errorf("samples must be at least 1"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = app.RunCalibration(ctx, os.Stdin, os.Stdout, app.CalibrationOptions{
		Distances: dist,
		Sensors:   idx,
		Samples:   *samples,
		Output:    *output,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println("\nCalibration complete.")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
