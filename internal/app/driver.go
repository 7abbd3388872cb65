// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/mqttio"
	"github.com/relabs-tech/epuck_driver/internal/proximity"
)

// driverOptions maps configuration onto driver options.
func driverOptions(cfg *config.Config) (driver.Options, error) {
	policy, err := driver.ParseStalePolicy(cfg.StaleScan)
	if err != nil {
		return driver.Options{}, err
	}

	model := proximity.Default()
	if cfg.DistanceTableFile != "" {
		model, err = proximity.LoadModel(cfg.DistanceTableFile)
		if err != nil {
			return driver.Options{}, err
		}
		log.Printf("driver: using distance table %s", cfg.DistanceTableFile)
	}

	return driver.Options{
		Addr:        cfg.MCUI2CAddr,
		FrameID:     cfg.ScanFrameID,
		Period:      time.Duration(cfg.TickInterval) * time.Millisecond,
		Model:       model,
		Checksum:    cfg.FrameChecksum,
		StalePolicy: policy,
	}, nil
}

// RunDriver runs the robot bridge until SIGINT or SIGTERM.
func RunDriver() error {
	cfg := config.Get()

	opts, err := driverOptions(cfg)
	if err != nil {
		return err
	}

	tr, err := bus.Open(cfg.I2CTransport, cfg.I2CBus)
	if err != nil {
		return err
	}
	defer tr.Close()
	log.Printf("driver: opened %s bus %s", cfg.I2CTransport, cfg.I2CBus)

	state := driver.NewState(opts)

	// The runner exists before the client so the command handler can be
	// installed from OnConnect, which re-subscribes after every reconnect.
	pub := &mqttio.Publisher{ScanTopic: cfg.TopicScan, TelemetryTopic: cfg.TopicTelemetry}
	runner := driver.NewRunner(state, tr, pub)
	runner.Telemetry = cfg.TopicTelemetry != ""

	onConnect := func(c mqtt.Client) {
		if err := mqttio.Subscribe(c, cfg.TopicCmdVel, mqttio.CommandHandler(runner.Submit)); err != nil {
			log.Printf("driver: %v", err)
		}
	}
	client, err := mqttio.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDriver, onConnect)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub.Client = client

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = runner.Run(ctx)
	st := runner.Stats()
	log.Printf("driver: shutting down after %d ticks (%d good, %d stale, %d read errors, %d overruns)",
		st.Ticks, st.Good, st.Stale, st.ReadErrors, st.Overruns)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("driver: %w", err)
}
