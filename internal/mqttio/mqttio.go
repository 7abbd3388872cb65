// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttio bridges the driver to an MQTT broker: velocity commands
// come in on one topic, scans and telemetry go out on others.
package mqttio

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/scan"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

const publishTimeout = 2 * time.Second

var (
	connectTimeout = 10 * time.Second
	newClient      = mqtt.NewClient
)

// Connect opens a client with automatic reconnect and waits for the first
// connection.
func Connect(broker, clientID string, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection to %s lost, reconnecting: %v", broker, err)
		})
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	client := newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Connect retries in the background; stop it before giving up.
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)
	return client, nil
}

// Publisher implements driver.Publisher on an MQTT client. An empty
// telemetry topic disables telemetry.
type Publisher struct {
	Client         mqtt.Client
	ScanTopic      string
	TelemetryTopic string
}

var _ driver.Publisher = (*Publisher)(nil)

func (p *Publisher) PublishScan(s scan.Scan) error {
	return p.publish(p.ScanTopic, s)
}

func (p *Publisher) PublishTelemetry(t driver.Telemetry) error {
	if p.TelemetryTopic == "" {
		return nil
	}
	return p.publish(p.TelemetryTopic, t)
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	// QoS 0, not retained: a scan is only meaningful for one tick.
	token := p.Client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish (%s): timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish (%s): %w", topic, err)
	}
	return nil
}

// CommandHandler returns a message handler that parses velocity commands and
// passes them to submit. Malformed payloads are logged and dropped.
func CommandHandler(submit func(twist.Twist)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		cmd, err := twist.Parse(msg.Payload())
		if err != nil {
			log.Printf("mqtt: %s: dropping command: %v", msg.Topic(), err)
			return
		}
		submit(cmd)
	}
}

// Subscribe subscribes handler to topic at QoS 0 and waits for the ack.
func Subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	log.Printf("mqtt: subscribed to %s", topic)
	return nil
}

// PublishCommand sends one velocity command, used by the teleop shell.
func PublishCommand(client mqtt.Client, topic string, cmd twist.Twist) error {
	p := &Publisher{Client: client}
	return p.publish(topic, cmd)
}
