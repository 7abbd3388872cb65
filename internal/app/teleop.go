// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/kinematics"
	"github.com/relabs-tech/epuck_driver/internal/mqttio"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

const (
	defaultTeleopSpeed = 0.05 // m/s
	defaultTeleopTurn  = 1.0  // rad/s
)

// teleopCommand computes the command a shell verb produces from the current
// one. fwd/back keep the turn rate, turn keeps the linear speed.
func teleopCommand(verb string, args []string, cur twist.Twist) (twist.Twist, error) {
	arg := func(i int, def float64) (float64, error) {
		if len(args) <= i {
			return def, nil
		}
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad number %q", verb, args[i])
		}
		return v, nil
	}

	next := cur
	switch verb {
	case "fwd":
		v, err := arg(0, defaultTeleopSpeed)
		if err != nil {
			return cur, err
		}
		next.LinearX = v
	case "back":
		v, err := arg(0, defaultTeleopSpeed)
		if err != nil {
			return cur, err
		}
		next.LinearX = -v
	case "turn":
		v, err := arg(0, defaultTeleopTurn)
		if err != nil {
			return cur, err
		}
		next.AngularZ = v
	case "drive":
		if len(args) != 2 {
			return cur, fmt.Errorf("drive: want <linear m/s> <angular rad/s>")
		}
		lin, err := arg(0, 0)
		if err != nil {
			return cur, err
		}
		ang, err := arg(1, 0)
		if err != nil {
			return cur, err
		}
		next = twist.Twist{LinearX: lin, AngularZ: ang}
	case "stop":
		next = twist.Twist{}
	default:
		return cur, fmt.Errorf("unknown command %q", verb)
	}
	return next, nil
}

func RunTeleop() error {
	cfg := config.Get()

	client, err := mqttio.Connect(cfg.MQTTBroker, cfg.MQTTClientIDTeleop, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	var cur twist.Twist
	send := func(c *ishell.Context, verb string) {
		next, err := teleopCommand(verb, c.Args, cur)
		if err != nil {
			c.Println(err.Error())
			return
		}
		if err := mqttio.PublishCommand(client, cfg.TopicCmdVel, next); err != nil {
			c.Println(err.Error())
			return
		}
		cur = next
		l, r := kinematics.CmdToRegisters(cur.LinearX, cur.AngularZ)
		c.Printf("linear=%.3f m/s angular=%.3f rad/s (registers %d %d)\n", cur.LinearX, cur.AngularZ, l, r)
	}

	shell := ishell.New()
	shell.Println("e-puck teleop, publishing to " + cfg.TopicCmdVel)

	for _, cmd := range []struct{ name, help string }{
		{"fwd", "fwd [m/s]: drive forward, keeps turn rate"},
		{"back", "back [m/s]: drive backward, keeps turn rate"},
		{"turn", "turn [rad/s]: set turn rate (positive is left), keeps speed"},
		{"drive", "drive <m/s> <rad/s>: set both"},
		{"stop", "stop: zero both"},
	} {
		verb := cmd.name
		shell.AddCmd(&ishell.Cmd{
			Name: verb,
			Help: cmd.help,
			Func: func(c *ishell.Context) { send(c, verb) },
		})
	}
	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "show the last command sent",
		Func: func(c *ishell.Context) {
			c.Printf("linear=%.3f m/s angular=%.3f rad/s\n", cur.LinearX, cur.AngularZ)
		},
	})

	shell.Start()

	// Leave the robot standing when the shell exits.
	if err := mqttio.PublishCommand(client, cfg.TopicCmdVel, twist.Twist{}); err != nil {
		log.Printf("teleop: final stop: %v", err)
	}
	return nil
}
