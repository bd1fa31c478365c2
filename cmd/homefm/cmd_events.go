/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/homefm/internal/config"
	"github.com/friendsincode/homefm/internal/eventbus"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail broadcasts mirrored to Redis or NATS",
	Long:  "Print every broadcast a running homefm server mirrors to the configured event bus (HOMEFM_EVENT_MIRROR).",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	show := func(m *eventbus.Message) {
		fmt.Fprintf(out, "%s %s success=%t %s\n", m.Timestamp.Format(time.RFC3339), m.Action, m.Success, m.Value)
	}

	nodeID := eventbus.NodeID("")
	switch cfg.EventMirror {
	case config.EventMirrorRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		rm := eventbus.NewRedisMirror(redisCfg, nodeID, logger)
		defer rm.Close()
		return rm.Subscribe(ctx, show)
	case config.EventMirrorNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		if cfg.NATSURL != "" {
			natsCfg.URL = cfg.NATSURL
		}
		nm, err := eventbus.NewNATSMirror(natsCfg, nodeID, logger)
		if err != nil {
			return err
		}
		defer nm.Close()
		return nm.Subscribe(ctx, show)
	default:
		fmt.Fprintln(os.Stderr, "event mirroring is disabled; set HOMEFM_EVENT_MIRROR=redis or nats")
		return nil
	}
}
