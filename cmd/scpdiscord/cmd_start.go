// SCPDiscord - Discord bridge for SCP: Secret Laboratory servers
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/scpdiscord/scpdiscord/pkg/bus"
	"github.com/scpdiscord/scpdiscord/pkg/config"
	"github.com/scpdiscord/scpdiscord/pkg/discord"
	"github.com/scpdiscord/scpdiscord/pkg/gateway"
	"github.com/scpdiscord/scpdiscord/pkg/interactions"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/plugin"
	"github.com/scpdiscord/scpdiscord/pkg/scheduler"
)

func startCmd() {
	args := os.Args[2:]
	path := configPathArg(args)
	debug := false
	var leave []uint64

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			debug = true
		case "--leave":
			if i+1 < len(args) {
				id, err := strconv.ParseUint(args[i+1], 10, 64)
				if err != nil {
					fmt.Printf("Invalid server id for --leave: %s\n", args[i+1])
					os.Exit(1)
				}
				leave = append(leave, id)
				i++
			}
		}
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Bot.LeaveServers = append(cfg.Bot.LeaveServers, leave...)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config %s: %v\n", path, err)
		os.Exit(1)
	}

	setupLogging(cfg.Log, debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.FatalCF("main", "Bridge stopped with error", map[string]any{"error": err.Error()})
	}
	logger.InfoC("main", "Bridge stopped")
}

func setupLogging(cfg config.LogConfig, debug bool) {
	if cfg.JSON {
		logger.SetOutput(os.Stderr)
	} else {
		logger.UseConsole(os.Stderr)
	}

	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		logger.WarnCF("main", "Unknown log level, using info", map[string]any{"level": cfg.Level})
		level = logger.INFO
	}
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
}

// run wires the bridge and blocks until ctx is cancelled or a component
// fails.
func run(ctx context.Context, cfg *config.Config) error {
	msgBus := bus.NewMessageBus()

	table := interactions.NewTable(cfg.Scheduler.InteractionTimeout(),
		interactions.WithRequestTime(discord.SnowflakeTime))
	queue := scheduler.NewQueue(cfg.Scheduler.MaxMessageLength)

	pluginServer := plugin.NewServer(plugin.Config{
		ListenAddr: cfg.Plugin.ListenAddr,
		Path:       cfg.Plugin.Path,
		Token:      cfg.Plugin.Token,
	}, msgBus)

	bot, err := discord.NewBot(discord.Config{
		Token:           cfg.Bot.Token,
		ServerID:        cfg.Bot.ServerID,
		DisableCommands: cfg.Bot.DisableCommands,
		PresenceText:    cfg.Bot.PresenceText,
		PresenceType:    cfg.Bot.PresenceType,
		StatusType:      cfg.Bot.StatusType,
		LeaveServers:    cfg.Bot.LeaveServers,
		SendTimeout:     cfg.Scheduler.SendTimeout(),
	}, table, pluginServer)
	if err != nil {
		return err
	}

	router := gateway.NewGateway(msgBus, queue, table, bot)
	pluginServer.OnConnectionChange(router.PluginConnectionChanged)

	dispatcher := scheduler.NewDispatcher(queue, bot, scheduler.Config{
		Interval:    cfg.Scheduler.TickInterval(),
		SendTimeout: cfg.Scheduler.SendTimeout(),
	}, table)

	logger.InfoCF("main", "Starting bridge", map[string]any{
		"version":     formatVersion(),
		"plugin_addr": cfg.Plugin.ListenAddr,
		"server_id":   cfg.Bot.ServerID,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })
	g.Go(func() error { return pluginServer.Run(ctx) })
	g.Go(func() error { return router.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	return g.Wait()
}
