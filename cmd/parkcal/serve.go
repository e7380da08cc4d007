package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"parkcal/internal/feed"
	appLog "parkcal/internal/log"
	"parkcal/internal/web"
)

// refreshSlack covers parsing and cache writes on top of the fetch budget.
const refreshSlack = 5 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "refresh feeds on a schedule and serve the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides config if set)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}

			appLog.Info("parkcal starting",
				"version", version,
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"refresh", cfg.RefreshCron,
				"feeds", len(cfg.Feeds),
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := feed.NewStore()
			refresher := feed.NewRefresher(cfg, store)

			if n := refresher.Warm(); n > 0 {
				appLog.Info("serving cached events until the first refresh", "events", n)
			}

			// Serve even if the first refresh fails; the scheduler retries.
			budget := refresher.Budget()
			initCtx, cancel := context.WithTimeout(ctx, budget+refreshSlack)
			if _, err := refresher.Refresh(initCtx); err != nil {
				appLog.Warn("initial refresh failed", "err", err.Error())
			}
			cancel()

			sched, err := feed.NewScheduler(cfg.RefreshCron, budget+refreshSlack, refresher)
			if err != nil {
				return err
			}
			sched.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				sched.Stop(stopCtx)
				appLog.Info("parkcal exiting")
			}()

			return web.NewServer(cfg, store, refresher).Run(ctx)
		},
	}
}
