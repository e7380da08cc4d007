package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"parkcal/internal/config"
	"parkcal/internal/feed"
	"parkcal/internal/ics"
	"parkcal/internal/model"
	"parkcal/internal/status"
	"parkcal/internal/tz"
)

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print parking windows for one view",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "read a local .ics file instead of the configured feeds",
			},
			&cli.StringFlag{
				Name:  "view",
				Value: "now",
				Usage: "now, today or upcoming",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print cards as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			view, err := status.ParseView(c.String("view"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			events, err := loadEvents(c.Context, cfg, c.String("file"))
			if err != nil {
				return err
			}
			return show(c.App.Writer, cfg, events, view, time.Now(), c.Bool("json"))
		},
	}
}

// loadEvents parses path when set, otherwise runs one refresh of the
// configured feeds.
func loadEvents(ctx context.Context, cfg *config.Config, path string) ([]model.ParkingEvent, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		p := &ics.Parser{DefaultZone: cfg.Timezone, Resolver: tz.NewResolver()}
		return p.Parse(string(raw)), nil
	}

	store := feed.NewStore()
	if _, err := feed.NewRefresher(cfg, store).Refresh(ctx); err != nil {
		return nil, err
	}
	return store.Snapshot().Events, nil
}

func show(w io.Writer, cfg *config.Config, events []model.ParkingEvent, view status.View, now time.Time, asJSON bool) error {
	engine := &status.Engine{Zone: cfg.Timezone, Resolver: tz.NewResolver()}
	selected, err := engine.Filter(events, view, now)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cards := status.Cards(selected, now, loc)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	}

	if len(cards) == 0 {
		_, err := fmt.Fprintf(w, "No event parking (%s).\n", view)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, card := range cards {
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\t%s\n",
			card.Facility, card.Date, card.TimeRange, card.Label, card.Rate, card.EventName)
	}
	return tw.Flush()
}
