package main

import (
	"context"
	"time"
)

// driver replays a trace, one report per interval, marking the last position
// as finished. With Loop set it starts over instead of stopping.
type driver struct {
	RouteID   string
	ClientID  string
	Trace     routeTrace
	Interval  time.Duration
	Publisher reportPublisher
	Loop      bool
}

func (d *driver) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	for {
		if err := d.replayOnce(ctx, interval); err != nil {
			return err
		}
		if !d.Loop {
			return nil
		}
	}
}

func (d *driver) replayOnce(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for index, position := range d.Trace.Positions {
		report := positionReport{
			RouteID:  d.RouteID,
			ClientID: d.ClientID,
			Position: position,
			Finished: index == len(d.Trace.Positions)-1,
		}
		if err := d.Publisher.Publish(ctx, report); err != nil {
			return err
		}
		if index == len(d.Trace.Positions)-1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
