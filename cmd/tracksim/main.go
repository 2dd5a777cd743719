// tracksim replays a recorded route trace against the tracker, publishing a
// position report at a fixed interval the way a vehicle-mounted agent would.
// Reports go to the HTTP ingress by default, or straight to Kafka when
// brokers are given.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/cli"
	"github.com/AlveZs/ifc-code-delivery/internal/version"
)

const defaultInterval = 500 * time.Millisecond

type simFlags struct {
	RouteID   string
	TraceFile string
	ServerURL string
	Token     string
	Brokers   string
	Topic     string
	ClientID  string
	Interval  time.Duration
	Loop      bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("tracksim", flag.ContinueOnError)
	parsed := simFlags{}
	flags.StringVar(&parsed.RouteID, "route", "", "Route id to replay (required)")
	flags.StringVar(&parsed.TraceFile, "trace", "data/traces.json", "Trace file with recorded positions")
	flags.StringVar(&parsed.ServerURL, "server", "http://localhost:8080", "Tracker base URL for the HTTP ingress")
	flags.StringVar(&parsed.Token, "token", os.Getenv("TRACKERD_TOKEN"), "Auth token for the HTTP ingress")
	flags.StringVar(&parsed.Brokers, "brokers", "", "Comma-separated Kafka brokers; publishes to Kafka instead of HTTP")
	flags.StringVar(&parsed.Topic, "topic", "route.new-position", "Kafka topic for position reports")
	flags.StringVar(&parsed.ClientID, "client", "tracksim", "Client id stamped on every report")
	flags.DurationVar(&parsed.Interval, "interval", defaultInterval, "Delay between position reports")
	flags.BoolVar(&parsed.Loop, "loop", false, "Restart the trace after finishing")
	helpVersion := cli.AddHelpVersionFlags(flags)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if helpVersion.Help {
		flags.SetOutput(os.Stdout)
		flags.PrintDefaults()
		return 0
	}
	if helpVersion.Version {
		fmt.Printf("tracksim %s\n", version.GetInfo())
		return 0
	}
	if parsed.RouteID == "" {
		fmt.Fprintln(os.Stderr, "tracksim: -route is required")
		return 1
	}

	trace, err := loadTrace(parsed.TraceFile, parsed.RouteID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var publisher reportPublisher
	if parsed.Brokers != "" {
		kafkaPub := newKafkaPublisher(strings.Split(parsed.Brokers, ","), parsed.Topic)
		defer kafkaPub.Close()
		publisher = kafkaPub
	} else {
		publisher = newHTTPPublisher(parsed.ServerURL, parsed.Token)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver := &driver{
		RouteID:   parsed.RouteID,
		ClientID:  parsed.ClientID,
		Trace:     trace,
		Interval:  parsed.Interval,
		Publisher: publisher,
		Loop:      parsed.Loop,
	}
	if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
