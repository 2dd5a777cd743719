// trackwatch is a terminal observer: it watches routes over the tracker's
// observer websocket and logs overlay changes as vehicles move. It is the
// headless counterpart of a map frontend and doubles as a smoke test for a
// running trackerd.
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
	"github.com/AlveZs/ifc-code-delivery/internal/client"
	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/overlay"
	"github.com/AlveZs/ifc-code-delivery/internal/planner"
	"github.com/AlveZs/ifc-code-delivery/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("trackwatch", flag.ContinueOnError)
	serverURL := flags.String("server", "http://localhost:8080", "Tracker base URL")
	token := flags.String("token", os.Getenv("TRACKERD_TOKEN"), "Auth token")
	routes := flags.String("routes", "", "Comma-separated route ids to watch (required)")
	osrmURL := flags.String("osrm", "", "OSRM base URL for path planning; straight lines when empty")
	interval := flags.Duration("interval", 2*time.Second, "Delay between overlay reports")
	verbose := flags.Bool("verbose", false, "Log at debug level")
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
		fmt.Printf("trackwatch %s\n", version.GetInfo())
		return 0
	}

	routeIDs := splitRoutes(*routes)
	if len(routeIDs) == 0 {
		fmt.Fprintln(os.Stderr, "trackwatch: -routes is required")
		return 1
	}

	logLevel := logging.LevelInfo
	if *verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(logging.NewBuffer(logging.DefaultBufferSize), logLevel)

	var pathPlanner planner.Planner = planner.StraightLine{}
	if *osrmURL != "" {
		pathPlanner = &planner.OSRM{BaseURL: *osrmURL}
	}

	coordinator := overlay.NewCoordinator(overlay.CoordinatorOptions{
		Planner: pathPlanner,
		Logger:  logger,
		Notifier: overlay.NotifierFunc(func(routeID string) {
			logger.Info("route finished", map[string]string{
				"route_id": routeID,
			})
		}),
	})
	defer coordinator.Close()

	observer := client.New(client.Options{
		BaseURL:     *serverURL,
		Token:       *token,
		Coordinator: coordinator,
		Logger:      logger,
	})
	for _, routeID := range routeIDs {
		if err := observer.Watch(routeID); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go reportOverlays(ctx, coordinator, routeIDs, logger, *interval)

	if err := observer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func splitRoutes(raw string) []string {
	parts := strings.Split(raw, ",")
	routes := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			routes = append(routes, part)
		}
	}
	return routes
}

func reportOverlays(ctx context.Context, coordinator *overlay.Coordinator, routeIDs []string, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, routeID := range routeIDs {
			state, ok := coordinator.Get(routeID)
			if !ok {
				continue
			}
			logger.Info("route position", map[string]string{
				"route_id": routeID,
				"color":    state.Color,
				"lat":      fmt.Sprintf("%.5f", state.Current.Lat),
				"lng":      fmt.Sprintf("%.5f", state.Current.Lng),
			})
		}
	}
}
