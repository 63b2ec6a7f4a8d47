// Command weather searches cities, shows forecasts and manages favorites
// against WeatherAPI.com.
//
// Usage:
//
//	weather search <query>       search cities and show a forecast per result
//	weather interactive          type queries; results refresh as you type
//	weather forecast [-refresh] <city-id>   detailed forecast for one city
//	weather favorites            forecasts for every favorite
//	weather toggle <city-id>     add or remove a favorite
//	weather watch [-interval d]  re-resolve favorites periodically
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/app"
	"github.com/kjstillabower/city-weather/internal/config"
	"github.com/kjstillabower/city-weather/internal/detail"
	"github.com/kjstillabower/city-weather/internal/favorites"
	"github.com/kjstillabower/city-weather/internal/observability"
)

const usage = `usage: weather <command> [args]

commands:
  search <query>        search cities and show a forecast per result
  interactive           type queries; results refresh as you type
  forecast [-refresh] <city-id>
                        detailed forecast for one city
  favorites             forecasts for every favorite
  toggle <city-id>      add or remove a favorite
  watch [-interval d]   re-resolve favorites periodically
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
			fmt.Fprintf(stderr, "telemetry flush: %v\n", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup", zap.Error(err))
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()
	if _, err := a.StartOps(); err != nil {
		logger.Warn("ops listener disabled", zap.Error(err))
	}

	if err := dispatch(ctx, a, cmd, rest, stdin, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		fmt.Fprintf(stderr, "error: %s\n", describe(err))
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, a *app.App, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "search":
		if len(args) == 0 {
			return errUsage
		}
		return runSearch(ctx, a, joinArgs(args), stdout)
	case "interactive":
		return runInteractive(ctx, a, stdin, stdout)
	case "forecast":
		fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		refresh := fs.Bool("refresh", false, "bypass the cached forecast")
		if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
			return errUsage
		}
		id := fs.Arg(0)
		if *refresh {
			if err := a.Weather.InvalidateForecast(ctx, id); err != nil {
				return err
			}
		}
		snap, err := a.Detail(ctx, id)
		if err != nil {
			return err
		}
		return printSummary(stdout, detail.Summarize(snap))
	case "favorites":
		return printResolution(stdout, a.Favorites.Resolve(ctx, a.Favorites.Current()))
	case "toggle":
		if len(args) != 1 {
			return errUsage
		}
		res, err := a.Favorites.ToggleResolved(ctx, args[0])
		if err != nil {
			return err
		}
		return printToggle(stdout, args[0], res)
	case "watch":
		fs := flag.NewFlagSet("watch", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		interval := fs.Duration("interval", a.Config.RefreshInterval, "refresh interval")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		return runWatch(ctx, a, *interval, stdout)
	default:
		return errUsage
	}
}

func runSearch(ctx context.Context, a *app.App, query string, stdout io.Writer) error {
	a.Search.SetQuery(ctx, query)
	view, err := a.Search.Await(ctx)
	if err != nil {
		return err
	}
	if view.Err != nil {
		return view.Err
	}
	return printSearchView(stdout, view, a.Favorites.Current())
}

func runWatch(ctx context.Context, a *app.App, interval time.Duration, stdout io.Writer) error {
	if len(a.Favorites.Current()) == 0 {
		fmt.Fprintln(stdout, "No favorites yet. Add one with: weather toggle <city-id>")
		return nil
	}
	fmt.Fprintf(stdout, "Refreshing %d favorites every %s (Ctrl-C to stop)\n", len(a.Favorites.Current()), interval)
	return a.Watch(ctx, interval, func(r favorites.Resolution) {
		fmt.Fprintf(stdout, "\n== %s ==\n", time.Now().Format("15:04:05"))
		_ = printResolution(stdout, r)
	})
}
