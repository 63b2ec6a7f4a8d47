package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/kjstillabower/city-weather/internal/app"
	"github.com/kjstillabower/city-weather/internal/detail"
	"github.com/kjstillabower/city-weather/internal/search"
)

const interactiveHelp = `Type a city name to search. Commands:
  :fav N    toggle favorite for result N
  :show N   detailed forecast for result N
  :favs     forecasts for every favorite
  :q        quit
`

type command struct {
	name string
	arg  int
}

// parseCommand reads a ":name [N]" line. ok is false for plain queries.
func parseCommand(line string) (cmd command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return command{}, false, nil
	}
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return command{}, true, fmt.Errorf("empty command")
	}
	cmd.name = fields[0]
	switch cmd.name {
	case "fav", "show":
		if len(fields) != 2 {
			return command{}, true, fmt.Errorf(":%s needs a result number", cmd.name)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return command{}, true, fmt.Errorf("invalid result number %q", fields[1])
		}
		cmd.arg = n
	case "favs", "q", "quit", "help":
	default:
		return command{}, true, fmt.Errorf("unknown command :%s", cmd.name)
	}
	return cmd, true, nil
}

// viewPrinter prints each settled view once. Intermediate states are skipped.
type viewPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (p *viewPrinter) print(a *app.App, v search.View) {
	if v.State == search.Debouncing || v.State == search.Fetching || v.Pending > 0 {
		return
	}
	key := fmt.Sprintf("%s|%s|%d|%d|%d", v.Query, v.State, len(v.Results), len(v.Forecasts), len(v.ForecastErrors))
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.last {
		return
	}
	p.last = key
	_ = printSearchView(p.out, v, a.Favorites.Current())
	fmt.Fprint(p.out, "> ")
}

// reset forces the next view to print even if unchanged.
func (p *viewPrinter) reset() {
	p.mu.Lock()
	p.last = ""
	p.mu.Unlock()
}

func runInteractive(ctx context.Context, a *app.App, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	printer := &viewPrinter{out: stdout}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.Search.Changes():
				printer.print(a, a.Search.View())
			}
		}
	}()

	fmt.Fprint(stdout, interactiveHelp)
	q, err := a.Search.Restore(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "could not restore last search: %s\n", describe(err))
	} else if q != "" {
		fmt.Fprintf(stdout, "Searching %q\n", q)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			cmd, isCmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(stdout, "%s\n> ", err)
				continue
			}
			if !isCmd {
				a.Search.SetQuery(ctx, line)
				continue
			}
			if cmd.name == "q" || cmd.name == "quit" {
				return nil
			}
			handleCommand(ctx, a, cmd, stdout)
			printer.reset()
			fmt.Fprint(stdout, "> ")
		}
	}
}

func handleCommand(ctx context.Context, a *app.App, cmd command, stdout io.Writer) {
	switch cmd.name {
	case "help":
		fmt.Fprint(stdout, interactiveHelp)
	case "favs":
		_ = printResolution(stdout, a.Favorites.Resolve(ctx, a.Favorites.Current()))
	case "fav", "show":
		v := a.Search.View()
		if cmd.arg > len(v.Results) {
			fmt.Fprintf(stdout, "no result %d\n", cmd.arg)
			return
		}
		id := v.Results[cmd.arg-1].ID
		if cmd.name == "fav" {
			res, err := a.Favorites.ToggleResolved(ctx, id)
			if err != nil {
				fmt.Fprintf(stdout, "error: %s\n", describe(err))
				return
			}
			_ = printToggle(stdout, id, res)
			return
		}
		snap, err := a.Detail(ctx, id)
		if err != nil {
			fmt.Fprintf(stdout, "error: %s\n", describe(err))
			return
		}
		_ = printSummary(stdout, detail.Summarize(snap))
	}
}
