package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/detail"
	"github.com/kjstillabower/city-weather/internal/favorites"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/search"
	"github.com/kjstillabower/city-weather/internal/validation"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

// describe turns err into a one-line message for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, detail.ErrNotFound):
		return "city not found"
	case errors.Is(err, validation.ErrQueryTooShort),
		errors.Is(err, validation.ErrQueryTooLong),
		errors.Is(err, validation.ErrQueryInvalidChars),
		errors.Is(err, validation.ErrIdentifierInvalid),
		errors.Is(err, validation.ErrIdentifierEmpty):
		return err.Error()
	}
	return client.UserMessage(err, err.Error())
}

func favMark(favs favorites.Set, id string) string {
	if favs.Contains(id) {
		return "*"
	}
	return ""
}

func printSearchView(w io.Writer, v search.View, favs favorites.Set) error {
	switch {
	case v.State == search.Idle:
		fmt.Fprintln(w, "Type at least a couple of characters to search.")
		return nil
	case v.State == search.Errored:
		fmt.Fprintf(w, "Search failed: %s\n", describe(v.Err))
		if len(v.Results) == 0 {
			return nil
		}
	case v.Empty:
		fmt.Fprintf(w, "No cities found for %q\n", v.Query)
		return nil
	}

	snaps := make(map[string]models.ForecastSnapshot, len(v.Forecasts))
	for _, s := range v.Forecasts {
		snaps[s.CityID] = s
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "#\tFAV\tCITY\tTEMP\tCONDITION\tID")
	for i, c := range v.Results {
		temp, cond := "...", ""
		if s, ok := snaps[c.ID]; ok {
			temp = fmt.Sprintf("%.0f°C", s.Current.TempC)
			cond = s.Current.Condition.Text
		} else if err, ok := v.ForecastErrors[c.ID]; ok {
			temp = "n/a"
			cond = describe(err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, favMark(favs, c.ID), c.DisplayName(), temp, cond, c.ID)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s detail.Summary) error {
	place := s.Name
	for _, part := range []string{s.Region, s.Country} {
		if part != "" {
			place += ", " + part
		}
	}
	fmt.Fprintln(w, place)
	fmt.Fprintf(w, "%.1f°C (feels like %.1f°C), %s\n", s.TempC, s.FeelsLikeC, s.Condition)
	fmt.Fprintf(w, "Humidity %d%%  Wind %.1f km/h %s  UV %.1f  Visibility %.1f km  Pressure %.2f in\n",
		s.Humidity, s.WindKph, s.WindDir, s.UV, s.VisKm, s.PressureIn)
	if s.Sunrise != "" || s.Sunset != "" {
		fmt.Fprintf(w, "Sunrise %s  Sunset %s\n", s.Sunrise, s.Sunset)
	}

	for _, a := range s.Alerts {
		fmt.Fprintf(w, "ALERT: %s", a.Headline)
		if a.Severity != "" {
			fmt.Fprintf(w, " (%s)", a.Severity)
		}
		fmt.Fprintln(w)
	}

	if len(s.Days) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "DAY\tMIN\tMAX\tPRECIP\tWIND\tCONDITION")
		for _, d := range s.Days {
			fmt.Fprintf(tw, "%s\t%.0f°C\t%.0f°C\t%.1f mm\t%.0f km/h\t%s\n", d.Weekday, d.MinTempC, d.MaxTempC, d.PrecipMm, d.MaxWindKph, d.Condition)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.Hours) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "HOUR\tTEMP\tCONDITION")
		for _, h := range s.Hours {
			fmt.Fprintf(tw, "%s\t%d°C\t%s\n", h.Label, h.TempC, h.Condition)
		}
		return tw.Flush()
	}
	return nil
}

func printResolution(w io.Writer, r favorites.Resolution) error {
	if len(r.Snapshots) == 0 && len(r.Errors) == 0 {
		fmt.Fprintln(w, "No favorites yet.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CITY\tTEMP\tCONDITION\tID")
	for _, s := range r.Snapshots {
		name := s.Location.Name
		if s.Location.Country != "" {
			name += ", " + s.Location.Country
		}
		fmt.Fprintf(tw, "%s\t%.0f°C\t%s\t%s\n", name, s.Current.TempC, s.Current.Condition.Text, s.CityID)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "%s\tn/a\t%s\t%s\n", e.ID, describe(e.Err), e.ID)
	}
	return tw.Flush()
}

func printToggle(w io.Writer, id string, r favorites.ToggleResult) error {
	switch {
	case !r.Added:
		fmt.Fprintf(w, "Removed %s from favorites.\n", id)
	case r.RolledBack:
		fmt.Fprintf(w, "Could not add %s: %s\n", id, describe(r.FetchErr))
	case r.FetchErr != nil:
		fmt.Fprintf(w, "Added %s to favorites (forecast unavailable: %s).\n", id, describe(r.FetchErr))
	default:
		name := id
		if r.Snapshot != nil {
			name = r.Snapshot.Location.Name
		}
		fmt.Fprintf(w, "Added %s to favorites.\n", name)
	}
	fmt.Fprintf(w, "%d favorites.\n", len(r.Set))
	return nil
}
