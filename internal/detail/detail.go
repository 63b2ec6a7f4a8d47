// Package detail loads a single city's forecast and shapes it for display.
package detail

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/validation"
)

// ErrNotFound is returned when there is no city to show: the identifier is
// missing, or the upstream does not know it.
var ErrNotFound = errors.New("city not found")

// HourlyRows is the number of hourly rows in a Summary.
const HourlyRows = 6

const (
	localTimeLayout = "2006-01-02 15:04"
	dateLayout      = "2006-01-02"
)

type ForecastSource interface {
	Forecast(ctx context.Context, cityID string) (models.ForecastSnapshot, error)
}

// Load resolves the forecast for id. Missing identifiers fail immediately and
// are never retried.
func Load(ctx context.Context, src ForecastSource, id string) (models.ForecastSnapshot, error) {
	if _, err := validation.ValidateIdentifier(id); err != nil {
		return models.ForecastSnapshot{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	snap, err := src.Forecast(ctx, id)
	if errors.Is(err, client.ErrLocationNotFound) {
		return models.ForecastSnapshot{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return models.ForecastSnapshot{}, err
	}
	return snap, nil
}

type DayRow struct {
	Date       string
	Weekday    string
	MinTempC   float64
	MaxTempC   float64
	PrecipMm   float64
	MaxWindKph float64
	Condition  string
}

type HourRow struct {
	Label     string // two-digit local hour, e.g. "07"
	TempC     int
	Condition string
}

// Summary is the detail view of one forecast.
type Summary struct {
	Name    string
	Region  string
	Country string

	TempC      float64
	FeelsLikeC float64
	Humidity   int
	WindKph    float64
	WindDir    string
	UV         float64
	VisKm      float64
	Condition  string

	Sunrise string
	Sunset  string

	// PressureIn is the day-0 hourly pressure at the location's current local
	// hour, or current pressure when that hour is not in the forecast.
	PressureIn float64

	Days   []DayRow
	Hours  []HourRow
	Alerts []models.Alert
}

func Summarize(snap models.ForecastSnapshot) Summary {
	s := Summary{
		Name:       snap.Location.Name,
		Region:     snap.Location.Region,
		Country:    snap.Location.Country,
		TempC:      snap.Current.TempC,
		FeelsLikeC: snap.Current.FeelsLikeC,
		Humidity:   snap.Current.Humidity,
		WindKph:    snap.Current.WindKph,
		WindDir:    snap.Current.WindDir,
		UV:         snap.Current.UV,
		VisKm:      snap.Current.VisKm,
		Condition:  snap.Current.Condition.Text,
		PressureIn: snap.Current.PressureIn,
		Alerts:     snap.Alerts,
	}
	loc := location(snap.Location.TimeZone)

	for _, d := range snap.Days {
		s.Days = append(s.Days, DayRow{
			Date:       d.Date,
			Weekday:    weekday(d.Date),
			MinTempC:   d.MinTempC,
			MaxTempC:   d.MaxTempC,
			PrecipMm:   d.TotalPrecipMm,
			MaxWindKph: d.MaxWindKph,
			Condition:  d.Condition.Text,
		})
	}
	if len(snap.Days) == 0 {
		return s
	}

	today := snap.Days[0]
	s.Sunrise = today.Astro.Sunrise
	s.Sunset = today.Astro.Sunset

	if localHour, ok := hourOf(snap.Location.LocalTime, snap.Location.LocalTimeEpoch, loc); ok {
		for _, h := range today.Hours {
			if hh, ok := hourOf(h.Time, h.TimeEpoch, loc); ok && hh == localHour {
				s.PressureIn = h.PressureIn
				break
			}
		}
	}

	for i, h := range today.Hours {
		if i == HourlyRows {
			break
		}
		label := "--"
		if hh, ok := hourOf(h.Time, h.TimeEpoch, loc); ok {
			label = fmt.Sprintf("%02d", hh)
		}
		s.Hours = append(s.Hours, HourRow{
			Label:     label,
			TempC:     int(math.Round(h.TempC)),
			Condition: h.Condition.Text,
		})
	}
	return s
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// hourOf returns the hour of a "YYYY-MM-DD HH:MM" local time string, falling
// back to the epoch in loc.
func hourOf(local string, epoch int64, loc *time.Location) (int, bool) {
	if t, err := time.Parse(localTimeLayout, local); err == nil {
		return t.Hour(), true
	}
	if epoch > 0 {
		return time.Unix(epoch, 0).In(loc).Hour(), true
	}
	return 0, false
}

func weekday(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return ""
	}
	return t.Weekday().String()[:3]
}
