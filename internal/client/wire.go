package client

import (
	"fmt"
	"time"

	"github.com/kjstillabower/city-weather/internal/models"
)

type searchResult struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	URL     string  `json:"url"`
}

type wireCondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

type forecastResponse struct {
	Location struct {
		Name           string  `json:"name"`
		Region         string  `json:"region"`
		Country        string  `json:"country"`
		Lat            float64 `json:"lat"`
		Lon            float64 `json:"lon"`
		TzID           string  `json:"tz_id"`
		LocaltimeEpoch int64   `json:"localtime_epoch"`
		Localtime      string  `json:"localtime"`
	} `json:"location"`
	Current struct {
		LastUpdatedEpoch int64         `json:"last_updated_epoch"`
		TempC            float64       `json:"temp_c"`
		TempF            float64       `json:"temp_f"`
		IsDay            int           `json:"is_day"`
		Condition        wireCondition `json:"condition"`
		WindKph          float64       `json:"wind_kph"`
		WindDir          string        `json:"wind_dir"`
		PressureMb       float64       `json:"pressure_mb"`
		PressureIn       float64       `json:"pressure_in"`
		PrecipMm         float64       `json:"precip_mm"`
		Humidity         int           `json:"humidity"`
		Cloud            int           `json:"cloud"`
		FeelslikeC       float64       `json:"feelslike_c"`
		VisKm            float64       `json:"vis_km"`
		UV               float64       `json:"uv"`
		GustKph          float64       `json:"gust_kph"`
	} `json:"current"`
	Forecast *struct {
		Forecastday []struct {
			Date      string `json:"date"`
			DateEpoch int64  `json:"date_epoch"`
			Day       struct {
				MaxtempC          float64       `json:"maxtemp_c"`
				MintempC          float64       `json:"mintemp_c"`
				AvgtempC          float64       `json:"avgtemp_c"`
				MaxwindKph        float64       `json:"maxwind_kph"`
				TotalprecipMm     float64       `json:"totalprecip_mm"`
				Avghumidity       float64       `json:"avghumidity"`
				DailyChanceOfRain int           `json:"daily_chance_of_rain"`
				DailyChanceOfSnow int           `json:"daily_chance_of_snow"`
				UV                float64       `json:"uv"`
				Condition         wireCondition `json:"condition"`
			} `json:"day"`
			Astro struct {
				Sunrise   string `json:"sunrise"`
				Sunset    string `json:"sunset"`
				Moonrise  string `json:"moonrise"`
				Moonset   string `json:"moonset"`
				MoonPhase string `json:"moon_phase"`
			} `json:"astro"`
			Hour []struct {
				TimeEpoch    int64         `json:"time_epoch"`
				Time         string        `json:"time"`
				TempC        float64       `json:"temp_c"`
				IsDay        int           `json:"is_day"`
				Condition    wireCondition `json:"condition"`
				WindKph      float64       `json:"wind_kph"`
				PressureMb   float64       `json:"pressure_mb"`
				PressureIn   float64       `json:"pressure_in"`
				Humidity     int           `json:"humidity"`
				FeelslikeC   float64       `json:"feelslike_c"`
				ChanceOfRain int           `json:"chance_of_rain"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Alerts struct {
		Alert []struct {
			Headline    string `json:"headline"`
			Severity    string `json:"severity"`
			Event       string `json:"event"`
			Effective   string `json:"effective"`
			Expires     string `json:"expires"`
			Desc        string `json:"desc"`
			Instruction string `json:"instruction"`
		} `json:"alert"`
	} `json:"alerts"`
}

func mapSearchResults(in []searchResult) []models.CityCandidate {
	out := make([]models.CityCandidate, 0, len(in))
	for _, r := range in {
		id := r.URL
		if id == "" {
			id = fmt.Sprintf("id:%d", r.ID)
		}
		out = append(out, models.CityCandidate{
			ID:      id,
			Name:    r.Name,
			Region:  r.Region,
			Country: r.Country,
			Lat:     r.Lat,
			Lon:     r.Lon,
		})
	}
	return out
}

func mapCondition(c wireCondition) models.Condition {
	return models.Condition{Text: c.Text, Icon: c.Icon, Code: c.Code}
}

// mapForecast converts the wire shape. A body without a forecast block is malformed.
func mapForecast(cityID string, r forecastResponse, fetchedAt time.Time) (models.ForecastSnapshot, error) {
	if r.Forecast == nil {
		return models.ForecastSnapshot{}, fmt.Errorf("missing forecast block")
	}
	if r.Location.Name == "" {
		return models.ForecastSnapshot{}, fmt.Errorf("missing location block")
	}

	snap := models.ForecastSnapshot{
		CityID: cityID,
		Location: models.Location{
			Name:           r.Location.Name,
			Region:         r.Location.Region,
			Country:        r.Location.Country,
			Lat:            r.Location.Lat,
			Lon:            r.Location.Lon,
			TimeZone:       r.Location.TzID,
			LocalTimeEpoch: r.Location.LocaltimeEpoch,
			LocalTime:      r.Location.Localtime,
		},
		Current: models.Current{
			LastUpdatedEpoch: r.Current.LastUpdatedEpoch,
			TempC:            r.Current.TempC,
			TempF:            r.Current.TempF,
			IsDay:            r.Current.IsDay == 1,
			Condition:        mapCondition(r.Current.Condition),
			WindKph:          r.Current.WindKph,
			WindDir:          r.Current.WindDir,
			PressureMb:       r.Current.PressureMb,
			PressureIn:       r.Current.PressureIn,
			PrecipMm:         r.Current.PrecipMm,
			Humidity:         r.Current.Humidity,
			Cloud:            r.Current.Cloud,
			FeelsLikeC:       r.Current.FeelslikeC,
			VisKm:            r.Current.VisKm,
			UV:               r.Current.UV,
			GustKph:          r.Current.GustKph,
		},
		Days:      make([]models.DailyForecast, 0, len(r.Forecast.Forecastday)),
		FetchedAt: fetchedAt,
	}

	for _, fd := range r.Forecast.Forecastday {
		day := models.DailyForecast{
			Date:          fd.Date,
			DateEpoch:     fd.DateEpoch,
			MaxTempC:      fd.Day.MaxtempC,
			MinTempC:      fd.Day.MintempC,
			AvgTempC:      fd.Day.AvgtempC,
			MaxWindKph:    fd.Day.MaxwindKph,
			TotalPrecipMm: fd.Day.TotalprecipMm,
			AvgHumidity:   fd.Day.Avghumidity,
			ChanceOfRain:  fd.Day.DailyChanceOfRain,
			ChanceOfSnow:  fd.Day.DailyChanceOfSnow,
			UV:            fd.Day.UV,
			Condition:     mapCondition(fd.Day.Condition),
			Astro: models.Astro{
				Sunrise:   fd.Astro.Sunrise,
				Sunset:    fd.Astro.Sunset,
				Moonrise:  fd.Astro.Moonrise,
				Moonset:   fd.Astro.Moonset,
				MoonPhase: fd.Astro.MoonPhase,
			},
			Hours: make([]models.HourlyForecast, 0, len(fd.Hour)),
		}
		for _, h := range fd.Hour {
			day.Hours = append(day.Hours, models.HourlyForecast{
				TimeEpoch:    h.TimeEpoch,
				Time:         h.Time,
				TempC:        h.TempC,
				IsDay:        h.IsDay == 1,
				Condition:    mapCondition(h.Condition),
				WindKph:      h.WindKph,
				PressureMb:   h.PressureMb,
				PressureIn:   h.PressureIn,
				Humidity:     h.Humidity,
				FeelsLikeC:   h.FeelslikeC,
				ChanceOfRain: h.ChanceOfRain,
			})
		}
		snap.Days = append(snap.Days, day)
	}

	for _, a := range r.Alerts.Alert {
		snap.Alerts = append(snap.Alerts, models.Alert{
			Headline:    a.Headline,
			Severity:    a.Severity,
			Event:       a.Event,
			Effective:   a.Effective,
			Expires:     a.Expires,
			Description: a.Desc,
			Instruction: a.Instruction,
		})
	}
	return snap, nil
}
