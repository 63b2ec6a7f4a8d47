package models

import "time"

// CityCandidate is a single city search result. ID is the opaque identifier used
// to look up forecasts (the upstream "url" field).
type CityCandidate struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// DisplayName returns "Name, Region, Country" without empty parts.
func (c CityCandidate) DisplayName() string {
	out := c.Name
	for _, part := range []string{c.Region, c.Country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

type Location struct {
	Name           string  `json:"name"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	TimeZone       string  `json:"timeZone"`
	LocalTimeEpoch int64   `json:"localTimeEpoch"`
	LocalTime      string  `json:"localTime"`
}

type Current struct {
	LastUpdatedEpoch int64     `json:"lastUpdatedEpoch"`
	TempC            float64   `json:"tempC"`
	TempF            float64   `json:"tempF"`
	IsDay            bool      `json:"isDay"`
	Condition        Condition `json:"condition"`
	WindKph          float64   `json:"windKph"`
	WindDir          string    `json:"windDir"`
	PressureMb       float64   `json:"pressureMb"`
	PressureIn       float64   `json:"pressureIn"`
	PrecipMm         float64   `json:"precipMm"`
	Humidity         int       `json:"humidity"`
	Cloud            int       `json:"cloud"`
	FeelsLikeC       float64   `json:"feelsLikeC"`
	VisKm            float64   `json:"visKm"`
	UV               float64   `json:"uv"`
	GustKph          float64   `json:"gustKph"`
}

type Astro struct {
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	Moonrise  string `json:"moonrise"`
	Moonset   string `json:"moonset"`
	MoonPhase string `json:"moonPhase"`
}

type HourlyForecast struct {
	TimeEpoch    int64     `json:"timeEpoch"`
	Time         string    `json:"time"`
	TempC        float64   `json:"tempC"`
	IsDay        bool      `json:"isDay"`
	Condition    Condition `json:"condition"`
	WindKph      float64   `json:"windKph"`
	PressureMb   float64   `json:"pressureMb"`
	PressureIn   float64   `json:"pressureIn"`
	Humidity     int       `json:"humidity"`
	FeelsLikeC   float64   `json:"feelsLikeC"`
	ChanceOfRain int       `json:"chanceOfRain"`
}

type DailyForecast struct {
	Date          string           `json:"date"`
	DateEpoch     int64            `json:"dateEpoch"`
	MaxTempC      float64          `json:"maxTempC"`
	MinTempC      float64          `json:"minTempC"`
	AvgTempC      float64          `json:"avgTempC"`
	MaxWindKph    float64          `json:"maxWindKph"`
	TotalPrecipMm float64          `json:"totalPrecipMm"`
	AvgHumidity   float64          `json:"avgHumidity"`
	ChanceOfRain  int              `json:"chanceOfRain"`
	ChanceOfSnow  int              `json:"chanceOfSnow"`
	UV            float64          `json:"uv"`
	Condition     Condition        `json:"condition"`
	Astro         Astro            `json:"astro"`
	Hours         []HourlyForecast `json:"hours"`
}

type Alert struct {
	Headline    string `json:"headline"`
	Severity    string `json:"severity,omitempty"`
	Event       string `json:"event"`
	Effective   string `json:"effective,omitempty"`
	Expires     string `json:"expires,omitempty"`
	Description string `json:"description,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// ForecastSnapshot is the forecast for one city as returned by a single fetch.
// Treat it as immutable once constructed; it is shared through the response cache.
type ForecastSnapshot struct {
	CityID    string          `json:"cityId"`
	Location  Location        `json:"location"`
	Current   Current         `json:"current"`
	Days      []DailyForecast `json:"days"`
	Alerts    []Alert         `json:"alerts,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}
