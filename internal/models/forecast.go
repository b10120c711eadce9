package models

import "time"

// ForecastRecord is one cached forecast for a location key. It is always written in full.
type ForecastRecord struct {
	LocationKey     string        `json:"locationKey"`
	QueryCost       int           `json:"queryCost"`
	Latitude        float64       `json:"latitude"`
	Longitude       float64       `json:"longitude"`
	ResolvedAddress string        `json:"resolvedAddress"`
	Address         string        `json:"address"`
	Timezone        string        `json:"timezone"`
	TZOffset        float64       `json:"tzoffset"`
	Days            []DayForecast `json:"days"`
	LastUpdated     time.Time     `json:"lastUpdated"`
}

// DayForecast summarises one calendar day. Hours may be nil when the provider omitted them.
type DayForecast struct {
	Date        string         `json:"datetime"`
	TempMax     float64        `json:"tempmax"`
	TempMin     float64        `json:"tempmin"`
	Temp        float64        `json:"temp"`
	FeelsLike   float64        `json:"feelslike"`
	Humidity    float64        `json:"humidity"`
	WindSpeed   float64        `json:"windspeed"`
	Precip      float64        `json:"precip"`
	PrecipProb  float64        `json:"precipprob"`
	UVIndex     float64        `json:"uvindex"`
	Sunrise     string         `json:"sunrise"`
	Sunset      string         `json:"sunset"`
	Conditions  string         `json:"conditions"`
	Description string         `json:"description"`
	Hours       []HourForecast `json:"hours"`
}

// HourForecast summarises one hour within a day.
type HourForecast struct {
	Time       string  `json:"datetime"`
	Epoch      int64   `json:"datetimeEpoch"`
	Temp       float64 `json:"temp"`
	Conditions string  `json:"conditions"`
	Icon       string  `json:"icon"`
}

// Clone returns a deep copy so callers sharing a cached record cannot mutate each other's days.
func (r ForecastRecord) Clone() ForecastRecord {
	out := r
	if r.Days == nil {
		return out
	}
	out.Days = make([]DayForecast, len(r.Days))
	for i, d := range r.Days {
		out.Days[i] = d
		if d.Hours != nil {
			out.Days[i].Hours = make([]HourForecast, len(d.Hours))
			copy(out.Days[i].Hours, d.Hours)
		}
	}
	return out
}
