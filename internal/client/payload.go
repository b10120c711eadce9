package client

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/skycast/forecast-service/internal/models"
)

var payloadValidator = validator.New()

// timelineResponse is the subset of the Visual Crossing timeline payload the service keeps.
// Pointer coordinates distinguish a missing field from 0.
type timelineResponse struct {
	QueryCost       int           `json:"queryCost"`
	Latitude        *float64      `json:"latitude" validate:"required"`
	Longitude       *float64      `json:"longitude" validate:"required"`
	ResolvedAddress string        `json:"resolvedAddress" validate:"required"`
	Address         string        `json:"address"`
	Timezone        string        `json:"timezone" validate:"required"`
	TZOffset        float64       `json:"tzoffset"`
	Days            []timelineDay `json:"days" validate:"required,dive"`
}

type timelineDay struct {
	Datetime    string         `json:"datetime" validate:"required"`
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
	Hours       []timelineHour `json:"hours" validate:"dive"`
}

type timelineHour struct {
	Datetime      string  `json:"datetime" validate:"required"`
	DatetimeEpoch int64   `json:"datetimeEpoch"`
	Temp          float64 `json:"temp"`
	Conditions    string  `json:"conditions"`
	Icon          string  `json:"icon"`
}

// decodeTimeline parses and checks a 2xx body. An empty days list is valid.
func decodeTimeline(body []byte) (models.ForecastRecord, error) {
	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ForecastRecord{}, fmt.Errorf("%w: parse response: %w", ErrMalformedResponse, err)
	}
	if err := payloadValidator.Struct(resp); err != nil {
		return models.ForecastRecord{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return resp.toRecord(), nil
}

func (r timelineResponse) toRecord() models.ForecastRecord {
	rec := models.ForecastRecord{
		QueryCost:       r.QueryCost,
		Latitude:        *r.Latitude,
		Longitude:       *r.Longitude,
		ResolvedAddress: r.ResolvedAddress,
		Address:         r.Address,
		Timezone:        r.Timezone,
		TZOffset:        r.TZOffset,
		Days:            make([]models.DayForecast, 0, len(r.Days)),
	}
	for _, d := range r.Days {
		day := models.DayForecast{
			Date:        d.Datetime,
			TempMax:     d.TempMax,
			TempMin:     d.TempMin,
			Temp:        d.Temp,
			FeelsLike:   d.FeelsLike,
			Humidity:    d.Humidity,
			WindSpeed:   d.WindSpeed,
			Precip:      d.Precip,
			PrecipProb:  d.PrecipProb,
			UVIndex:     d.UVIndex,
			Sunrise:     d.Sunrise,
			Sunset:      d.Sunset,
			Conditions:  d.Conditions,
			Description: d.Description,
		}
		for _, h := range d.Hours {
			day.Hours = append(day.Hours, models.HourForecast{
				Time:       h.Datetime,
				Epoch:      h.DatetimeEpoch,
				Temp:       h.Temp,
				Conditions: h.Conditions,
				Icon:       h.Icon,
			})
		}
		rec.Days = append(rec.Days, day)
	}
	return rec
}
