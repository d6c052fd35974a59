package domain

import (
	"strconv"
	"time"
)

// TimestampLayout is the staging-file encoding of WeatherRecord.ObservedAt.
const TimestampLayout = "2006-01-02T15:04:05"

// RecordHeader lists the staging-file column names in WeatherRecord field order.
var RecordHeader = []string{
	"observed_at",
	"location",
	"temperature",
	"feels_like",
	"condition",
	"humidity",
	"wind_speed",
}

// WeatherRecord is one normalized observation for one location.
type WeatherRecord struct {
	ObservedAt  time.Time `json:"observed_at"`
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feels_like"`
	Condition   string    `json:"condition"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
}

// Row encodes the record as a staging-file row, aligned with RecordHeader.
func (r WeatherRecord) Row() []string {
	return []string{
		r.ObservedAt.UTC().Format(TimestampLayout),
		r.Location,
		formatFloat(r.Temperature),
		formatFloat(r.FeelsLike),
		r.Condition,
		strconv.Itoa(r.Humidity),
		formatFloat(r.WindSpeed),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
