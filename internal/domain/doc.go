// Package domain models a daily weather snapshot run and the artifacts each
// stage of the run produces.
//
// # Run lifecycle
//
// A run is identified by its [PartitionKey], derived from the logical run date
// supplied by the trigger (scheduler, CLI or HTTP). The key scopes every
// cross-stage resource:
//
//	local file:     <staging dir>/2024-01-01/weather.csv
//	object storage: <prefix>/2024-01-01/weather.csv
//	warehouse copy: @<stage>/<prefix>/2024-01-01/weather.csv
//
// Stages run strictly in order:
//
//	Pending -> Extracting -> Staging -> Loading -> Succeeded
//	                 \            \          \
//	                  +------------+----------+--> Failed(stage)
//
// Failed is absorbing for that run. A new trigger for the same key starts a
// fresh run at Extracting.
//
// # Staging file format
//
// Delimited text (CSV) with a header row naming the [WeatherRecord] fields in
// order, followed by one data row per run. Timestamps are written as UTC
// without a zone suffix ("2006-01-02T15:04:05") so the warehouse reads them as
// TIMESTAMP_NTZ.
//
// # Provider data
//
// The provider is the OpenWeatherMap current-weather endpoint. Temperatures are
// Kelvin (no units parameter is sent), wind speed is metres per second and
// humidity is an integer percentage.
package domain
