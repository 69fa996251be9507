package ingest

import (
	"encoding/json"
	"math"

	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
)

const (
	FlagMissingValue      = "missing_value"
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagTempOrderInvalid  = "temp_order_invalid"
	FlagHumidityInvalid   = "humidity_invalid"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagPrecipNegative    = "precip_negative"
	FlagPrecipUnlikely    = "precip_unlikely"
)

var nan = math.NaN()

// ValidateRecord returns quality flags for a daily record. A record with any
// flag is not fit for the probability engine.
func ValidateRecord(r models.DailyRecord) []string {
	var flags []string

	fields := []float64{r.Temperature, r.MaxTemperature, r.MinTemperature, r.Precipitation, r.WindSpeed, r.Humidity}
	for _, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []string{FlagMissingValue}
		}
	}

	for _, v := range []float64{r.Temperature, r.MaxTemperature, r.MinTemperature} {
		if v < -90 || v > 60 {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if r.MinTemperature > r.MaxTemperature {
		flags = append(flags, FlagTempOrderInvalid)
	}

	if r.Humidity < 0 || r.Humidity > 100 {
		flags = append(flags, FlagHumidityInvalid)
	}

	if r.WindSpeed < 0 || r.WindSpeed > 120 {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if r.Precipitation < 0 {
		flags = append(flags, FlagPrecipNegative)
	} else if r.Precipitation > 2000 {
		flags = append(flags, FlagPrecipUnlikely)
	}

	return flags
}

// DropFlagged returns the records that pass validation, counting each
// rejection by its first flag.
func DropFlagged(records []models.DailyRecord) []models.DailyRecord {
	kept := make([]models.DailyRecord, 0, len(records))
	for _, r := range records {
		if flags := ValidateRecord(r); len(flags) > 0 {
			metrics.RecordsRejected.WithLabelValues(flags[0]).Inc()
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
