package models

import "math"

// AQIStatus returns the US EPA category name for an AQI value.
func AQIStatus(aqi float64) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}

// AQILevel returns the 1-6 level of an AQI value.
func AQILevel(aqi float64) int {
	switch {
	case aqi <= 50:
		return 1
	case aqi <= 100:
		return 2
	case aqi <= 150:
		return 3
	case aqi <= 200:
		return 4
	case aqi <= 300:
		return 5
	default:
		return 6
	}
}

// PMStatus buckets a particulate concentration in µg/m³.
func PMStatus(pm float64) string {
	switch {
	case pm <= 12:
		return "Good"
	case pm <= 35:
		return "Moderate"
	case pm <= 55:
		return "Unhealthy for Sensitive Groups"
	case pm <= 150:
		return "Unhealthy"
	default:
		return "Very Unhealthy"
	}
}

func PMLevel(pm float64) int {
	switch {
	case pm <= 12:
		return 1
	case pm <= 35:
		return 2
	case pm <= 55:
		return 3
	case pm <= 150:
		return 4
	default:
		return 5
	}
}

// Reading is one pollutant value with its category.
type Reading struct {
	Value  int    `json:"value"`
	Status string `json:"status"`
	Level  int    `json:"level"`
}

// HealthData is the air quality summary attached to an analysis.
type HealthData struct {
	AQI  Reading `json:"aqi"`
	PM25 Reading `json:"pm25"`
	PM10 Reading `json:"pm10"`
	NO2  Reading `json:"no2"`
	O3   Reading `json:"o3"`
	SO2  Reading `json:"so2"`
}

// AirQuality is an observed (or fallback) air quality reading. Pollutant
// concentrations are in µg/m³ and may be absent.
type AirQuality struct {
	AQI      int      `json:"aqi"`
	Category string   `json:"category"`
	PM25     *float64 `json:"pm25"`
	PM10     *float64 `json:"pm10"`
	CO       *float64 `json:"co"`
	NO2      *float64 `json:"no2"`
	O3       *float64 `json:"o3"`
	SO2      *float64 `json:"so2"`
	Source   string   `json:"source"`
	Fallback bool     `json:"fallback"`
}

// Health converts the reading into the summary shape shared with the
// substitute model. Absent pollutants read as zero.
func (a AirQuality) Health() HealthData {
	pm := func(v *float64) Reading {
		if v == nil {
			return Reading{Status: PMStatus(0), Level: PMLevel(0)}
		}
		return Reading{Value: int(math.Round(*v)), Status: PMStatus(*v), Level: PMLevel(*v)}
	}
	gas := func(v *float64) Reading {
		if v == nil {
			return Reading{Status: "Good", Level: 1}
		}
		return Reading{Value: int(math.Round(*v)), Status: AQIStatus(*v), Level: AQILevel(*v)}
	}
	return HealthData{
		AQI:  Reading{Value: a.AQI, Status: AQIStatus(float64(a.AQI)), Level: AQILevel(float64(a.AQI))},
		PM25: pm(a.PM25),
		PM10: pm(a.PM10),
		NO2:  gas(a.NO2),
		O3:   gas(a.O3),
		SO2:  gas(a.SO2),
	}
}
