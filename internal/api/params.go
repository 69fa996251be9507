package api

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/fairweather/internal/analysis"
	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/suitability"
)

// badRequestError is a query that could not be parsed or failed validation.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

type analyzeQuery struct {
	Latitude      *float64 `query:"latitude" validate:"required,latitude"`
	Longitude     *float64 `query:"longitude" validate:"required,longitude"`
	Date          string   `query:"date" validate:"required,datetime=2006-01-02"`
	BaselineYears int      `query:"baseline_years" validate:"omitempty,min=5,max=40"`
	Strategy      string   `query:"strategy" validate:"omitempty,oneof=basic composite"`
	Session       string   `query:"session" validate:"omitempty,max=128"`
}

type simulateQuery struct {
	Latitude  *float64 `query:"latitude" validate:"required,latitude"`
	Longitude *float64 `query:"longitude" validate:"required,longitude"`
	Days      int      `query:"days" validate:"min=1,max=366"`
	Session   string   `query:"session" validate:"omitempty,max=128"`
}

type listQuery struct {
	Limit int `query:"limit" validate:"min=1,max=100"`
}

type travelQuery struct {
	StartLatitude  *float64 `query:"start_latitude" validate:"required,latitude"`
	StartLongitude *float64 `query:"start_longitude" validate:"required,longitude"`
	EndLatitude    *float64 `query:"end_latitude" validate:"required,latitude"`
	EndLongitude   *float64 `query:"end_longitude" validate:"required,longitude"`
	Date           string   `query:"date" validate:"required,datetime=2006-01-02"`
	BaselineYears  int      `query:"baseline_years" validate:"omitempty,min=5,max=40"`
}

func parseAnalyzeQuery(q url.Values) (analysis.Request, error) {
	var p analyzeQuery
	var err error
	if p.Latitude, err = floatParam(q, "latitude"); err != nil {
		return analysis.Request{}, err
	}
	if p.Longitude, err = floatParam(q, "longitude"); err != nil {
		return analysis.Request{}, err
	}
	if p.BaselineYears, err = intParam(q, "baseline_years", 0); err != nil {
		return analysis.Request{}, err
	}
	p.Date = q.Get("date")
	p.Strategy = strings.ToLower(q.Get("strategy"))
	p.Session = q.Get("session")
	if err := check(p); err != nil {
		return analysis.Request{}, err
	}

	date, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return analysis.Request{}, badRequest("invalid date format: %v", err)
	}
	return analysis.Request{
		Location:      models.Location{Latitude: *p.Latitude, Longitude: *p.Longitude},
		Date:          date,
		BaselineYears: p.BaselineYears,
		Strategy:      suitability.Strategy(p.Strategy),
		Session:       p.Session,
	}, nil
}

func parseSimulateQuery(q url.Values) (simulateQuery, error) {
	var p simulateQuery
	var err error
	if p.Latitude, err = floatParam(q, "latitude"); err != nil {
		return p, err
	}
	if p.Longitude, err = floatParam(q, "longitude"); err != nil {
		return p, err
	}
	if p.Days, err = intParam(q, "days", 30); err != nil {
		return p, err
	}
	p.Session = q.Get("session")
	return p, check(p)
}

func parseTravelQuery(q url.Values) (analysis.RouteRequest, error) {
	var p travelQuery
	var err error
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"start_latitude", &p.StartLatitude},
		{"start_longitude", &p.StartLongitude},
		{"end_latitude", &p.EndLatitude},
		{"end_longitude", &p.EndLongitude},
	} {
		if *f.dst, err = floatParam(q, f.name); err != nil {
			return analysis.RouteRequest{}, err
		}
	}
	if p.BaselineYears, err = intParam(q, "baseline_years", 0); err != nil {
		return analysis.RouteRequest{}, err
	}
	p.Date = q.Get("date")
	if err := check(p); err != nil {
		return analysis.RouteRequest{}, err
	}

	date, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return analysis.RouteRequest{}, badRequest("invalid date format: %v", err)
	}
	return analysis.RouteRequest{
		Start:         models.Location{Latitude: *p.StartLatitude, Longitude: *p.StartLongitude},
		End:           models.Location{Latitude: *p.EndLatitude, Longitude: *p.EndLongitude},
		Date:          date,
		BaselineYears: p.BaselineYears,
	}, nil
}

var presetRangeParams = []string{"temp_min", "temp_max", "wind_max", "humidity_max", "precip_max", "cloud_max"}

var presetWeightParams = []string{"weight_temp", "weight_wind", "weight_humidity", "weight_precipitation", "weight_air_quality"}

// parsePreset builds the request preset from a catalog name and any inline
// range or weight fields, which override the named preset. It returns nil
// when the query names no preset and sets no fields.
func (s *Server) parsePreset(q url.Values) (*suitability.Preset, error) {
	var p suitability.Preset
	name := strings.TrimSpace(q.Get("preset"))
	if name != "" {
		found, err := s.presets.Lookup(name)
		if err != nil {
			return nil, err
		}
		p = found
	}

	inline := false
	ranges := []**float64{&p.TempMin, &p.TempMax, &p.WindMax, &p.HumidityMax, &p.PrecipMax, &p.CloudMax}
	for i, param := range presetRangeParams {
		v, err := floatParam(q, param)
		if err != nil {
			return nil, err
		}
		if v != nil {
			*ranges[i] = v
			inline = true
		}
	}

	var weights suitability.Weights
	if p.Weights != nil {
		weights = *p.Weights
	} else {
		weights = suitability.DefaultWeights()
	}
	fields := []*float64{&weights.Temp, &weights.Wind, &weights.Humidity, &weights.Precipitation, &weights.AirQuality}
	weighted := false
	for i, param := range presetWeightParams {
		v, err := floatParam(q, param)
		if err != nil {
			return nil, err
		}
		if v != nil {
			*fields[i] = *v
			weighted = true
		}
	}
	if weighted {
		p.Weights = &weights
		inline = true
	}

	if name == "" && !inline {
		return nil, nil
	}
	if name == "" {
		p.Name = "custom"
	}
	return &p, nil
}

func floatParam(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest("%s: %q is not a number", name, raw)
	}
	return &v, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s: %q is not an integer", name, raw)
	}
	return v, nil
}

// check runs struct validation and turns failures into one readable
// bad-request error.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "datetime":
			msgs = append(msgs, fe.Field()+" must be YYYY-MM-DD")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "latitude":
			msgs = append(msgs, fe.Field()+" must be between -90 and 90")
		case "longitude":
			msgs = append(msgs, fe.Field()+" must be between -180 and 180")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return badRequest("%s", strings.Join(msgs, "; "))
}

func parseListQuery(q url.Values) (int, error) {
	var p listQuery
	var err error
	if p.Limit, err = intParam(q, "limit", 20); err != nil {
		return 0, err
	}
	if err := check(p); err != nil {
		return 0, err
	}
	return p.Limit, nil
}
