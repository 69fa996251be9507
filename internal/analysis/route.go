package analysis

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/fairweather/internal/models"
)

const (
	earthRadiusKm = 6371.0088

	// shortRouteKm is the distance below which only the endpoints are
	// analysed.
	shortRouteKm = 15.0

	routeDataSource = "NASA POWER + Open-Meteo AQI"
	routeWorkers    = 4
)

type PointType string

const (
	PointStart    PointType = "start"
	PointMidpoint PointType = "midpoint"
	PointEnd      PointType = "end"
)

// RouteRequest describes a trip between two points on one date.
type RouteRequest struct {
	Start         models.Location
	End           models.Location
	Date          time.Time
	BaselineYears int
}

type RoutePoint struct {
	Latitude        float64            `json:"latitude"`
	Longitude       float64            `json:"longitude"`
	Type            PointType          `json:"type"`
	LocationName    string             `json:"location_name"`
	WeatherAnalysis *Result            `json:"weather_analysis"`
	AirQuality      *models.AirQuality `json:"aqi_data"`
	Error           string             `json:"error,omitempty"`
}

type OverallAQI struct {
	AQI      int    `json:"aqi"`
	Category string `json:"category"`
}

type RouteMetadata struct {
	AnalysisDate  string `json:"analysis_date"`
	BaselineYears int    `json:"baseline_years"`
	TotalPoints   int    `json:"total_points"`
	DataSource    string `json:"data_source"`
}

type RouteResult struct {
	RoutePoints   []RoutePoint  `json:"route_points"`
	TotalDistance float64       `json:"total_distance"`
	TravelSummary string        `json:"travel_summary"`
	OverallAQI    *OverallAQI   `json:"overall_aqi"`
	Metadata      RouteMetadata `json:"metadata"`
}

// Distance is the great-circle distance between a and b in kilometres.
func Distance(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RoutePoints returns the points analysed along a route: the endpoints, and
// for routes of 15 km or more two midpoints interpolated at 33% and 67%.
func RoutePoints(start, end models.Location) []RoutePoint {
	pt := func(loc models.Location, t PointType) RoutePoint {
		return RoutePoint{Latitude: loc.Latitude, Longitude: loc.Longitude, Type: t}
	}
	if Distance(start, end) < shortRouteKm {
		return []RoutePoint{pt(start, PointStart), pt(end, PointEnd)}
	}
	lerp := func(f float64) models.Location {
		return models.Location{
			Latitude:  start.Latitude + (end.Latitude-start.Latitude)*f,
			Longitude: start.Longitude + (end.Longitude-start.Longitude)*f,
		}
	}
	return []RoutePoint{
		pt(start, PointStart),
		pt(lerp(0.33), PointMidpoint),
		pt(lerp(0.67), PointMidpoint),
		pt(end, PointEnd),
	}
}

// AnalyzeRoute analyses every route point. A point that fails carries its
// error instead of an analysis; the route as a whole only fails on an
// invalid request or a cancelled context.
func (s *Service) AnalyzeRoute(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	years := req.BaselineYears
	if years == 0 {
		years = s.cfg.BaselineYears
	}
	if years < MinBaselineYears || years > MaxBaselineYears {
		return nil, fmt.Errorf("baseline_years %d: %w", years, ErrInvalidRequest)
	}

	points := RoutePoints(req.Start, req.End)
	distance := Distance(req.Start, req.End)
	log.Printf("analysis: route %s -> %s (%.1f km, %d points)", req.Start.Key(), req.End.Key(), distance, len(points))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(routeWorkers)
	for i := range points {
		p := &points[i]
		p.LocationName = fmt.Sprintf("Point %d", i+1)
		g.Go(func() error {
			loc := models.Location{Latitude: p.Latitude, Longitude: p.Longitude, Name: p.LocationName}
			res, err := s.analyze(gctx, Request{Location: loc, Date: req.Date, BaselineYears: years})
			if err != nil {
				log.Printf("analysis: route point %d: %v", i+1, err)
				p.Error = err.Error()
				return nil
			}
			p.WeatherAnalysis = res
			aq := res.AirQuality
			p.AirQuality = &aq
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &RouteResult{
		RoutePoints:   points,
		TotalDistance: models.Round(distance, 2),
		Metadata: RouteMetadata{
			AnalysisDate:  req.Date.Format(time.DateOnly),
			BaselineYears: years,
			TotalPoints:   len(points),
			DataSource:    routeDataSource,
		},
	}

	var sum, n int
	for _, p := range points {
		if p.AirQuality != nil {
			sum += p.AirQuality.AQI
			n++
		}
	}
	if n > 0 {
		avg := int(math.Round(float64(sum) / float64(n)))
		out.OverallAQI = &OverallAQI{AQI: avg, Category: models.AQIStatus(float64(avg))}
	}

	out.TravelSummary = travelSummary(points, distance)
	return out, nil
}

func travelSummary(points []RoutePoint, distance float64) string {
	if len(points) == 0 {
		return "Unable to analyze travel route."
	}
	start, end := points[0], points[len(points)-1]

	parts := []string{fmt.Sprintf("Route distance: %.1f km", distance)}

	sw, ew := start.WeatherAnalysis, end.WeatherAnalysis
	if sw != nil && ew != nil {
		parts = append(parts, fmt.Sprintf("Expected temperatures: %.1f°C to %.1f°C",
			sw.ExpectedTemperature(), ew.ExpectedTemperature()))
	}
	if start.AirQuality != nil && end.AirQuality != nil {
		parts = append(parts, fmt.Sprintf("Air quality: %s (AQI %d) to %s (AQI %d)",
			start.AirQuality.Category, start.AirQuality.AQI, end.AirQuality.Category, end.AirQuality.AQI))
	}
	if sw != nil && ew != nil {
		parts = append(parts, fmt.Sprintf("Weather risk: %s to %s",
			sw.RiskAssessment.OverallRisk, ew.RiskAssessment.OverallRisk))
	}
	return strings.Join(parts, " | ")
}
