package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/fairweather/internal/httputil"
	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
)

const (
	airQualityBaseURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	airQualityFields  = "pm2_5,pm10,carbon_monoxide,nitrogen_dioxide,ozone,sulphur_dioxide"

	SourceOpenMeteo = "open-meteo"
	SourceFallback  = "fallback"

	// DefaultAQI is used when a response carries no particulate readings.
	DefaultAQI = 50
)

type AirQualityClient struct {
	baseURL    string
	client     *http.Client
	maxElapsed time.Duration
}

func NewAirQualityClient(baseURL string) *AirQualityClient {
	if baseURL == "" {
		baseURL = airQualityBaseURL
	}
	return &AirQualityClient{
		baseURL:    baseURL,
		client:     httputil.NewClientWithTimeout(10 * time.Second),
		maxElapsed: 20 * time.Second,
	}
}

// SetMaxElapsed bounds the total retry time for one fetch.
func (c *AirQualityClient) SetMaxElapsed(d time.Duration) {
	c.maxElapsed = d
}

type airQualityResponse struct {
	Current struct {
		PM25 *float64 `json:"pm2_5"`
		PM10 *float64 `json:"pm10"`
		CO   *float64 `json:"carbon_monoxide"`
		NO2  *float64 `json:"nitrogen_dioxide"`
		O3   *float64 `json:"ozone"`
		SO2  *float64 `json:"sulphur_dioxide"`
	} `json:"current"`
}

// Current fetches the latest air quality for loc.
func (c *AirQualityClient) Current(ctx context.Context, loc models.Location) (models.AirQuality, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	q.Set("current", airQualityFields)
	q.Set("timezone", "auto")
	reqURL := c.baseURL + "?" + q.Encode()

	var body []byte
	status := 0
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("air quality: %w: %w", ErrUpstream, err))
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("air quality: %w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(b), 200)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	began := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.ProviderLatency.WithLabelValues("open_meteo").Observe(time.Since(began).Seconds())
	metrics.ProviderCallsTotal.WithLabelValues("open_meteo", strconv.Itoa(status)).Inc()
	if err != nil {
		return models.AirQuality{}, err
	}

	var data airQualityResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return models.AirQuality{}, fmt.Errorf("unmarshal: %w", err)
	}

	cur := data.Current
	aqi := CombinedAQI(cur.PM25, cur.PM10)
	return models.AirQuality{
		AQI:      aqi,
		Category: models.AQIStatus(float64(aqi)),
		PM25:     cur.PM25,
		PM10:     cur.PM10,
		CO:       cur.CO,
		NO2:      cur.NO2,
		O3:       cur.O3,
		SO2:      cur.SO2,
		Source:   SourceOpenMeteo,
	}, nil
}

// CurrentOrFallback never fails: provider errors are logged and replaced by
// a location-based estimate.
func (c *AirQualityClient) CurrentOrFallback(ctx context.Context, loc models.Location) models.AirQuality {
	aq, err := c.Current(ctx, loc)
	if err != nil {
		log.Printf("ingest: air quality for %s: %v (using fallback)", loc.Key(), err)
		metrics.FallbacksTotal.WithLabelValues("air_quality").Inc()
		return FallbackAirQuality(loc)
	}
	return aq
}

// CombinedAQI is the higher of the PM2.5 and PM10 sub-indices, or DefaultAQI
// when neither is present.
func CombinedAQI(pm25, pm10 *float64) int {
	aqi, ok := 0, false
	if pm25 != nil {
		aqi, ok = PM25ToAQI(*pm25), true
	}
	if pm10 != nil {
		aqi, ok = max(aqi, PM10ToAQI(*pm10)), true
	}
	if !ok {
		return DefaultAQI
	}
	return aqi
}

type breakpoint struct {
	cLo, cHi, iLo, iHi float64
}

var pm25Breakpoints = []breakpoint{
	{0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
}

var pm10Breakpoints = []breakpoint{
	{0, 54, 0, 50},
	{55, 154, 51, 100},
	{155, 254, 101, 150},
	{255, 354, 151, 200},
	{355, 424, 201, 300},
}

// aqiFromBreakpoints interpolates within the first band whose upper bound
// covers c and truncates. Anything above the last band reads 300.
func aqiFromBreakpoints(c float64, bps []breakpoint) int {
	for _, bp := range bps {
		if c <= bp.cHi {
			v := (bp.iHi-bp.iLo)/(bp.cHi-bp.cLo)*(c-bp.cLo) + bp.iLo
			return int(math.Trunc(v))
		}
	}
	return 300
}

// PM25ToAQI converts a PM2.5 concentration (µg/m³) to the US EPA index.
func PM25ToAQI(c float64) int { return aqiFromBreakpoints(c, pm25Breakpoints) }

// PM10ToAQI converts a PM10 concentration (µg/m³) to the US EPA index.
func PM10ToAQI(c float64) int { return aqiFromBreakpoints(c, pm10Breakpoints) }

// FallbackAirQuality estimates air quality from position alone: most
// inhabited latitudes get a moderate urban profile, the high latitudes a
// clean rural one.
func FallbackAirQuality(loc models.Location) models.AirQuality {
	urban := math.Abs(loc.Latitude) < 60 && math.Abs(loc.Longitude) < 180
	f := func(v float64) *float64 { return &v }
	if urban {
		return models.AirQuality{
			AQI: 75, Category: "Moderate",
			PM25: f(25), PM10: f(45), CO: f(2.5), NO2: f(35), O3: f(60), SO2: f(15),
			Source: SourceFallback, Fallback: true,
		}
	}
	return models.AirQuality{
		AQI: 45, Category: "Good",
		PM25: f(15), PM10: f(25), CO: f(1.5), NO2: f(20), O3: f(40), SO2: f(8),
		Source: SourceFallback, Fallback: true,
	}
}
