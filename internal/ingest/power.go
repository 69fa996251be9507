package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/fairweather/internal/httputil"
	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
)

const (
	powerBaseURL   = "https://power.larc.nasa.gov/api/temporal/daily/point"
	powerCommunity = "AG"
	powerMissing   = -999.0

	// EarliestPowerYear is the first year of the reanalysis record.
	EarliestPowerYear = 1981
)

// Parameter codes requested from NASA POWER and used as archive CSV headers.
const (
	ParamTemp      = "T2M"
	ParamTempMax   = "T2M_MAX"
	ParamTempMin   = "T2M_MIN"
	ParamPrecip    = "PRECTOTCORR"
	ParamWindSpeed = "WS10M"
	ParamHumidity  = "RH2M"
)

var PowerParameters = []string{ParamTemp, ParamTempMax, ParamTempMin, ParamPrecip, ParamWindSpeed, ParamHumidity}

var (
	// ErrUpstream marks a provider that answered with an error.
	ErrUpstream = errors.New("upstream provider error")
	// ErrUpstreamTimeout marks a provider that did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream provider timeout")
)

// FetchResult captures metadata about a fetch for the ingest audit log.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
	Rejected     int
	Error        error
}

type PowerClient struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxElapsed time.Duration
}

// NewPowerClient returns a client for the NASA POWER daily point API. An
// empty baseURL uses the public endpoint.
func NewPowerClient(baseURL string) *PowerClient {
	if baseURL == "" {
		baseURL = powerBaseURL
	}
	return &PowerClient{
		baseURL:    baseURL,
		client:     httputil.NewClient(),
		breaker:    newBreaker("nasa_power"),
		maxElapsed: 2 * time.Minute,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("ingest: breaker %s %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// SetMaxElapsed bounds the total retry time for one fetch.
func (p *PowerClient) SetMaxElapsed(d time.Duration) {
	p.maxElapsed = d
}

type powerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
	Messages []string `json:"messages"`
}

// BaselineWindow returns the inclusive date span covering the given number of
// complete years before now, never earlier than the start of the record.
func BaselineWindow(now time.Time, years int) (time.Time, time.Time) {
	startYear := max(EarliestPowerYear, now.Year()-years)
	endYear := now.Year() - 1
	return time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(endYear, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func (p *PowerClient) requestURL(loc models.Location, start, end time.Time) string {
	q := url.Values{}
	q.Set("parameters", strings.Join(PowerParameters, ","))
	q.Set("community", powerCommunity)
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("start", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("format", "JSON")
	return p.baseURL + "?" + q.Encode()
}

// FetchDaily downloads daily records for loc between start and end. The raw
// body is returned alongside the parsed records so callers can archive it.
func (p *PowerClient) FetchDaily(ctx context.Context, loc models.Location, start, end time.Time) ([]models.DailyRecord, []byte, *FetchResult, error) {
	result := &FetchResult{}
	reqURL := p.requestURL(loc, start, end)

	began := time.Now()
	body, err := p.breaker.Execute(func() ([]byte, error) {
		return p.get(ctx, reqURL, result)
	})
	metrics.ProviderLatency.WithLabelValues("nasa_power").Observe(time.Since(began).Seconds())
	metrics.ProviderCallsTotal.WithLabelValues("nasa_power", strconv.Itoa(result.HTTPStatus)).Inc()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("nasa power: %w: %w", ErrUpstream, err)
		}
		result.Error = err
		return nil, body, result, err
	}
	result.ResponseSize = len(body)

	records, parseErrs, err := ParsePower(body)
	if err != nil {
		result.Error = fmt.Errorf("nasa power: %w", err)
		return nil, body, result, result.Error
	}
	result.RecordCount = len(records)
	if len(parseErrs) > 0 {
		result.ParseErrors = len(parseErrs)
		result.ParseError = parseErrs[0]
	}

	kept := DropFlagged(records)
	result.Rejected = len(records) - len(kept)
	metrics.RecordsIngested.WithLabelValues("nasa_power").Add(float64(len(kept)))
	return kept, body, result, nil
}

func (p *PowerClient) get(ctx context.Context, reqURL string, result *FetchResult) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			if isTimeout(err) {
				return backoff.Permanent(fmt.Errorf("nasa power: %w: %w", ErrUpstreamTimeout, err))
			}
			return backoff.Permanent(fmt.Errorf("nasa power: %w: %w", ErrUpstream, err))
		}
		defer resp.Body.Close()
		result.HTTPStatus = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			body = b
			return backoff.Permanent(fmt.Errorf("nasa power: %w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(b), 200)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if !errors.Is(err, ErrUpstream) && !errors.Is(err, ErrUpstreamTimeout) {
			if ctx.Err() != nil {
				err = fmt.Errorf("nasa power: %w: %w", ErrUpstreamTimeout, err)
			} else {
				err = fmt.Errorf("nasa power: %w: %w", ErrUpstream, err)
			}
		}
		return body, err
	}
	return body, nil
}

// ParsePower converts a POWER JSON body into daily records sorted by date.
// Values of -999 are kept as NaN so validation can flag them.
func ParsePower(body []byte) ([]models.DailyRecord, []string, error) {
	var data powerResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal: %w", err)
	}
	params := data.Properties.Parameter
	if len(params) == 0 {
		return nil, nil, errors.New("no parameter data in response")
	}

	dates := make(map[string]struct{})
	for _, series := range params {
		for d := range series {
			dates[d] = struct{}{}
		}
	}
	keys := make([]string, 0, len(dates))
	for d := range dates {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	value := func(param, date string) float64 {
		v, ok := params[param][date]
		if !ok || v == powerMissing {
			return nan
		}
		return v
	}

	var records []models.DailyRecord
	var parseErrors []string
	for _, d := range keys {
		date, err := time.Parse("20060102", d)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("date %q: %v", d, err))
			continue
		}
		records = append(records, models.DailyRecord{
			Date:           date,
			Temperature:    value(ParamTemp, d),
			MaxTemperature: value(ParamTempMax, d),
			MinTemperature: value(ParamTempMin, d),
			Precipitation:  value(ParamPrecip, d),
			WindSpeed:      value(ParamWindSpeed, d),
			Humidity:       value(ParamHumidity, d),
		})
	}
	return records, parseErrors, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
