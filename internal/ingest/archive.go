package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/fairweather/internal/metrics"
	"github.com/lox/fairweather/internal/models"
)

// ArchiveClient reads pre-exported daily records from an FTP mirror. Each
// location has one CSV file named after its cache key, with a DATE column
// followed by POWER parameter columns.
type ArchiveClient struct {
	host     string
	user     string
	password string
	dir      string
}

// NewArchiveClient returns a client for host (host:port). Empty credentials
// log in anonymously.
func NewArchiveClient(host, user, password, dir string) *ArchiveClient {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	return &ArchiveClient{host: host, user: user, password: password, dir: dir}
}

// ArchivePath is the remote file holding records for loc.
func (a *ArchiveClient) ArchivePath(loc models.Location) string {
	name := strings.ReplaceAll(loc.Key(), ",", "_") + ".csv"
	return path.Join("/", a.dir, name)
}

func (a *ArchiveClient) FetchDaily(ctx context.Context, loc models.Location) ([]models.DailyRecord, []byte, *FetchResult, error) {
	result := &FetchResult{}
	began := time.Now()
	defer func() {
		metrics.ProviderLatency.WithLabelValues("archive").Observe(time.Since(began).Seconds())
	}()

	conn, err := ftp.Dial(a.host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("archive", "dial_error").Inc()
		result.Error = fmt.Errorf("ftp dial: %w: %w", ErrUpstream, err)
		return nil, nil, result, result.Error
	}
	defer conn.Quit()

	if err := conn.Login(a.user, a.password); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("archive", "login_error").Inc()
		result.Error = fmt.Errorf("ftp login: %w: %w", ErrUpstream, err)
		return nil, nil, result, result.Error
	}

	resp, err := conn.Retr(a.ArchivePath(loc))
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("archive", "not_found").Inc()
		result.Error = fmt.Errorf("ftp retr: %w: %w", ErrUpstream, err)
		return nil, nil, result, result.Error
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return nil, nil, result, result.Error
	}
	metrics.ProviderCallsTotal.WithLabelValues("archive", "ok").Inc()
	result.ResponseSize = len(body)

	records, parseErrs, err := ParseArchiveCSV(bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("archive: %w", err)
		return nil, body, result, result.Error
	}
	result.RecordCount = len(records)
	if len(parseErrs) > 0 {
		result.ParseErrors = len(parseErrs)
		result.ParseError = parseErrs[0]
	}

	kept := DropFlagged(records)
	result.Rejected = len(records) - len(kept)
	metrics.RecordsIngested.WithLabelValues("archive").Add(float64(len(kept)))
	return kept, body, result, nil
}

// ParseArchiveCSV reads a header row naming DATE plus any of the POWER
// parameter codes, then one row per day. Dates may be YYYYMMDD or
// YYYY-MM-DD. Missing columns and -999 cells become NaN; rows that fail to
// parse are reported and skipped.
func ParseArchiveCSV(r io.Reader) ([]models.DailyRecord, []string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty archive file")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	dateCol, ok := cols["DATE"]
	if !ok {
		return nil, nil, errors.New("archive header has no DATE column")
	}

	var records []models.DailyRecord
	var parseErrors []string
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if dateCol >= len(row) {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: missing date", line))
			continue
		}
		date, err := parseArchiveDate(row[dateCol])
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		cell := func(param string) float64 {
			i, ok := cols[param]
			if !ok || i >= len(row) {
				return nan
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil || v == powerMissing {
				return nan
			}
			return v
		}

		records = append(records, models.DailyRecord{
			Date:           date,
			Temperature:    cell(ParamTemp),
			MaxTemperature: cell(ParamTempMax),
			MinTemperature: cell(ParamTempMin),
			Precipitation:  cell(ParamPrecip),
			WindSpeed:      cell(ParamWindSpeed),
			Humidity:       cell(ParamHumidity),
		})
	}
	return records, parseErrors, nil
}

func parseArchiveDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("20060102", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}
