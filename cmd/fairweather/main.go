package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/fairweather/internal/analysis"
	"github.com/lox/fairweather/internal/api"
	"github.com/lox/fairweather/internal/briefing"
	"github.com/lox/fairweather/internal/ingest"
	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/presets"
	"github.com/lox/fairweather/internal/store"
	"github.com/lox/fairweather/internal/suitability"
)

type Globals struct {
	DB            string        `name:"db" env:"FAIRWEATHER_DB" default:"data/fairweather.db" help:"Path to SQLite database (\":memory:\" for none on disk)."`
	PowerURL      string        `env:"POWER_URL" help:"NASA POWER daily point endpoint."`
	AirQualityURL string        `env:"AIR_QUALITY_URL" help:"Open-Meteo air quality endpoint."`
	ArchiveHost   string        `env:"ARCHIVE_FTP_HOST" help:"FTP archive host:port used when NASA POWER fails."`
	ArchiveUser   string        `env:"ARCHIVE_FTP_USER" help:"FTP archive user."`
	ArchivePass   string        `env:"ARCHIVE_FTP_PASSWORD" help:"FTP archive password."`
	ArchiveDir    string        `env:"ARCHIVE_FTP_DIR" default:"/power/daily" help:"FTP archive directory."`
	Presets       string        `env:"FAIRWEATHER_PRESETS" help:"YAML preset catalog replacing the built-in one."`
	BaselineYears int           `env:"BASELINE_YEARS" default:"20" help:"Default baseline length in years (5-40)."`
	CacheMaxAge   time.Duration `env:"RECORD_CACHE_MAX_AGE" default:"720h" help:"How long cached daily records stay fresh."`
	Blend         string        `env:"SCORE_BLEND" default:"planner" help:"Composite score blend (planner or dashboard)."`
	AQICap        float64       `name:"aqi-cap" env:"SUBSTITUTE_AQI_CAP" default:"500" help:"Upper bound for the substitute model's AQI."`
}

// config builds the analysis settings shared by every command.
func (g *Globals) config() (analysis.Config, error) {
	cfg := analysis.DefaultConfig()
	cfg.BaselineYears = g.BaselineYears
	blend, err := suitability.BlendByName(g.Blend)
	if err != nil {
		return cfg, err
	}
	cfg.Blend = blend
	cfg.Simulate.Blend = blend
	cfg.Simulate.AQICap = g.AQICap
	return cfg, nil
}

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	Globals

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the HTTP API."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyze one location and date."`
	Simulate SimulateCmd `cmd:"" help:"Print a synthetic daily series."`
	Warm     WarmCmd     `cmd:"" help:"Load the baseline for the sample locations and exit."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("fairweather"),
		kong.Description("Historical weather probabilities and suitability scores for outdoor events."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// app holds everything the commands share.
type app struct {
	db      *sql.DB
	store   *store.Store
	loader  *ingest.Loader
	service *analysis.Service
	catalog *presets.Catalog
}

func (g *Globals) open() (*app, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	if g.DB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(g.DB), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(g.DB)
	if err != nil {
		return nil, err
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")

	catalog := presets.Default()
	if g.Presets != "" {
		if catalog, err = presets.Load(g.Presets); err != nil {
			db.Close()
			return nil, err
		}
		log.Printf("loaded %d presets from %s", len(catalog.Names()), g.Presets)
	}

	loader := ingest.NewLoader(st, ingest.NewPowerClient(g.PowerURL), ingest.NewAirQualityClient(g.AirQualityURL), nil)
	loader.SetMaxAge(g.CacheMaxAge)
	if g.ArchiveHost != "" {
		loader.SetArchive(ingest.NewArchiveClient(g.ArchiveHost, g.ArchiveUser, g.ArchivePass, g.ArchiveDir))
		log.Printf("archive fallback enabled (%s)", g.ArchiveHost)
	}

	svc := analysis.New(loader, loader, st, nil, cfg)

	return &app{db: db, store: st, loader: loader, service: svc, catalog: catalog}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

type ServeCmd struct {
	Port         string        `env:"PORT" default:"8080" help:"HTTP server port."`
	NoWarm       bool          `env:"NO_WARM" help:"Disable background cache warming."`
	WarmInterval time.Duration `env:"WARM_INTERVAL" default:"24h" help:"How often to refresh the sample locations."`
	Retention    time.Duration `name:"payload-retention" env:"PAYLOAD_RETENTION" default:"2160h" help:"How long raw provider responses are kept (0 keeps them all)."`
	OpenAIKey    string        `name:"openai-api-key" env:"OPENAI_API_KEY" help:"Enables model-written briefings."`
	OpenAIModel  string        `name:"openai-model" env:"OPENAI_MODEL" help:"Chat model for briefings."`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.service, a.store, c.Port)
	server.SetPresets(a.catalog)
	if gen, err := briefing.NewGenerator(c.OpenAIKey, c.OpenAIModel); err != nil {
		log.Printf("Model briefings disabled: %v", err)
	} else {
		server.SetBriefing(gen)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoWarm {
		warmer := ingest.NewWarmer(a.loader, models.SampleLocations, g.BaselineYears, nil)
		warmer.SetInterval(c.WarmInterval)
		warmer.SetRetention(c.Retention)
		go warmer.Run(ctx)
	} else {
		log.Println("cache warming disabled (--no-warm)")
	}

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Println("shutdown complete")
	return nil
}

type AnalyzeCmd struct {
	Latitude  float64 `arg:"" help:"Latitude in decimal degrees."`
	Longitude float64 `arg:"" help:"Longitude in decimal degrees."`
	Date      string  `arg:"" help:"Target date (YYYY-MM-DD)."`

	Years    int    `name:"years" help:"Baseline length in years (defaults to --baseline-years)."`
	Preset   string `help:"Activity preset name."`
	Strategy string `help:"Scoring strategy (basic or composite)."`
	JSON     bool   `name:"json" help:"Print the full result as JSON."`
	Briefing bool   `help:"Print a plain-language briefing."`
}

func (c *AnalyzeCmd) Run(g *Globals) error {
	date, err := time.Parse(time.DateOnly, c.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", c.Date, err)
	}
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	req := analysis.Request{
		Location:      models.Location{Latitude: c.Latitude, Longitude: c.Longitude},
		Date:          date,
		BaselineYears: c.Years,
		Strategy:      suitability.Strategy(c.Strategy),
	}
	if c.Preset != "" {
		p, err := a.catalog.Lookup(c.Preset)
		if err != nil {
			return err
		}
		req.Preset = &p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := a.service.Analyze(ctx, req)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	if c.Briefing {
		fmt.Println()
		fmt.Println(briefing.Template(res))
	}
	return nil
}

func printResult(res *analysis.Result) {
	fmt.Printf("%.4f, %.4f on %s (%s path, %s strategy)\n",
		res.Location.Latitude, res.Location.Longitude, res.Date, res.Path, res.Strategy)
	if res.Path == analysis.PathHistorical {
		fmt.Printf("Baseline: %s, %d years, %s records\n",
			res.Metadata.HistoricalPeriod, res.Metadata.TotalYears, humanize.Comma(int64(res.Metadata.TotalRecords)))
	}
	fmt.Printf("Suitability: %s/100, overall risk %s\n", res.SuitabilityScore, res.RiskAssessment.OverallRisk)
	fmt.Printf("Expected temperature: %.1f°C\n", res.ExpectedTemperature())
	fmt.Printf("Air quality: AQI %d (%s)\n", res.AirQuality.AQI, res.AirQuality.Category)
	fmt.Println("Probabilities:")
	for _, cond := range models.Conditions {
		if !res.Probabilities.Has(cond) {
			continue
		}
		fmt.Printf("  %-14s %5.1f%%  %s\n", cond, res.Probabilities.Get(cond), res.RiskAssessment.RiskLevels[cond])
	}
	fmt.Println("Recommendations:")
	for _, r := range res.RiskAssessment.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	if res.ID != "" {
		fmt.Printf("Stored as %s\n", res.ID)
	}
}

type SimulateCmd struct {
	Latitude  float64 `arg:"" help:"Latitude in decimal degrees."`
	Longitude float64 `arg:"" help:"Longitude in decimal degrees."`

	Days   int    `default:"14" help:"Number of days ending yesterday (1-366)."`
	Preset string `help:"Activity preset name."`
}

func (c *SimulateCmd) Run(g *Globals) error {
	catalog := presets.Default()
	if g.Presets != "" {
		var err error
		if catalog, err = presets.Load(g.Presets); err != nil {
			return err
		}
	}
	var preset *suitability.Preset
	if c.Preset != "" {
		p, err := catalog.Lookup(c.Preset)
		if err != nil {
			return err
		}
		preset = &p
	}

	cfg, err := g.config()
	if err != nil {
		return err
	}
	// The substitute model needs no stored data.
	svc := analysis.New(nil, nil, nil, nil, cfg)
	loc := models.Location{Latitude: c.Latitude, Longitude: c.Longitude}
	series, err := svc.Simulate(loc, c.Days, preset, "")
	if err != nil {
		return err
	}

	fmt.Printf("%-10s  %6s  %6s  %6s  %5s  %6s  %5s  %5s\n", "date", "temp", "max", "min", "rh", "precip", "wind", "cloud")
	for _, d := range series.Days {
		fmt.Printf("%-10s  %6s  %6s  %6s  %5s  %6s  %5s  %5s\n",
			d.Date, d.Temperature, d.TempMax, d.TempMin, d.Humidity, d.Precipitation, d.WindSpeed, d.CloudCover)
	}
	av := series.Averages
	fmt.Println(strings.Repeat("-", 62))
	fmt.Printf("%-10s  %6s  %6s  %6s  %5s  %6s  %5s  %5s\n",
		"average", av.Temperature, av.TempMax, av.TempMin, av.Humidity, av.Precipitation, av.WindSpeed, av.CloudCover)
	return nil
}

type WarmCmd struct{}

func (c *WarmCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	warmer := ingest.NewWarmer(a.loader, models.SampleLocations, g.BaselineYears, nil)
	ok, failed := warmer.WarmAll(ctx)
	log.Printf("warmed %d locations, %d failed", ok, failed)

	coverage, err := a.store.ListCoverage()
	if err != nil {
		return err
	}
	for _, c := range coverage {
		fmt.Printf("%-14s %s to %s, fetched %s\n", c.LocationKey, c.Start.Format(time.DateOnly), c.End.Format(time.DateOnly), humanize.Time(c.FetchedAt))
	}
	if failed > 0 {
		return fmt.Errorf("%d locations failed", failed)
	}
	return nil
}
