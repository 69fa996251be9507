// Package briefing turns an analysis into a short plain-language note for
// event planners, using OpenAI when configured and a template otherwise.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/fairweather/internal/analysis"
	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/risk"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You write short weather briefings for people planning outdoor events.
The numbers you are given are climatological probabilities from past years, not a forecast.
Write 2-3 sentences in plain English. Mention the suitability score, the main risks and one practical tip.
Do not invent numbers that are not in the input.`

var ErrNoAPIKey = errors.New("no OpenAI API key configured")

// Generator writes briefings with a chat completion model.
type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator creates a generator. An empty model uses DefaultModel; extra
// options are passed to the OpenAI client.
func NewGenerator(apiKey, model string, opts ...option.RequestOption) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Generator{client: client, model: model}, nil
}

// Generate asks the model for a briefing on r.
func (g *Generator) Generate(ctx context.Context, r *analysis.Result) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(r)),
		},
		MaxCompletionTokens: openai.Int(250),
	})
	if err != nil {
		return "", fmt.Errorf("briefing generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no briefing returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty briefing returned")
	}
	return text, nil
}

// Briefing returns a briefing and its source, falling back to Template when g is nil or the
// model call fails.
func (g *Generator) Briefing(ctx context.Context, r *analysis.Result) (text, source string) {
	if g == nil {
		return Template(r), "template"
	}
	text, err := g.Generate(ctx, r)
	if err != nil {
		log.Printf("briefing: %v (using template)", err)
		return Template(r), "template"
	}
	return text, "openai"
}

// Prompt is the user message describing r.
func Prompt(r *analysis.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n", place(r.Location))
	fmt.Fprintf(&b, "Date: %s\n", r.Date)
	if r.Preset != nil {
		fmt.Fprintf(&b, "Activity: %s\n", r.Preset.Name)
	}
	fmt.Fprintf(&b, "Data: %s\n", r.Path)
	fmt.Fprintf(&b, "Suitability score: %s/100\n", r.SuitabilityScore)
	fmt.Fprintf(&b, "Overall risk: %s\n", r.RiskAssessment.OverallRisk)
	fmt.Fprintf(&b, "Expected temperature: %.1f°C\n", r.ExpectedTemperature())
	b.WriteString("Probabilities:\n")
	for _, c := range risk.SortedConditions(r.RiskAssessment.RiskLevels) {
		fmt.Fprintf(&b, "- %s: %.1f%% (%s)\n", c, r.Probabilities[c], r.RiskAssessment.RiskLevels[c])
	}
	fmt.Fprintf(&b, "Air quality: AQI %d (%s)\n", r.AirQuality.AQI, r.AirQuality.Category)
	return b.String()
}

// Template is a fixed-form briefing built from the recommendations.
func Template(r *analysis.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s scores %s/100 with %s overall risk",
		place(r.Location), r.Date, r.SuitabilityScore, strings.ToLower(string(r.RiskAssessment.OverallRisk)))
	if r.Preset != nil {
		fmt.Fprintf(&b, " for %s", r.Preset.Name)
	}
	fmt.Fprintf(&b, ". Rain has been recorded on %.0f%% of past years on this date. ", r.Probabilities.Get(models.Rain))
	b.WriteString(strings.Join(r.RiskAssessment.Recommendations, ". "))
	b.WriteString(".")
	return b.String()
}

func place(loc models.Location) string {
	if loc.Name != "" {
		return loc.Name
	}
	return fmt.Sprintf("%.4f, %.4f", loc.Latitude, loc.Longitude)
}
