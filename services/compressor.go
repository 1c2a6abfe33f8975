package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"document-context-platform/internal/config"
	"document-context-platform/internal/logger"
)

const maxCompressionInput = 8000 // characters sent to the model per document

// Compressor turns extracted text into a compact description via Gemini.
// Calls are rate limited and guarded by a circuit breaker so a degraded API
// fails fast instead of piling up requests.
type Compressor struct {
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewCompressor(cfg *config.Config) (*Compressor, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiSummarize",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	limits := rateLimitsForTier(cfg.GeminiTier)
	limiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burstFor(limits.RPM))

	return &Compressor{
		client:  client,
		model:   cfg.GeminiModel,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

// Compress produces a description of the document suitable for inclusion in
// a downstream prompt. Typed failure: ErrEmptySummary.
func (c *Compressor) Compress(ctx context.Context, text, filename, contentType string) (string, error) {
	tracer := otel.Tracer("compressor")
	ctx, span := tracer.Start(ctx, "gemini.summarize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("input_chars", len(text)),
		attribute.String("model", c.model),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	prompt := buildCompressionPrompt(text, filename, contentType)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		model := c.client.GenerativeModel(c.model)
		model.SetTemperature(0.3)
		model.SetMaxOutputTokens(1024)
		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return "", fmt.Errorf("summarization unavailable: %w", err)
		}
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	summary := responseText(result.(*genai.GenerateContentResponse))
	if strings.TrimSpace(summary) == "" {
		return "", ErrEmptySummary
	}
	return strings.TrimSpace(summary), nil
}

func (c *Compressor) Close() error {
	return c.client.Close()
}

func buildCompressionPrompt(text, filename, contentType string) string {
	return fmt.Sprintf(`Summarize the following document concisely, preserving:
1. Key information and facts
2. Important concepts
3. Names, numbers, and technical terms

Document: %s (%s)

%s

Provide a comprehensive yet concise summary:`, filename, contentType, truncateText(text, maxCompressionInput))
}

// responseText flattens a Gemini response into plain text.
func responseText(resp *genai.GenerateContentResponse) string {
	var result strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.WriteString(string(text))
				}
			}
		}
	}
	return result.String()
}

func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}

type rateLimits struct {
	RPM int
	TPM int
}

func rateLimitsForTier(tier string) rateLimits {
	switch tier {
	case "tier1":
		return rateLimits{RPM: 1000, TPM: 1000000}
	case "tier2":
		return rateLimits{RPM: 2000, TPM: 4000000}
	default:
		return rateLimits{RPM: 10, TPM: 250000}
	}
}

func burstFor(rpm int) int {
	if rpm < 10 {
		return 1
	}
	return rpm / 10
}
