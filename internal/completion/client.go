// Package completion wraps the remote generative-model endpoint behind a
// circuit breaker, a rate limiter, and a bounded retry loop.
package completion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

// Params are the per-call model parameters.
type Params struct {
	ModelID     string
	Temperature float32
	MaxTokens   int32
}

// Answer is the client's output contract.
type Answer struct {
	Text       string
	ModelID    string
	TokenUsage int
}

// Client wraps the completion endpoint.
type Client struct {
	genaiClient *genai.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	maxRetries  int
	callTimeout time.Duration
}

// New dials the completion endpoint. apiURL overrides the default
// generative-language endpoint when set (empty uses the SDK default).
func New(ctx context.Context, apiKey, apiURL string, rps float64, burst int, maxRetries int, callTimeout time.Duration) (*Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if apiURL != "" {
		opts = append(opts, option.WithEndpoint(apiURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion-endpoint",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("completion circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 4
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	return &Client{
		genaiClient: client,
		breaker:     breaker,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:  maxRetries,
		callTimeout: callTimeout,
	}, nil
}

// Answer submits prompt (already assembled with any retrieved context) to
// the configured model, retrying transient failures with exponential
// backoff and classifying every terminal failure into the apperr taxonomy.
func (c *Client) Answer(ctx context.Context, prompt string, params Params) (*Answer, error) {
	tracer := otel.Tracer("completion-client")
	ctx, span := tracer.Start(ctx, "completion.answer")
	defer span.End()
	span.SetAttributes(attribute.String("completion.model", params.ModelID))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Newf(apperr.ModelTimeout, "rate limiter wait: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-callCtx.Done():
				return nil, classifyContextErr(callCtx)
			}
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.call(callCtx, prompt, params)
		})
		if err == nil {
			return result.(*Answer), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, apperr.New(apperr.ModelTransient, "completion endpoint circuit breaker is open")
		}

		if classified, ok := apperr.As(err); ok {
			if classified.Kind != apperr.ModelTransient {
				return nil, classified // permanent/timeout: fail fast, no retry
			}
			lastErr = classified
			continue
		}
		lastErr = err
	}

	return nil, apperr.Newf(apperr.ModelTransient, "exhausted %d retries: %v", c.maxRetries, lastErr)
}

func (c *Client) call(ctx context.Context, prompt string, params Params) (*Answer, error) {
	if ctx.Err() != nil {
		return nil, classifyContextErr(ctx)
	}

	modelID := params.ModelID
	if modelID == "" {
		modelID = "gemini-2.0-flash"
	}
	model := c.genaiClient.GenerativeModel(modelID)
	if params.Temperature > 0 {
		model.SetTemperature(params.Temperature)
	}
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(params.MaxTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyContextErr(ctx)
		}
		return nil, classifyTransportErr(err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, apperr.New(apperr.ModelPermanent, "completion endpoint returned no content")
	}

	return &Answer{
		Text:       text,
		ModelID:    modelID,
		TokenUsage: extractTokenUsage(resp),
	}, nil
}

// Format reshapes a raw answer into structured markdown via a second,
// skippable model call. Its failure MUST NOT fail the request — callers
// fall back to the raw answer.
func (c *Client) Format(ctx context.Context, rawAnswer string, params Params) (string, error) {
	prompt := fmt.Sprintf("Reformat the following answer as clean, structured markdown. Do not change its meaning or add new information:\n\n%s", rawAnswer)
	answer, err := c.Answer(ctx, prompt, params)
	if err != nil {
		logger.Warn("optional formatting pass failed, returning raw answer", "error", err)
		return rawAnswer, nil
	}
	return answer.Text, nil
}

func classifyContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.New(apperr.ModelTimeout, "completion call exceeded its deadline")
	}
	return apperr.New(apperr.ModelTimeout, ctx.Err().Error())
}

// classifyTransportErr distinguishes transient (5xx/429/connection-reset)
// from permanent (other 4xx) upstream failures for the retry policy. The
// genai SDK doesn't expose a typed status code uniformly, so this inspects
// the error text instead.
func classifyTransportErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "503"), strings.Contains(msg, "502"), strings.Contains(msg, "500"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "timeout"):
		return apperr.Newf(apperr.ModelTransient, "%v", err)
	case strings.Contains(msg, "400"), strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "404"):
		return apperr.Newf(apperr.ModelPermanent, "%v", err)
	default:
		return apperr.Newf(apperr.ModelTransient, "%v", err)
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String()
}

func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return len(extractText(resp)) / 4
}
