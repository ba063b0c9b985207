// Package ai talks to the generative model that writes the bot's answers.
//
// Gemini is reached through its OpenAI-compatible endpoint, so the client is
// a thin layer over go-openai: a single user turn carrying the prompt and,
// for photos, the image as an inline data URL.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-assistant-bot/internal/domain"
	"github.com/tbourn/go-assistant-bot/internal/observability"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 60 * time.Second

	defaultImageMIME = "image/jpeg"
)

// Options configures a Gemini client. Zero values fall back to the defaults.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the transport; tests point it at httptest.
	HTTPClient *http.Client
}

// Gemini generates answers for prompts and images.
type Gemini struct {
	client *openai.Client
	model  string
}

// NewGemini builds a client from opts.
func NewGemini(opts Options) *Gemini {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	hc.Timeout = opts.Timeout

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	cfg.HTTPClient = hc
	return &Gemini{client: openai.NewClientWithConfig(cfg), model: opts.Model}
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string { return g.model }

// Generate sends prompt (and img, when non-nil) and returns the model's text.
// Every failure, including an empty answer, wraps domain.ErrGeneration.
func (g *Gemini) Generate(ctx context.Context, prompt string, img *domain.Image) (string, error) {
	ctx, span := otel.Tracer("ai/Gemini").Start(ctx, "Generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ai.model", g.model),
			attribute.Bool("ai.image", img != nil),
			attribute.Int("ai.prompt_len", len(prompt)),
		),
	)
	defer span.End()

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if img == nil {
		msg.Content = prompt
	} else {
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL(img)}},
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		err = fmt.Errorf("%w: %s", domain.ErrGeneration, describe(err))
		observability.FailSpan(span, err, "completion failed")
		return "", err
	}

	text := answerText(resp)
	if text == "" {
		err := fmt.Errorf("%w: empty answer", domain.ErrGeneration)
		observability.FailSpan(span, nil, "empty answer")
		return "", err
	}
	log.Debug().Str("model", g.model).Int("tokens", resp.Usage.TotalTokens).Msg("ai answer received")
	return text, nil
}

func answerText(resp openai.ChatCompletionResponse) string {
	for _, c := range resp.Choices {
		if t := strings.TrimSpace(c.Message.Content); t != "" {
			return t
		}
	}
	return ""
}

func dataURL(img *domain.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// describe extracts the provider message from SDK errors. Gemini sometimes
// wraps its error object in an array, which the SDK cannot decode; the raw
// body is then read with gjson.
func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		for _, path := range []string{"error.message", "0.error.message", "message"} {
			if m := gjson.GetBytes(reqErr.Body, path); m.Exists() && m.String() != "" {
				return fmt.Sprintf("status %d: %s", reqErr.HTTPStatusCode, m.String())
			}
		}
		return fmt.Sprintf("status %d", reqErr.HTTPStatusCode)
	}
	return err.Error()
}
