// Package oracle classifies page images through an OpenAI-compatible
// vision chat-completions endpoint (Groq by default).
package oracle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"
	defaultTimeout = 120 * time.Second
)

var ErrNotConfigured = errors.New("oracle api key not set")

// Classifier returns a verdict for one PNG page image.
type Classifier interface {
	Classify(ctx context.Context, image []byte, model string) (Verdict, error)
}

// Config holds the oracle endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is the HTTP implementation of Classifier.
type Client struct {
	http     *resty.Client
	endpoint string
	model    string
}

// NewClient builds a client. It fails when no API key is configured so a
// missing credential surfaces at startup rather than on every page.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := resty.New().
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{
		http:     httpClient,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:    cfg.Model,
	}, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageContent struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Classify sends the page to the model and decodes its verdict. model
// overrides the configured default when non-empty.
func (c *Client) Classify(ctx context.Context, image []byte, model string) (Verdict, error) {
	if model == "" {
		model = c.model
	}
	rid := uuid.NewString()
	start := time.Now()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []any{
				textContent{Type: "text", Text: classificationPrompt},
				imageContent{Type: "image_url", ImageURL: imageURL{URL: dataURL}},
			},
		}},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	httpResp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		log.Warn().Str("req_id", rid).Err(err).Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("oracle request failed")
		return Verdict{}, fmt.Errorf("call oracle: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil && resp.Error.Message != "" {
			msg += ": " + resp.Error.Message
		} else if body := strings.TrimSpace(string(httpResp.Body())); body != "" {
			msg += ": " + truncate(body, 512)
		}
		log.Warn().Str("req_id", rid).Int("status", httpResp.StatusCode()).Str("model", model).Msg("oracle returned error status")
		return Verdict{}, fmt.Errorf("oracle error: %s", msg)
	}
	if resp.Error != nil {
		return Verdict{}, fmt.Errorf("oracle error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("oracle returned no choices (status %d)", httpResp.StatusCode())
	}

	verdict, err := DecodeVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		log.Warn().Str("req_id", rid).Err(err).Msg("oracle verdict rejected")
		return Verdict{}, err
	}
	log.Debug().
		Str("req_id", rid).
		Str("model", model).
		Bool("is_receipt", verdict.IsReceipt).
		Bool("has_stamp", verdict.HasStamp).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("oracle verdict")
	return verdict, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
