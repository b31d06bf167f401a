package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/pkg/httpclient"
)

const (
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel     = "gemini-1.5-flash"
)

// GeminiConfig configures the Gemini analyzer.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string

	// Images downloads the URLs handed to AnalyzeImages. Required.
	Images ImageSource
	Client *httpclient.Client
	Logger *slog.Logger
}

// Gemini calls the generateContent endpoint with every image inlined.
type Gemini struct {
	apiKey   string
	endpoint string
	prompt   string
	images   ImageSource
	client   *httpclient.Client
	logger   *slog.Logger
}

var _ Analyzer = (*Gemini)(nil)

// NewGemini creates a Gemini analyzer.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.Images == nil {
		return nil, errors.New("gemini: image source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + url.PathEscape(cfg.Model) + ":generateContent",
		prompt:   cfg.Prompt,
		images:   cfg.Images,
		client:   cfg.Client,
		logger:   cfg.Logger.With("analyzer", "gemini", "model", cfg.Model),
	}, nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// AnalyzeImages fetches urls, drops the ones that fail and sends the rest in
// a single request. Only a failed request returns an error.
func (g *Gemini) AnalyzeImages(ctx context.Context, urls []string) (report string, err error) {
	if len(urls) == 0 {
		return NoImages, nil
	}

	images, failed := g.images.FetchAll(ctx, urls)
	g.logger.Debug("images fetched", "requested", len(urls), "ok", len(images), "failed", len(failed))
	if len(images) == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &Error{Err: ctxErr}
		}
		return NoImagesFetched, nil
	}

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.AnalyzerRequestsTotal.WithLabelValues(outcome).Inc()
	}()

	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: g.prompt})
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	header := http.Header{}
	header.Set("x-goog-api-key", g.apiKey)

	var resp generateResponse
	status, err := g.client.DoJSON(ctx, http.MethodPost, g.endpoint, header,
		generateRequest{Contents: []content{{Parts: parts}}}, &resp)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			g.logger.Error("analysis request rejected", "status", se.StatusCode, "body", se.Body)
			return "", &Error{StatusCode: se.StatusCode, Body: se.Body, Err: err}
		}
		return "", &Error{StatusCode: status, Err: err}
	}
	if resp.Error != nil {
		return "", &Error{StatusCode: status, Body: resp.Error.Message, Err: fmt.Errorf("gemini %s", resp.Error.Status)}
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 || resp.Candidates[0].Content.Parts[0].Text == "" {
		return NoAnalysis, nil
	}
	g.logger.Info("analysis complete", "images", len(images))
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
