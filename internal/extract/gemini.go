package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/podushkina/docextract/internal/task"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

	pdfPrompt   = "Extract all text and any tables from this PDF. Represent tables as a JSON array of objects with 'headers' and 'rows' keys."
	imagePrompt = "Extract all text and any tables from this image. Represent tables as a JSON array of objects with 'headers' and 'rows' keys."
)

// GeminiClient implements Provider against the Gemini generateContent
// REST endpoint.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewGeminiClient(apiKey, model string, logger zerolog.Logger) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    geminiBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With().Str("component", "gemini").Logger(),
	}
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the document inline and returns the raw response text
// with token usage. The tables-as-JSON instruction is advisory only;
// the parser copes when the model ignores it.
func (c *GeminiClient) Extract(ctx context.Context, req Request) (*Response, error) {
	prompt := imagePrompt
	if req.Kind == task.KindPDF {
		prompt = pdfPrompt
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []part{{
				InlineData: &inlineData{
					MIMEType: req.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(req.Data),
				},
			}},
		}},
		SystemInstruction: &content{Parts: []part{{Text: prompt}}},
		GenerationConfig:  &generationConfig{Temperature: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if gr.Error != nil {
			return nil, fmt.Errorf("provider error %d: %s", gr.Error.Code, gr.Error.Message)
		}
		return nil, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}

	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("provider returned no candidates")
	}

	var text string
	for _, p := range gr.Candidates[0].Content.Parts {
		text += p.Text
	}

	c.logger.Info().
		Int("input_tokens", gr.UsageMetadata.PromptTokenCount).
		Int("output_tokens", gr.UsageMetadata.CandidatesTokenCount).
		Str("kind", string(req.Kind)).
		Msg("extraction complete")

	return &Response{
		Text:         text,
		InputTokens:  gr.UsageMetadata.PromptTokenCount,
		OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
	}, nil
}
