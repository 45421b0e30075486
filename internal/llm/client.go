// Package llm implements the LM Client (§4.4) and Context Builder (§4.5):
// a retrying, tolerant-JSON wrapper around the external language model,
// and the prompt/response formatting that feeds it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/transport"
)

// Completer is the raw LM call: a prompt in, text out. The exact transport
// shape of the upstream LM API is an external collaborator detail (§6).
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// CostRecorder is the narrow store dependency the LM Client needs: an
// atomic per-call cost increment (§5 Shared resources). Defined locally so
// this package never imports the store package's concrete type.
type CostRecorder interface {
	RecordAPICost(ctx context.Context, service string, amount float64, at time.Time) error
}

// httpCompleter is the concrete Completer backed by the configured LM API.
type httpCompleter struct {
	http    *transport.Client
	baseURL string
	apiKey  string
	model   string
}

// NewHTTPCompleter builds a Completer against an OpenAI-compatible chat
// completion endpoint, the shape the rest of the retrieval pack's LM
// integrations (the forecaster agent, the strategy bots) converge on.
func NewHTTPCompleter(baseURL, apiKey, modelName string, requestsPerSecond float64) Completer {
	return &httpCompleter{
		http:    transport.New("predictionmarket-trader/1.0", requestsPerSecond),
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *httpCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := chatRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	var resp chatResponse
	url := c.baseURL + "/chat/completions?key=" + c.apiKey
	if err := c.http.PostJSON(ctx, url, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

const (
	maxAttempts          = 3
	estimatedInputTokens = 600 // rough estimate for a §4.5 prompt; exactness isn't load-bearing
)

// Client wraps a Completer with the §4.4 retry-and-validate policy and
// per-call cost accounting. It never raises to the caller: exhaustion
// returns a zero LMOutput and false.
type Client struct {
	completer Completer
	cost      CostRecorder
}

// New builds a Client.
func New(completer Completer, cost CostRecorder) *Client {
	return &Client{completer: completer, cost: cost}
}

// Call sends prompt for marketID, retrying up to maxAttempts times with
// linear (i+1 second) backoff. Returns the validated output and true on
// success, or (zero value, false) on exhaustion — never an error (§4.4,
// §7: protocol errors here are absorbed, not raised).
func (c *Client) Call(ctx context.Context, prompt, marketID string) (model.LMOutput, bool) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return model.LMOutput{}, false
			}
		}

		text, err := c.completer.Complete(ctx, prompt, 800)
		if err != nil {
			lastErr = err
			continue
		}

		parsed, err := parseTolerant(text)
		if err != nil {
			lastErr = err
			continue
		}

		output, err := validate(parsed)
		if err != nil {
			lastErr = err
			continue
		}

		if c.cost != nil {
			outputTokens := len(text) / 4
			estimatedCost := estimateCost(estimatedInputTokens, outputTokens)
			if err := c.cost.RecordAPICost(ctx, "lm", estimatedCost, time.Now().UTC()); err != nil {
				logger.Warn("llm_client", "cost recording failed: "+err.Error())
			}
		}
		return output, true
	}

	logger.Warn("llm_client", fmt.Sprintf("exhausted %d attempts for market %s: %v", maxAttempts, marketID, lastErr))
	return model.LMOutput{}, false
}

// estimateCost is a flat per-1k-token rate; the exact upstream pricing
// model is out of scope, but the counter must move so the daily API
// budget gate (§4.7) has something real to compare against.
func estimateCost(inputTokens, outputTokens int) float64 {
	const inputPer1k, outputPer1k = 0.003, 0.015
	return float64(inputTokens)/1000*inputPer1k + float64(outputTokens)/1000*outputPer1k
}

var (
	fencedCodeRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	braceSpanRe  = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseTolerant implements the §4.4 three-stage JSON recovery: direct
// parse, then strip fenced-code markers, then extract the first {...}
// span with dot-matches-newline.
func parseTolerant(text string) (map[string]interface{}, error) {
	var direct map[string]interface{}
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		return direct, nil
	}

	if m := fencedCodeRe.FindStringSubmatch(text); m != nil {
		var fenced map[string]interface{}
		if err := json.Unmarshal([]byte(m[1]), &fenced); err == nil {
			return fenced, nil
		}
	}

	if span := braceSpanRe.FindString(text); span != "" {
		var spanned map[string]interface{}
		if err := json.Unmarshal([]byte(span), &spanned); err == nil {
			return spanned, nil
		}
	}

	return nil, fmt.Errorf("llm: no parseable JSON object in response")
}

// validate checks required fields, coerces numeric strings, and rejects
// probabilities/confidences outside [0,1] (§4.4).
func validate(raw map[string]interface{}) (model.LMOutput, error) {
	prob, err := coerceNumber(raw["estimated_probability"])
	if err != nil {
		return model.LMOutput{}, fmt.Errorf("llm: estimated_probability: %w", err)
	}
	if prob < 0 || prob > 1 {
		return model.LMOutput{}, fmt.Errorf("llm: estimated_probability out of range: %v", prob)
	}

	conf, err := coerceNumber(raw["confidence"])
	if err != nil {
		return model.LMOutput{}, fmt.Errorf("llm: confidence: %w", err)
	}
	if conf < 0 || conf > 1 {
		return model.LMOutput{}, fmt.Errorf("llm: confidence out of range: %v", conf)
	}

	reasoning, _ := raw["reasoning"].(string)

	signalTypesRaw, ok := raw["signal_info_types"].(map[string]interface{})
	if !ok {
		return model.LMOutput{}, fmt.Errorf("llm: signal_info_types missing or malformed")
	}
	signalTypes := make(map[string]model.InfoType, len(signalTypesRaw))
	for key, v := range signalTypesRaw {
		s, _ := v.(string)
		signalTypes[key] = model.InfoType(s)
	}

	output := model.LMOutput{
		EstimatedProbability: prob,
		Confidence:           conf,
		Reasoning:            reasoning,
		SignalInfoTypes:      signalTypes,
	}
	if ks, ok := raw["key_signals"].([]interface{}); ok {
		output.KeySignals = toStringSlice(ks)
	}
	if cs, ok := raw["contradictions"].([]interface{}); ok {
		output.Contradictions = toStringSlice(cs)
	}
	return output, nil
}

func coerceNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("missing or non-numeric field")
	}
}

func toStringSlice(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
