package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	i := f.calls
	f.calls++
	var resp string
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

type fakeCostRecorder struct {
	calls int
	last  float64
}

func (f *fakeCostRecorder) RecordAPICost(ctx context.Context, service string, amount float64, at time.Time) error {
	f.calls++
	f.last = amount
	return nil
}

const validResponse = `{"estimated_probability": 0.72, "confidence": 0.8, "reasoning": "strong signals", ` +
	`"key_signals": ["a"], "contradictions": [], "signal_info_types": {"a": "I2"}}`

func TestClient_Call_SucceedsFirstTry(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validResponse}}
	cost := &fakeCostRecorder{}
	c := New(completer, cost)

	out, ok := c.Call(context.Background(), "prompt", "m1")
	if !ok {
		t.Fatal("expected success")
	}
	if out.EstimatedProbability != 0.72 {
		t.Errorf("EstimatedProbability = %v, want 0.72", out.EstimatedProbability)
	}
	if cost.calls != 1 {
		t.Errorf("cost.calls = %d, want 1", cost.calls)
	}
}

func TestClient_Call_RecoversFromFencedCode(t *testing.T) {
	fenced := "```json\n" + validResponse + "\n```"
	completer := &fakeCompleter{responses: []string{fenced}}
	c := New(completer, nil)

	out, ok := c.Call(context.Background(), "prompt", "m2")
	if !ok {
		t.Fatal("expected success parsing fenced code block")
	}
	if out.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", out.Confidence)
	}
}

func TestClient_Call_RecoversFromSurroundingText(t *testing.T) {
	surrounded := "Here is my analysis:\n" + validResponse + "\nLet me know if you need more."
	completer := &fakeCompleter{responses: []string{surrounded}}
	c := New(completer, nil)

	_, ok := c.Call(context.Background(), "prompt", "m3")
	if !ok {
		t.Fatal("expected success extracting brace span from surrounding text")
	}
}

func TestClient_Call_RejectsOutOfRangeProbability(t *testing.T) {
	bad := `{"estimated_probability": 1.5, "confidence": 0.8, "reasoning": "x", "signal_info_types": {}}`
	completer := &fakeCompleter{responses: []string{bad, bad, bad}}
	c := New(completer, nil)

	_, ok := c.Call(context.Background(), "prompt", "m4")
	if ok {
		t.Fatal("expected failure for out-of-range probability")
	}
	if completer.calls != 3 {
		t.Errorf("completer.calls = %d, want 3 (exhausted retries)", completer.calls)
	}
}

func TestClient_Call_CoercesStringNumbers(t *testing.T) {
	stringNums := `{"estimated_probability": "0.6", "confidence": "0.7", "reasoning": "x", "signal_info_types": {}}`
	completer := &fakeCompleter{responses: []string{stringNums}}
	c := New(completer, nil)

	out, ok := c.Call(context.Background(), "prompt", "m5")
	if !ok {
		t.Fatal("expected success coercing numeric strings")
	}
	if out.EstimatedProbability != 0.6 {
		t.Errorf("EstimatedProbability = %v, want 0.6", out.EstimatedProbability)
	}
}

func TestClient_Call_ExhaustsAfterTransportErrors(t *testing.T) {
	completer := &fakeCompleter{errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	c := New(completer, nil)

	start := time.Now()
	_, ok := c.Call(context.Background(), "prompt", "m6")
	if ok {
		t.Fatal("expected failure after exhausting retries")
	}
	if time.Since(start) < 3*time.Second {
		t.Error("expected linear backoff to have elapsed at least 1s+2s between attempts")
	}
}

func TestClient_Call_MissingSignalInfoTypesFails(t *testing.T) {
	missing := `{"estimated_probability": 0.6, "confidence": 0.7, "reasoning": "x"}`
	completer := &fakeCompleter{responses: []string{missing, missing, missing}}
	c := New(completer, nil)

	_, ok := c.Call(context.Background(), "prompt", "m7")
	if ok {
		t.Fatal("expected failure when signal_info_types is missing")
	}
}
