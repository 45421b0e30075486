package collectors

import (
	"context"
	"testing"
	"time"

	"predictionmarket-trader/internal/classifier"
	"predictionmarket-trader/internal/config"
)

type fakeFetcher struct {
	items map[string][]FeedItem
	err   map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) ([]FeedItem, error) {
	if err, ok := f.err[feedURL]; ok {
		return nil, err
	}
	return f.items[feedURL], nil
}

func testClassifierForCollectors() *classifier.Classifier {
	return classifier.New(&config.SourceList{
		S2Domains: []string{"reuters.com"},
	})
}

func TestNewsCollector_DropsStaleAndDuplicateEntries(t *testing.T) {
	now := time.Now()
	fetch := &fakeFetcher{
		items: map[string][]FeedItem{
			"https://reuters.com/feed": {
				{Title: "Fresh headline", Published: now.Add(-30 * time.Minute)},
				{Title: "Stale headline", Published: now.Add(-3 * time.Hour)},
			},
		},
	}
	nc := NewNewsCollector(fetch, testClassifierForCollectors(), map[string]string{
		"https://reuters.com/feed": "reuters.com",
	})

	signals := nc.Collect(context.Background(), now)
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(signals))
	}
	if signals[0].Text != "Fresh headline" {
		t.Errorf("signals[0].Text = %q, want %q", signals[0].Text, "Fresh headline")
	}
	if !signals[0].HeadlineOnly {
		t.Error("expected HeadlineOnly = true")
	}

	// Second call with the same item should be deduplicated.
	signals2 := nc.Collect(context.Background(), now.Add(time.Minute))
	if len(signals2) != 0 {
		t.Errorf("len(signals2) = %d, want 0 (duplicate should be dropped)", len(signals2))
	}
}

func TestNewsCollector_IsolatesPerFeedFailures(t *testing.T) {
	now := time.Now()
	fetch := &fakeFetcher{
		items: map[string][]FeedItem{
			"https://good.example/feed": {{Title: "Good headline", Published: now}},
		},
		err: map[string]error{
			"https://bad.example/feed": errFakeParse,
		},
	}
	nc := NewNewsCollector(fetch, testClassifierForCollectors(), map[string]string{
		"https://good.example/feed": "good.example",
		"https://bad.example/feed":  "bad.example",
	})

	signals := nc.Collect(context.Background(), now)
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1 (bad feed must not affect good feed)", len(signals))
	}
}

func TestNewsCollector_PrunesDedupMemoryAfter24Hours(t *testing.T) {
	now := time.Now()
	fetch := &fakeFetcher{
		items: map[string][]FeedItem{
			"https://reuters.com/feed": {{Title: "Recurring headline", Published: now}},
		},
	}
	nc := NewNewsCollector(fetch, testClassifierForCollectors(), map[string]string{
		"https://reuters.com/feed": "reuters.com",
	})

	nc.Collect(context.Background(), now)
	later := now.Add(25 * time.Hour)
	fetch.items["https://reuters.com/feed"][0].Published = later
	signals := nc.Collect(context.Background(), later)
	if len(signals) != 1 {
		t.Errorf("len(signals) = %d, want 1 (dedup entry should have been pruned)", len(signals))
	}
}

var errFakeParse = fakeParseError("parse error")

type fakeParseError string

func (e fakeParseError) Error() string { return string(e) }
