// Package collectors implements the two Signal sources the spec names:
// the News collector (RSS/Atom headlines) and the Social collector (recent
// posts). Both return normalized model.Signal records; the exact transport
// shape of the upstream feeds and social API is an external collaborator
// detail (§6), so each collector depends on a small Fetcher interface
// rather than a concrete HTTP client.
package collectors

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"predictionmarket-trader/internal/classifier"
	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/transport"
)

// FeedItem is one parsed entry from an RSS/Atom feed.
type FeedItem struct {
	Title     string
	Author    string
	Published time.Time
}

// FeedFetcher fetches and parses one news feed's current entries.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]FeedItem, error)
}

// rssAtomFetcher parses the small subset of RSS 2.0 / Atom that carries a
// title, author, and publish timestamp — sufficient for headline
// collection without a full feed-parsing dependency.
type rssAtomFetcher struct {
	http *transport.Client
}

// NewRSSAtomFetcher builds a FeedFetcher backed by a rate-limited HTTP
// client.
func NewRSSAtomFetcher(requestsPerSecond float64) FeedFetcher {
	return &rssAtomFetcher{http: transport.New("predictionmarket-trader/1.0", requestsPerSecond)}
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title   string `xml:"title"`
			Author  string `xml:"author"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
	Entries []struct {
		Title     string `xml:"title"`
		Published string `xml:"published"`
		Updated   string `xml:"updated"`
		Author    struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (f *rssAtomFetcher) Fetch(ctx context.Context, feedURL string) ([]FeedItem, error) {
	raw, err := f.http.GetText(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	var doc rssDoc
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}

	var items []FeedItem
	for _, it := range doc.Channel.Items {
		pub, _ := time.Parse(time.RFC1123Z, it.PubDate)
		items = append(items, FeedItem{Title: strings.TrimSpace(it.Title), Author: it.Author, Published: pub})
	}
	for _, e := range doc.Entries {
		ts := e.Published
		if ts == "" {
			ts = e.Updated
		}
		pub, _ := time.Parse(time.RFC3339, ts)
		items = append(items, FeedItem{Title: strings.TrimSpace(e.Title), Author: e.Author.Name, Published: pub})
	}
	return items, nil
}

// NewsCollector polls configured feeds for fresh headlines, deduplicating
// across calls via a bounded-memory map owned exclusively by this
// collector (§5 Shared resources).
type NewsCollector struct {
	fetch      FeedFetcher
	classifier *classifier.Classifier
	feeds      []feedConfig

	seen map[string]time.Time // headline text -> first-seen time
}

type feedConfig struct {
	url    string
	domain string
}

// NewNewsCollector builds a collector over the given feeds, each paired
// with the canonical domain the classifier uses for tier lookup.
func NewNewsCollector(fetch FeedFetcher, clsfr *classifier.Classifier, feeds map[string]string) *NewsCollector {
	nc := &NewsCollector{
		fetch:      fetch,
		classifier: clsfr,
		seen:       make(map[string]time.Time),
	}
	for url, domain := range feeds {
		nc.feeds = append(nc.feeds, feedConfig{url: url, domain: domain})
	}
	return nc
}

const (
	newsFreshnessWindow = 2 * time.Hour
	newsDedupMemory     = 24 * time.Hour
)

// Collect polls every configured feed, returning fresh, unseen, classified
// headline signals. A parse failure on one feed is logged and skipped; it
// never aborts the others (§4.2, §7).
func (nc *NewsCollector) Collect(ctx context.Context, now time.Time) []model.Signal {
	nc.pruneSeen(now)

	var signals []model.Signal
	for _, fc := range nc.feeds {
		items, err := nc.fetch.Fetch(ctx, fc.url)
		if err != nil {
			logger.Warn("news_collector", "feed fetch failed: "+fc.url+": "+err.Error())
			continue
		}
		for _, item := range items {
			if item.Title == "" {
				continue
			}
			if _, dup := nc.seen[item.Title]; dup {
				continue
			}
			age := now.Sub(item.Published)
			if !item.Published.IsZero() && age > newsFreshnessWindow {
				continue
			}
			nc.seen[item.Title] = now

			tier := nc.classifier.Classify(model.SourceMeta{
				Kind:   model.SourceNews,
				Domain: fc.domain,
				Handle: item.Author,
			})
			signals = append(signals, model.Signal{
				SourceKind:   model.SourceNews,
				SourceTier:   tier,
				Text:         item.Title,
				Credibility:  classifier.Credibility(tier),
				Author:       item.Author,
				Timestamp:    item.Published,
				HeadlineOnly: true,
			})
		}
	}
	return signals
}

// pruneSeen drops dedup entries older than newsDedupMemory, run at the
// start of every call (§4.2).
func (nc *NewsCollector) pruneSeen(now time.Time) {
	for headline, firstSeen := range nc.seen {
		if now.Sub(firstSeen) > newsDedupMemory {
			delete(nc.seen, headline)
		}
	}
}
