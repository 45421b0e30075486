package collectors

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"predictionmarket-trader/internal/classifier"
	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/transport"
)

// SocialPost is one raw post returned by the social search API, before
// pre-filtering, dedup, or tier classification.
type SocialPost struct {
	Text           string
	Author         string
	Verified       bool
	Followers      int64
	FollowingCount int64
	Engagement     int64 // likes + reposts + replies
	AccountAgeDays int
	Bio            string
	Timestamp      time.Time
}

// SocialSearcher queries recent posts matching a keyword set. Its HTTP
// shape is an external collaborator detail (§6); implementations wrap
// whatever social search API is configured.
type SocialSearcher interface {
	Search(ctx context.Context, keywords []string) ([]SocialPost, error)
}

// httpSocialSearcher is the concrete HTTP-backed SocialSearcher. The
// upstream API shape (a keyword search returning recent posts) mirrors
// the Market Source's httpSource: a rate-limited transport.Client, an
// API key carried as a query parameter since the shared transport.Client
// doesn't thread per-request headers.
type httpSocialSearcher struct {
	http    *transport.Client
	baseURL string
	apiKey  string
}

// NewHTTPSocialSearcher builds a SocialSearcher against the configured
// social search API.
func NewHTTPSocialSearcher(baseURL, apiKey string, requestsPerSecond float64) SocialSearcher {
	return &httpSocialSearcher{
		http:    transport.New("predictionmarket-trader/1.0", requestsPerSecond),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type socialSearchResponse struct {
	Posts []socialPostDTO `json:"posts"`
}

type socialPostDTO struct {
	Text           string  `json:"text"`
	Author         string  `json:"author"`
	Verified       bool    `json:"verified"`
	Followers      int64   `json:"followers"`
	FollowingCount int64   `json:"following_count"`
	Engagement     int64   `json:"engagement"`
	AccountAgeDays int     `json:"account_age_days"`
	Bio            string  `json:"bio"`
	Timestamp      string  `json:"timestamp"`
}

func (s *httpSocialSearcher) Search(ctx context.Context, keywords []string) ([]SocialPost, error) {
	q := url.Values{}
	q.Set("query", strings.Join(keywords, " "))
	q.Set("api_key", s.apiKey)

	var resp socialSearchResponse
	if err := s.http.GetJSON(ctx, s.baseURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	posts := make([]SocialPost, len(resp.Posts))
	for i, d := range resp.Posts {
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		posts[i] = SocialPost{
			Text:           d.Text,
			Author:         d.Author,
			Verified:       d.Verified,
			Followers:      d.Followers,
			FollowingCount: d.FollowingCount,
			Engagement:     d.Engagement,
			AccountAgeDays: d.AccountAgeDays,
			Bio:            d.Bio,
			Timestamp:      ts,
		}
	}
	return posts, nil
}

// SocialCollector applies the §4.2 pre-filter, dedup, and ranking pipeline
// over a SocialSearcher's raw results.
type SocialCollector struct {
	search     SocialSearcher
	classifier *classifier.Classifier
}

// NewSocialCollector builds a SocialCollector over the given searcher.
func NewSocialCollector(search SocialSearcher, clsfr *classifier.Classifier) *SocialCollector {
	return &SocialCollector{search: search, classifier: clsfr}
}

const (
	socialFreshnessWindow  = 2 * time.Hour
	socialMinFollowers     = 1000
	socialMinEngagement    = 10
	socialDedupOverlap     = 0.80
	socialMaxResults       = 10
)

// Collect returns up to 10 classified, deduplicated signals for keywords,
// sorted by credibility descending. Any transport failure returns an
// empty list after logging (§4.2).
func (sc *SocialCollector) Collect(ctx context.Context, keywords []string, now time.Time) []model.Signal {
	posts, err := sc.search.Search(ctx, keywords)
	if err != nil {
		logger.Warn("social_collector", "search failed: "+err.Error())
		return nil
	}

	var filtered []SocialPost
	for _, p := range posts {
		if !p.Timestamp.IsZero() && now.Sub(p.Timestamp) > socialFreshnessWindow {
			continue
		}
		if p.Followers < socialMinFollowers || p.Engagement < socialMinEngagement {
			continue
		}
		if isBotHeuristic(p) {
			continue
		}
		filtered = append(filtered, p)
	}

	deduped := dedupByTokenOverlap(filtered)

	signals := make([]model.Signal, 0, len(deduped))
	for _, p := range deduped {
		tier := sc.classifier.Classify(model.SourceMeta{
			Kind:      model.SourceSocial,
			Handle:    p.Author,
			Verified:  p.Verified,
			Followers: p.Followers,
			Bio:       p.Bio,
		})
		signals = append(signals, model.Signal{
			SourceKind:  model.SourceSocial,
			SourceTier:  tier,
			Text:        p.Text,
			Credibility: classifier.Credibility(tier),
			Author:      p.Author,
			Followers:   p.Followers,
			Engagement:  p.Engagement,
			Timestamp:   p.Timestamp,
		})
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Credibility > signals[j].Credibility
	})
	if len(signals) > socialMaxResults {
		signals = signals[:socialMaxResults]
	}
	return signals
}

// isBotHeuristic flags accounts showing the classic follower-farming
// shape: many more accounts followed than followers, on a young account.
func isBotHeuristic(p SocialPost) bool {
	if p.Verified {
		return false
	}
	if p.FollowingCount > 0 && p.Followers > 0 {
		ratio := float64(p.FollowingCount) / float64(p.Followers)
		if ratio > 10 && p.AccountAgeDays < 90 {
			return true
		}
	}
	return false
}

// dedupByTokenOverlap drops posts whose text overlaps an earlier-kept
// post by at least socialDedupOverlap, measured as the Jaccard-like ratio
// of shared lowercase tokens over the smaller post's token count.
func dedupByTokenOverlap(posts []SocialPost) []SocialPost {
	kept := make([]SocialPost, 0, len(posts))
	keptTokens := make([]map[string]struct{}, 0, len(posts))

	for _, p := range posts {
		tokens := tokenize(p.Text)
		dup := false
		for _, existing := range keptTokens {
			if tokenOverlap(tokens, existing) >= socialDedupOverlap {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, p)
			keptTokens = append(keptTokens, tokens)
		}
	}
	return kept
}

func tokenize(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func tokenOverlap(a, b map[string]struct{}) float64 {
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	if len(smaller) == 0 {
		return 0
	}
	shared := 0
	for tok := range smaller {
		if _, ok := larger[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(smaller))
}
