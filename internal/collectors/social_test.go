package collectors

import (
	"context"
	"testing"
	"time"
)

type fakeSearcher struct {
	posts []SocialPost
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, keywords []string) ([]SocialPost, error) {
	return f.posts, f.err
}

func TestSocialCollector_PreFilter(t *testing.T) {
	now := time.Now()
	search := &fakeSearcher{posts: []SocialPost{
		{Text: "Big news about the election outcome today", Followers: 5000, Engagement: 50, Timestamp: now},
		{Text: "low follower post", Followers: 500, Engagement: 50, Timestamp: now},
		{Text: "low engagement post", Followers: 5000, Engagement: 2, Timestamp: now},
		{Text: "stale post from a while back", Followers: 5000, Engagement: 50, Timestamp: now.Add(-3 * time.Hour)},
		{Text: "bot-like post", Followers: 2000, FollowingCount: 40000, AccountAgeDays: 10, Engagement: 50, Timestamp: now},
	}}
	sc := NewSocialCollector(search, testClassifierForCollectors())

	signals := sc.Collect(context.Background(), []string{"election"}, now)
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1; got %+v", len(signals), signals)
	}
	if signals[0].Text != "Big news about the election outcome today" {
		t.Errorf("unexpected signal survived filter: %q", signals[0].Text)
	}
}

func TestSocialCollector_DedupByTokenOverlap(t *testing.T) {
	now := time.Now()
	search := &fakeSearcher{posts: []SocialPost{
		{Text: "breaking news the vote count is final today", Followers: 5000, Engagement: 50, Timestamp: now},
		{Text: "breaking news the vote count is final now", Followers: 6000, Engagement: 60, Timestamp: now},
	}}
	sc := NewSocialCollector(search, testClassifierForCollectors())

	signals := sc.Collect(context.Background(), nil, now)
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1 (near-duplicate posts should collapse)", len(signals))
	}
}

func TestSocialCollector_CapsAtTenSortedByCredibility(t *testing.T) {
	now := time.Now()
	var posts []SocialPost
	for i := 0; i < 15; i++ {
		posts = append(posts, SocialPost{
			Text:       uniqueText(i),
			Followers:  5000,
			Engagement: 50,
			Timestamp:  now,
		})
	}
	search := &fakeSearcher{posts: posts}
	sc := NewSocialCollector(search, testClassifierForCollectors())

	signals := sc.Collect(context.Background(), nil, now)
	if len(signals) != 10 {
		t.Fatalf("len(signals) = %d, want 10", len(signals))
	}
	for i := 1; i < len(signals); i++ {
		if signals[i].Credibility > signals[i-1].Credibility {
			t.Errorf("signals[%d].Credibility = %v > signals[%d].Credibility = %v, want descending", i, signals[i].Credibility, i-1, signals[i-1].Credibility)
		}
	}
}

func TestSocialCollector_TransportFailureReturnsEmpty(t *testing.T) {
	search := &fakeSearcher{err: errFakeParse}
	sc := NewSocialCollector(search, testClassifierForCollectors())

	signals := sc.Collect(context.Background(), nil, time.Now())
	if signals != nil {
		t.Errorf("signals = %v, want nil on transport failure", signals)
	}
}

func uniqueText(i int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	return "social post number " + string(letters[i%len(letters)])
}
