package feed

import (
	"testing"
	"time"

	"github.com/gratialabs/gratia/internal/entity"
)

type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestCachePutAndGet(t *testing.T) {
	cache := NewCache(nil)
	profile := entity.UserProfile{ID: "u7", DisplayName: "Ada"}

	cache.Put(entity.KindUserProfile, "u7", profile)

	value, ok := cache.Get(entity.KindUserProfile, "u7")
	if !ok {
		t.Fatalf("expected cached value")
	}
	if value.(entity.UserProfile) != profile {
		t.Fatalf("unexpected cached value: %#v", value)
	}
	if _, ok := cache.Get(entity.KindUserProfile, "u8"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestCacheFreshnessRespectsTTL(t *testing.T) {
	clock := newManualClock()
	cache := NewCache(clock.Now)
	cache.Put(entity.KindUserProfile, "u7", entity.UserProfile{ID: "u7"})

	if !cache.IsFresh(entity.KindUserProfile, "u7", DefaultFreshTTL) {
		t.Fatalf("expected entry to be fresh immediately after put")
	}

	clock.Advance(DefaultFreshTTL)
	if cache.IsFresh(entity.KindUserProfile, "u7", DefaultFreshTTL) {
		t.Fatalf("expected entry to be stale after the TTL elapses")
	}
	if _, ok := cache.Get(entity.KindUserProfile, "u7"); !ok {
		t.Fatalf("staleness must not evict the value")
	}
}

func TestCacheMergeKeepsAbsentFields(t *testing.T) {
	cache := NewCache(nil)
	cache.Put(entity.KindUserProfile, "u7", entity.UserProfile{
		ID:            "u7",
		Username:      "ada",
		FollowerCount: 12,
	})

	newName := "Ada L."
	merged, err := cache.Merge(entity.KindUserProfile, "u7", entity.ProfileFields{DisplayName: &newName})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile := merged.(entity.UserProfile)
	if profile.DisplayName != "Ada L." || profile.FollowerCount != 12 || profile.Username != "ada" {
		t.Fatalf("merge must only touch present fields, got %#v", profile)
	}
}

func TestCacheMergeCreatesEntryWhenAbsent(t *testing.T) {
	cache := NewCache(nil)

	merged, err := cache.Merge(entity.KindFollowRelation, "u42", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	relation := merged.(entity.FollowRelation)
	if relation.TargetID != "u42" || !relation.Following {
		t.Fatalf("expected default-seeded relation, got %#v", relation)
	}
	if _, ok := cache.Get(entity.KindFollowRelation, "u42"); !ok {
		t.Fatalf("expected merge to create the entry")
	}
}

func TestCacheMergeRestampsFreshness(t *testing.T) {
	clock := newManualClock()
	cache := NewCache(clock.Now)
	cache.Put(entity.KindUserProfile, "u7", entity.UserProfile{ID: "u7"})

	clock.Advance(DefaultFreshTTL + time.Second)
	if cache.IsFresh(entity.KindUserProfile, "u7", DefaultFreshTTL) {
		t.Fatalf("expected stale entry before merge")
	}

	newName := "Ada"
	if _, err := cache.Merge(entity.KindUserProfile, "u7", entity.ProfileFields{DisplayName: &newName}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cache.IsFresh(entity.KindUserProfile, "u7", DefaultFreshTTL) {
		t.Fatalf("expected merge to re-stamp freshness")
	}
}

func TestCacheClearDropsEverything(t *testing.T) {
	cache := NewCache(nil)
	cache.Put(entity.KindUserProfile, "u7", entity.UserProfile{ID: "u7"})
	cache.Put(entity.KindNotificationCount, "unread", entity.NotificationCount(5))

	cache.Clear()

	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d entries", cache.Len())
	}
}
