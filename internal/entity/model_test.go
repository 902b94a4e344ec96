package entity

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKindAcceptsKnownKinds(t *testing.T) {
	inputs := map[string]Kind{
		"user_profile":       KindUserProfile,
		"FOLLOW_RELATION":    KindFollowRelation,
		" current_identity ": KindCurrentIdentity,
		"notification_count": KindNotificationCount,
	}
	for raw, expected := range inputs {
		kind, err := ParseKind(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if kind != expected {
			t.Fatalf("expected %s for %q, got %s", expected, raw, kind)
		}
	}
}

func TestParseKindRejectsUnknownKind(t *testing.T) {
	if _, err := ParseKind("post"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNewIDRejectsEmptyAndOversized(t *testing.T) {
	if _, err := NewID("   "); !errors.Is(err, ErrInvalidEntityID) {
		t.Fatalf("expected ErrInvalidEntityID for blank input, got %v", err)
	}
	if _, err := NewID(strings.Repeat("x", 191)); !errors.Is(err, ErrInvalidEntityID) {
		t.Fatalf("expected ErrInvalidEntityID for oversized input, got %v", err)
	}
	id, err := NewID(" u42 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "u42" {
		t.Fatalf("expected trimmed id, got %q", id)
	}
}

func TestApplyPartialKeepsAbsentProfileFields(t *testing.T) {
	existing := UserProfile{
		ID:            "u7",
		Username:      "ada",
		DisplayName:   "Ada",
		FollowerCount: 12,
	}
	newName := "Ada L."
	merged, err := ApplyPartial(KindUserProfile, existing, ProfileFields{DisplayName: &newName})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, ok := merged.(UserProfile)
	if !ok {
		t.Fatalf("expected UserProfile, got %T", merged)
	}
	if profile.DisplayName != "Ada L." {
		t.Fatalf("expected display name to update, got %q", profile.DisplayName)
	}
	if profile.FollowerCount != 12 {
		t.Fatalf("follower count supplied by another code path must survive, got %d", profile.FollowerCount)
	}
	if profile.Username != "ada" {
		t.Fatalf("absent fields mean unchanged, got username %q", profile.Username)
	}
}

func TestApplyPartialFullValueReplaces(t *testing.T) {
	existing := UserProfile{ID: "u7", DisplayName: "Old"}
	replacement := UserProfile{ID: "u7", DisplayName: "New", FollowerCount: 3}
	merged, err := ApplyPartial(KindUserProfile, existing, replacement)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.(UserProfile) != replacement {
		t.Fatalf("expected full replacement, got %#v", merged)
	}
}

func TestApplyPartialFollowBoolOntoAbsentValue(t *testing.T) {
	merged, err := ApplyPartial(KindFollowRelation, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	relation := merged.(FollowRelation)
	if !relation.Following {
		t.Fatalf("expected following true, got %#v", relation)
	}
}

func TestApplyPartialRejectsIncompatibleUpdate(t *testing.T) {
	if _, err := ApplyPartial(KindNotificationCount, nil, "nope"); !errors.Is(err, ErrIncompatibleValue) {
		t.Fatalf("expected ErrIncompatibleValue, got %v", err)
	}
}

func TestApplyPartialIdentityFields(t *testing.T) {
	existing := Identity{
		UserProfile: UserProfile{ID: "me", DisplayName: "Ada", FollowerCount: 4},
		Email:       "ada@example.com",
	}
	newEmail := "ada@new.example.com"
	merged, err := ApplyPartial(KindCurrentIdentity, existing, IdentityFields{Email: &newEmail})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	identity := merged.(Identity)
	if identity.Email != newEmail {
		t.Fatalf("expected email to update, got %q", identity.Email)
	}
	if identity.FollowerCount != 4 {
		t.Fatalf("profile fields must survive an email-only update, got %d", identity.FollowerCount)
	}
}

func TestChangeEventForCoversEveryKind(t *testing.T) {
	cases := []struct {
		kind     Kind
		id       ID
		value    any
		expected EventKind
	}{
		{KindUserProfile, "u7", UserProfile{ID: "u7"}, EventKindProfileUpdated},
		{KindFollowRelation, "u42", FollowRelation{TargetID: "u42", Following: true}, EventKindFollowChanged},
		{KindCurrentIdentity, CurrentIdentityID, Identity{UserProfile: UserProfile{ID: "me"}}, EventKindProfileUpdated},
		{KindNotificationCount, "unread", NotificationCount(3), EventKindNotificationCountChanged},
	}
	for _, tc := range cases {
		event, ok := ChangeEventFor(tc.kind, tc.id, tc.value)
		if !ok {
			t.Fatalf("expected event for kind %s", tc.kind)
		}
		if event.EventKind() != tc.expected {
			t.Fatalf("expected event kind %s for %s, got %s", tc.expected, tc.kind, event.EventKind())
		}
	}
}

func TestChangeEventForRejectsMismatchedValue(t *testing.T) {
	if _, ok := ChangeEventFor(KindUserProfile, "u7", 42); ok {
		t.Fatalf("expected no event for mismatched value type")
	}
}
