package entity

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntityID indicates that an entity identifier is empty or exceeds storage bounds.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")
	// ErrUnknownKind indicates that a raw kind string does not name a supported entity kind.
	ErrUnknownKind = errors.New("entity: unknown entity kind")
	// ErrIncompatibleValue indicates that a value or partial does not match its entity kind.
	ErrIncompatibleValue = errors.New("entity: value incompatible with entity kind")
)

// Kind enumerates the entity kinds tracked by the synchronization engine.
type Kind string

const (
	// KindUserProfile covers shared user profile cards.
	KindUserProfile Kind = "user_profile"
	// KindFollowRelation covers the viewer's follow state toward one user.
	KindFollowRelation Kind = "follow_relation"
	// KindCurrentIdentity covers the active session's own profile.
	KindCurrentIdentity Kind = "current_identity"
	// KindNotificationCount covers the unread notification counter.
	KindNotificationCount Kind = "notification_count"
)

// ParseKind validates raw input against the supported entity kinds.
func ParseKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindUserProfile:
		return KindUserProfile, nil
	case KindFollowRelation:
		return KindFollowRelation, nil
	case KindCurrentIdentity:
		return KindCurrentIdentity, nil
	case KindNotificationCount:
		return KindNotificationCount, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, rawInput)
	}
}

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}

// ID represents a validated opaque entity identifier.
type ID string

// CurrentIdentityID keys the single distinguished current-identity entity.
const CurrentIdentityID ID = "me"

// NewID validates raw input and returns an ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityID, maxIdentifierLength)
	}
	return ID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ID) String() string {
	return string(id)
}

// UserProfile models the shared profile card data rendered by many fragments.
type UserProfile struct {
	ID             string
	Username       string
	DisplayName    string
	AvatarURL      string
	FollowerCount  int
	FollowingCount int
	PostCount      int
}

// ProfileFields carries a partial profile update; nil fields mean "unchanged".
type ProfileFields struct {
	Username       *string
	DisplayName    *string
	AvatarURL      *string
	FollowerCount  *int
	FollowingCount *int
	PostCount      *int
}

// ApplyTo overlays the non-nil fields onto the given profile.
func (f ProfileFields) ApplyTo(profile UserProfile) UserProfile {
	if f.Username != nil {
		profile.Username = *f.Username
	}
	if f.DisplayName != nil {
		profile.DisplayName = *f.DisplayName
	}
	if f.AvatarURL != nil {
		profile.AvatarURL = *f.AvatarURL
	}
	if f.FollowerCount != nil {
		profile.FollowerCount = *f.FollowerCount
	}
	if f.FollowingCount != nil {
		profile.FollowingCount = *f.FollowingCount
	}
	if f.PostCount != nil {
		profile.PostCount = *f.PostCount
	}
	return profile
}

// FieldsOf returns a partial covering every field of the profile.
func FieldsOf(profile UserProfile) ProfileFields {
	return ProfileFields{
		Username:       &profile.Username,
		DisplayName:    &profile.DisplayName,
		AvatarURL:      &profile.AvatarURL,
		FollowerCount:  &profile.FollowerCount,
		FollowingCount: &profile.FollowingCount,
		PostCount:      &profile.PostCount,
	}
}

// FollowRelation captures whether the viewer follows the target user.
type FollowRelation struct {
	TargetID  string
	Following bool
}

// Identity is the active session's own profile plus session-only fields.
type Identity struct {
	UserProfile

	Email string
}

// IdentityFields carries a partial identity update.
type IdentityFields struct {
	ProfileFields

	Email *string
}

// ApplyTo overlays the non-nil fields onto the given identity.
func (f IdentityFields) ApplyTo(identity Identity) Identity {
	identity.UserProfile = f.ProfileFields.ApplyTo(identity.UserProfile)
	if f.Email != nil {
		identity.Email = *f.Email
	}
	return identity
}

// NotificationCount is the unread notification counter.
type NotificationCount int

// DefaultValue returns the value an absent entity is assumed to hold.
func DefaultValue(kind Kind, id ID) any {
	switch kind {
	case KindUserProfile:
		return UserProfile{ID: id.String()}
	case KindFollowRelation:
		return FollowRelation{TargetID: id.String()}
	case KindCurrentIdentity:
		return Identity{UserProfile: UserProfile{ID: id.String()}}
	case KindNotificationCount:
		return NotificationCount(0)
	default:
		return nil
	}
}

// ApplyPartial merges an update into an existing value for the given kind.
// A full value of the kind replaces the existing one; a partial fields value
// overlays only its non-nil fields. Fields absent from the partial are kept,
// never cleared, because different network calls own different fields of the
// same entity and complete at different times.
func ApplyPartial(kind Kind, existing, update any) (any, error) {
	switch kind {
	case KindUserProfile:
		base, ok := existing.(UserProfile)
		if !ok && existing != nil {
			return nil, fmt.Errorf("%w: cached %T for %s", ErrIncompatibleValue, existing, kind)
		}
		switch typed := update.(type) {
		case UserProfile:
			return typed, nil
		case ProfileFields:
			return typed.ApplyTo(base), nil
		}
	case KindFollowRelation:
		switch typed := update.(type) {
		case FollowRelation:
			return typed, nil
		case bool:
			base, _ := existing.(FollowRelation)
			base.Following = typed
			return base, nil
		}
	case KindCurrentIdentity:
		base, ok := existing.(Identity)
		if !ok && existing != nil {
			return nil, fmt.Errorf("%w: cached %T for %s", ErrIncompatibleValue, existing, kind)
		}
		switch typed := update.(type) {
		case Identity:
			return typed, nil
		case IdentityFields:
			return typed.ApplyTo(base), nil
		case ProfileFields:
			base.UserProfile = typed.ApplyTo(base.UserProfile)
			return base, nil
		}
	case KindNotificationCount:
		switch typed := update.(type) {
		case NotificationCount:
			return typed, nil
		case int:
			return NotificationCount(typed), nil
		}
	}
	return nil, fmt.Errorf("%w: update %T for %s", ErrIncompatibleValue, update, kind)
}
