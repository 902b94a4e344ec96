package entity

// EventKind enumerates the closed set of change notifications the engine
// broadcasts. The set is closed on purpose: adding a kind means adding a
// concrete event type and extending every exhaustive switch over it.
type EventKind string

const (
	// EventKindProfileUpdated signals that fields of a user profile changed.
	EventKindProfileUpdated EventKind = "profile-updated"
	// EventKindFollowChanged signals that the viewer's follow state toward a user flipped.
	EventKindFollowChanged EventKind = "follow-changed"
	// EventKindPostUpdated signals that fields of a post card changed.
	EventKindPostUpdated EventKind = "post-updated"
	// EventKindNotificationCountChanged signals a new unread notification count.
	EventKindNotificationCountChanged EventKind = "notification-count-changed"
)

// EventKinds lists every known event kind, in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventKindProfileUpdated,
		EventKindFollowChanged,
		EventKindPostUpdated,
		EventKindNotificationCountChanged,
	}
}

// Event is a change notification broadcast to subscribed fragments. Events
// are ephemeral: constructed, delivered, and discarded, never stored.
type Event interface {
	EventKind() EventKind
}

// ProfileUpdated announces changed profile fields for one user.
type ProfileUpdated struct {
	ProfileID ID
	Fields    ProfileFields
}

// EventKind identifies the event for dispatch.
func (ProfileUpdated) EventKind() EventKind {
	return EventKindProfileUpdated
}

// FollowChanged announces the viewer's new follow state toward one user.
type FollowChanged struct {
	TargetID  ID
	Following bool
}

// EventKind identifies the event for dispatch.
func (FollowChanged) EventKind() EventKind {
	return EventKindFollowChanged
}

// PostFields carries a partial post-card update; nil fields mean "unchanged".
type PostFields struct {
	GratitudeCount *int
	CommentCount   *int
}

// PostUpdated announces changed card fields for one post.
type PostUpdated struct {
	PostID ID
	Fields PostFields
}

// EventKind identifies the event for dispatch.
func (PostUpdated) EventKind() EventKind {
	return EventKindPostUpdated
}

// NotificationCountChanged announces a new unread notification count.
type NotificationCountChanged struct {
	Count int
}

// EventKind identifies the event for dispatch.
func (NotificationCountChanged) EventKind() EventKind {
	return EventKindNotificationCountChanged
}

// ChangeEventFor builds the broadcast event describing the given committed
// value. It is the single mapping between entity kinds and event kinds, so
// read-path and write-path emissions stay consistent.
func ChangeEventFor(kind Kind, id ID, value any) (Event, bool) {
	switch kind {
	case KindUserProfile:
		if profile, ok := value.(UserProfile); ok {
			return ProfileUpdated{ProfileID: id, Fields: FieldsOf(profile)}, true
		}
	case KindFollowRelation:
		if relation, ok := value.(FollowRelation); ok {
			return FollowChanged{TargetID: id, Following: relation.Following}, true
		}
	case KindCurrentIdentity:
		if identity, ok := value.(Identity); ok {
			return ProfileUpdated{ProfileID: id, Fields: FieldsOf(identity.UserProfile)}, true
		}
	case KindNotificationCount:
		if count, ok := value.(NotificationCount); ok {
			return NotificationCountChanged{Count: int(count)}, true
		}
	}
	return nil, false
}
