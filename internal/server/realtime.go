package server

import (
	"context"
	"sync"

	"github.com/gratialabs/gratia/internal/entity"
	"github.com/gratialabs/gratia/internal/feed"
)

const realtimeBufferSize = 16

// EventSource is the engine surface the bridge fans out from.
type EventSource interface {
	SubscribeAll(feed.Listener) func()
}

// RealtimeBridge adapts the engine's synchronous event channel to buffered
// per-connection streams consumed by the SSE handler. A slow connection drops
// events rather than stalling emission for everyone else; fragments recover
// on their next read through the cache.
type RealtimeBridge struct {
	source     EventSource
	bufferSize int
}

// NewRealtimeBridge constructs a bridge over the given event source.
func NewRealtimeBridge(source EventSource) *RealtimeBridge {
	return &RealtimeBridge{
		source:     source,
		bufferSize: realtimeBufferSize,
	}
}

// Attach subscribes a new connection and returns its event stream plus a
// cleanup func. The subscription is also torn down when ctx is cancelled.
func (b *RealtimeBridge) Attach(ctx context.Context) (<-chan entity.Event, func()) {
	stream := make(chan entity.Event, b.bufferSize)
	dispose := b.source.SubscribeAll(func(event entity.Event) {
		select {
		case stream <- event:
		default:
		}
	})

	stopped := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			dispose()
			close(stopped)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		cleanup()
	}()
	return stream, cleanup
}

type profileFieldsPayload struct {
	Username       *string `json:"username,omitempty"`
	DisplayName    *string `json:"displayName,omitempty"`
	AvatarURL      *string `json:"avatarUrl,omitempty"`
	FollowerCount  *int    `json:"followerCount,omitempty"`
	FollowingCount *int    `json:"followingCount,omitempty"`
	PostCount      *int    `json:"postCount,omitempty"`
}

type profileUpdatedPayload struct {
	ProfileID string               `json:"profileId"`
	Fields    profileFieldsPayload `json:"fields"`
}

type followChangedPayload struct {
	TargetID  string `json:"targetId"`
	Following bool   `json:"following"`
}

type postFieldsPayload struct {
	GratitudeCount *int `json:"gratitudeCount,omitempty"`
	CommentCount   *int `json:"commentCount,omitempty"`
}

type postUpdatedPayload struct {
	PostID string            `json:"postId"`
	Fields postFieldsPayload `json:"fields"`
}

type notificationCountChangedPayload struct {
	Count int `json:"count"`
}

// eventPayload reshapes an engine event into its camelCase wire form for the
// SSE stream.
func eventPayload(event entity.Event) (string, any) {
	switch typed := event.(type) {
	case entity.ProfileUpdated:
		return string(typed.EventKind()), profileUpdatedPayload{
			ProfileID: typed.ProfileID.String(),
			Fields: profileFieldsPayload{
				Username:       typed.Fields.Username,
				DisplayName:    typed.Fields.DisplayName,
				AvatarURL:      typed.Fields.AvatarURL,
				FollowerCount:  typed.Fields.FollowerCount,
				FollowingCount: typed.Fields.FollowingCount,
				PostCount:      typed.Fields.PostCount,
			},
		}
	case entity.FollowChanged:
		return string(typed.EventKind()), followChangedPayload{
			TargetID:  typed.TargetID.String(),
			Following: typed.Following,
		}
	case entity.PostUpdated:
		return string(typed.EventKind()), postUpdatedPayload{
			PostID: typed.PostID.String(),
			Fields: postFieldsPayload{
				GratitudeCount: typed.Fields.GratitudeCount,
				CommentCount:   typed.Fields.CommentCount,
			},
		}
	case entity.NotificationCountChanged:
		return string(typed.EventKind()), notificationCountChangedPayload{Count: typed.Count}
	default:
		return "", nil
	}
}
