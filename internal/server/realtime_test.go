package server

import (
	"context"
	"testing"
	"time"

	"github.com/gratialabs/gratia/internal/entity"
	"github.com/gratialabs/gratia/internal/feed"
)

func TestRealtimeBridgeDeliversEventsUntilDisposed(t *testing.T) {
	channel := feed.NewChannel(nil)
	bridge := NewRealtimeBridge(channel)

	stream, cleanup := bridge.Attach(context.Background())
	channel.Emit(entity.FollowChanged{TargetID: "u42", Following: true})

	select {
	case event := <-stream:
		changed, ok := event.(entity.FollowChanged)
		if !ok || changed.TargetID != "u42" || !changed.Following {
			t.Fatalf("unexpected event: %#v", event)
		}
	default:
		t.Fatalf("expected a buffered event")
	}

	cleanup()
	channel.Emit(entity.FollowChanged{TargetID: "u43", Following: true})
	select {
	case event := <-stream:
		t.Fatalf("expected no delivery after cleanup, got %#v", event)
	default:
	}
}

func TestRealtimeBridgeDisposesWhenContextEnds(t *testing.T) {
	channel := feed.NewChannel(nil)
	bridge := NewRealtimeBridge(channel)

	ctx, cancel := context.WithCancel(context.Background())
	stream, cleanup := bridge.Attach(ctx)
	defer cleanup()

	cancel()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		channel.Emit(entity.NotificationCountChanged{Count: 1})
		select {
		case <-stream:
		default:
		}
		if len(stream) == 0 {
			// Drained and the subscription may already be gone; emit once
			// more to check.
			channel.Emit(entity.NotificationCountChanged{Count: 2})
			if len(stream) == 0 {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription was not disposed after context cancellation")
}

func TestRealtimeBridgeDropsEventsWhenBufferIsFull(t *testing.T) {
	channel := feed.NewChannel(nil)
	bridge := NewRealtimeBridge(channel)

	stream, cleanup := bridge.Attach(context.Background())
	defer cleanup()

	for index := 0; index < realtimeBufferSize+5; index++ {
		channel.Emit(entity.NotificationCountChanged{Count: index})
	}
	if len(stream) != realtimeBufferSize {
		t.Fatalf("expected a full buffer of %d events, got %d", realtimeBufferSize, len(stream))
	}
}

func TestEventPayloadReshapesToCamelCase(t *testing.T) {
	displayName := "Ada L."
	kind, payload := eventPayload(entity.ProfileUpdated{
		ProfileID: "u7",
		Fields:    entity.ProfileFields{DisplayName: &displayName},
	})
	if kind != string(entity.EventKindProfileUpdated) {
		t.Fatalf("unexpected kind %q", kind)
	}
	profile, ok := payload.(profileUpdatedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if profile.ProfileID != "u7" || profile.Fields.DisplayName == nil || *profile.Fields.DisplayName != displayName {
		t.Fatalf("unexpected payload: %#v", profile)
	}

	kind, payload = eventPayload(entity.FollowChanged{TargetID: "u42", Following: true})
	if kind != string(entity.EventKindFollowChanged) {
		t.Fatalf("unexpected kind %q", kind)
	}
	follow := payload.(followChangedPayload)
	if follow.TargetID != "u42" || !follow.Following {
		t.Fatalf("unexpected payload: %#v", follow)
	}

	kind, payload = eventPayload(entity.NotificationCountChanged{Count: 4})
	if kind != string(entity.EventKindNotificationCountChanged) {
		t.Fatalf("unexpected kind %q", kind)
	}
	if payload.(notificationCountChangedPayload).Count != 4 {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}
