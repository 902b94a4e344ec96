package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gratialabs/gratia/internal/entity"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrInvalidClientConfig indicates the client was constructed without a usable base URL.
	ErrInvalidClientConfig = errors.New("apiclient: invalid client config")

	errMissingBaseURL = errors.New("base url is required")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: upstream returned %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies the bearer token attached to upstream requests.
type TokenSource interface {
	Token() string
}

// Config bundles the settings required to construct a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *zap.Logger
}

// Client is the typed HTTP client for the remote Gratia API. Upstream
// payloads use snake_case field names; the client decodes them into the
// entity model and into the feed payloads reshaped by the gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient validates the configuration and constructs a client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		logger:     logger,
	}, nil
}

type userProfilePayload struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	PostCount      int    `json:"post_count"`
}

func (p userProfilePayload) toEntity() entity.UserProfile {
	return entity.UserProfile{
		ID:             p.ID,
		Username:       p.Username,
		DisplayName:    p.DisplayName,
		AvatarURL:      p.AvatarURL,
		FollowerCount:  p.FollowerCount,
		FollowingCount: p.FollowingCount,
		PostCount:      p.PostCount,
	}
}

type identityPayload struct {
	userProfilePayload

	Email string `json:"email"`
}

func (p identityPayload) toEntity() entity.Identity {
	return entity.Identity{UserProfile: p.userProfilePayload.toEntity(), Email: p.Email}
}

type followRelationPayload struct {
	TargetID  string `json:"target_id"`
	Following bool   `json:"is_following"`
}

type notificationCountPayload struct {
	Count int `json:"count"`
}

// FetchEntity loads the authoritative value of one entity. It implements the
// engine's Fetcher contract.
func (c *Client) FetchEntity(ctx context.Context, kind entity.Kind, id entity.ID) (any, error) {
	path := fmt.Sprintf("/entity/%s/%s", url.PathEscape(kind.String()), url.PathEscape(id.String()))
	body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	switch kind {
	case entity.KindUserProfile:
		var payload userProfilePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("apiclient: decode %s: %w", kind, err)
		}
		return payload.toEntity(), nil
	case entity.KindFollowRelation:
		var payload followRelationPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("apiclient: decode %s: %w", kind, err)
		}
		return entity.FollowRelation{TargetID: id.String(), Following: payload.Following}, nil
	case entity.KindCurrentIdentity:
		var payload identityPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("apiclient: decode %s: %w", kind, err)
		}
		return payload.toEntity(), nil
	case entity.KindNotificationCount:
		var payload notificationCountPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("apiclient: decode %s: %w", kind, err)
		}
		return entity.NotificationCount(payload.Count), nil
	default:
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownKind, kind)
	}
}

// ToggleFollow flips the viewer's follow state toward the target user and
// returns the authoritative relation from the response.
func (c *Client) ToggleFollow(ctx context.Context, targetID entity.ID, follow bool) (entity.FollowRelation, error) {
	method := http.MethodPost
	if !follow {
		method = http.MethodDelete
	}
	path := fmt.Sprintf("/follows/%s", url.PathEscape(targetID.String()))
	body, err := c.doJSON(ctx, method, path, nil)
	if err != nil {
		return entity.FollowRelation{}, err
	}
	relation := entity.FollowRelation{TargetID: targetID.String(), Following: follow}
	if len(body) > 0 {
		var payload followRelationPayload
		if err := json.Unmarshal(body, &payload); err == nil {
			relation.Following = payload.Following
		}
	}
	return relation, nil
}

// ProfileUpdate carries the editable profile fields for UpdateProfile.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// UpdateProfile patches the current user's profile and returns the
// authoritative identity from the response.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (entity.Identity, error) {
	body, err := c.doJSON(ctx, http.MethodPatch, "/me/profile", update)
	if err != nil {
		return entity.Identity{}, err
	}
	var payload identityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return entity.Identity{}, fmt.Errorf("apiclient: decode identity: %w", err)
	}
	return payload.toEntity(), nil
}

// FetchNotificationCount loads the unread notification counter.
func (c *Client) FetchNotificationCount(ctx context.Context) (int, error) {
	value, err := c.FetchEntity(ctx, entity.KindNotificationCount, entity.ID("unread"))
	if err != nil {
		return 0, err
	}
	count, _ := value.(entity.NotificationCount)
	return int(count), nil
}

// FeedPost is one upstream feed entry as decoded from the wire.
type FeedPost struct {
	ID             string `json:"id"`
	AuthorID       string `json:"author_id"`
	Body           string `json:"body"`
	GratitudeCount int    `json:"gratitude_count"`
	CommentCount   int    `json:"comment_count"`
	CreatedAt      int64  `json:"created_at_s"`
}

// FeedPage is one page of the upstream feed.
type FeedPage struct {
	Posts      []FeedPost `json:"posts"`
	NextCursor string     `json:"next_cursor"`
}

// ListFeed loads one page of the gratitude feed.
func (c *Client) ListFeed(ctx context.Context, cursor string) (FeedPage, error) {
	path := "/feed"
	if cursor != "" {
		path = fmt.Sprintf("/feed?cursor=%s", url.QueryEscape(cursor))
	}
	body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return FeedPage{}, err
	}
	var page FeedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return FeedPage{}, fmt.Errorf("apiclient: decode feed: %w", err)
	}
	return page, nil
}

// PostReaction is the upstream acknowledgement of a reaction write.
type PostReaction struct {
	PostID         string `json:"post_id"`
	Reaction       string `json:"reaction"`
	GratitudeCount int    `json:"gratitude_count"`
}

// ReactToPost records the viewer's reaction to a post upstream.
func (c *Client) ReactToPost(ctx context.Context, postID entity.ID, reaction string) (PostReaction, error) {
	path := fmt.Sprintf("/posts/%s/reactions", url.PathEscape(postID.String()))
	payload := map[string]string{"reaction": reaction}
	body, err := c.doJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return PostReaction{}, err
	}
	var acknowledged PostReaction
	if len(body) > 0 {
		if err := json.Unmarshal(body, &acknowledged); err != nil {
			return PostReaction{}, fmt.Errorf("apiclient: decode reaction: %w", err)
		}
	}
	return acknowledged, nil
}

// doJSON issues one request and returns the raw response body. Any non-2xx
// status is surfaced as a StatusError so the engine treats it as failure.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
