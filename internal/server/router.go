package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gratialabs/gratia/internal/apiclient"
	"github.com/gratialabs/gratia/internal/entity"
	"github.com/gratialabs/gratia/internal/feed"
	"github.com/gratialabs/gratia/internal/reactions"
	"github.com/gratialabs/gratia/internal/session"
	"go.uber.org/zap"
)

const userIDContextKey = "gratia_user_id"

const heartbeatInterval = 25 * time.Second

var (
	errMissingSynchronizer = errors.New("entity synchronizer dependency required")
	errMissingUpstream     = errors.New("upstream client dependency required")
	errMissingSessions     = errors.New("session manager dependency required")
	errMissingReactions    = errors.New("reaction store dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// Upstream is the slice of the API client the gateway forwards through.
type Upstream interface {
	ListFeed(ctx context.Context, cursor string) (apiclient.FeedPage, error)
	ReactToPost(ctx context.Context, postID entity.ID, reaction string) (apiclient.PostReaction, error)
	ToggleFollow(ctx context.Context, targetID entity.ID, follow bool) (entity.FollowRelation, error)
	UpdateProfile(ctx context.Context, update apiclient.ProfileUpdate) (entity.Identity, error)
	FetchNotificationCount(ctx context.Context) (int, error)
}

// SessionManager validates bearer tokens and owns session lifecycle.
type SessionManager interface {
	ValidateToken(token string) (session.Claims, error)
	Activate(token string) (session.Claims, error)
	Identity() (entity.Identity, error)
	Clear()
}

// Dependencies bundles everything the gateway router needs.
type Dependencies struct {
	Synchronizer *feed.Synchronizer
	Upstream     Upstream
	Sessions     SessionManager
	Reactions    *reactions.Store
	Logger       *zap.Logger
}

// NewHTTPHandler validates the dependencies and builds the gateway router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Synchronizer == nil {
		return nil, errMissingSynchronizer
	}
	if deps.Upstream == nil {
		return nil, errMissingUpstream
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Reactions == nil {
		return nil, errMissingReactions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		synchronizer: deps.Synchronizer,
		upstream:     deps.Upstream,
		sessions:     deps.Sessions,
		reactions:    deps.Reactions,
		realtime:     NewRealtimeBridge(deps.Synchronizer),
		logger:       logger,
	}

	router.POST("/session", handler.handleSessionStart)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/entities/:kind/:id", handler.handleEnsureEntity)
	protected.POST("/follows/:id", handler.handleFollow)
	protected.DELETE("/follows/:id", handler.handleUnfollow)
	protected.PATCH("/profile", handler.handleUpdateProfile)
	protected.GET("/feed", handler.handleListFeed)
	protected.GET("/notifications/count", handler.handleNotificationCount)
	protected.POST("/posts/:id/reactions", handler.handleReactToPost)
	protected.GET("/events", handler.handleEvents)
	protected.POST("/session/logout", handler.handleLogout)

	return router, nil
}

type httpHandler struct {
	synchronizer *feed.Synchronizer
	upstream     Upstream
	sessions     SessionManager
	reactions    *reactions.Store
	realtime     *RealtimeBridge
	logger       *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("session token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

type sessionStartPayload struct {
	Token string `json:"token"`
}

type sessionResponsePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (h *httpHandler) handleSessionStart(c *gin.Context) {
	var request sessionStartPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if _, err := h.sessions.Activate(request.Token); err != nil {
		h.logger.Warn("session activation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity, err := h.sessions.Identity()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{
		UserID:      identity.ID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
	})
}

type entityResponsePayload struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Fresh bool   `json:"fresh"`
	Value any    `json:"value"`
}

func (h *httpHandler) handleEnsureEntity(c *gin.Context) {
	kind, err := entity.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_kind"})
		return
	}
	id, err := entity.NewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return
	}

	value, fresh, err := h.synchronizer.Ensure(c.Request.Context(), kind, id)
	if err != nil {
		h.logger.Warn("entity ensure failed",
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", id.String()),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "fetch_failed"})
		return
	}

	c.JSON(http.StatusOK, entityResponsePayload{
		Kind:  kind.String(),
		ID:    id.String(),
		Fresh: fresh,
		Value: entityValuePayload(kind, value),
	})
}

type userProfileResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	AvatarURL      string `json:"avatarUrl"`
	FollowerCount  int    `json:"followerCount"`
	FollowingCount int    `json:"followingCount"`
	PostCount      int    `json:"postCount"`
}

type identityResponse struct {
	userProfileResponse

	Email string `json:"email"`
}

type followRelationResponse struct {
	TargetID  string `json:"targetId"`
	Following bool   `json:"following"`
}

// entityValuePayload reshapes an engine value into its camelCase wire form.
func entityValuePayload(kind entity.Kind, value any) any {
	switch typed := value.(type) {
	case entity.UserProfile:
		return profileResponseOf(typed)
	case entity.Identity:
		return identityResponse{
			userProfileResponse: profileResponseOf(typed.UserProfile),
			Email:               typed.Email,
		}
	case entity.FollowRelation:
		return followRelationResponse{TargetID: typed.TargetID, Following: typed.Following}
	case entity.NotificationCount:
		return gin.H{"count": int(typed)}
	default:
		return gin.H{"kind": kind.String()}
	}
}

func profileResponseOf(profile entity.UserProfile) userProfileResponse {
	return userProfileResponse{
		ID:             profile.ID,
		Username:       profile.Username,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		FollowerCount:  profile.FollowerCount,
		FollowingCount: profile.FollowingCount,
		PostCount:      profile.PostCount,
	}
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	h.toggleFollow(c, true)
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	h.toggleFollow(c, false)
}

func (h *httpHandler) toggleFollow(c *gin.Context, follow bool) {
	targetID, err := entity.NewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return
	}

	err = h.synchronizer.Mutate(c.Request.Context(), entity.KindFollowRelation, targetID, follow,
		func(ctx context.Context) (any, error) {
			relation, callErr := h.upstream.ToggleFollow(ctx, targetID, follow)
			if callErr != nil {
				return nil, callErr
			}
			return relation, nil
		})
	if err != nil {
		if errors.Is(err, feed.ErrMutationInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "mutation_in_flight"})
			return
		}
		h.logger.Warn("follow mutation failed",
			zap.String("target_id", targetID.String()),
			zap.Bool("follow", follow),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "mutation_failed"})
		return
	}

	c.JSON(http.StatusOK, followRelationResponse{TargetID: targetID.String(), Following: follow})
}

type profileUpdateRequest struct {
	DisplayName *string `json:"displayName"`
	Username    *string `json:"username"`
	AvatarURL   *string `json:"avatarUrl"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.DisplayName == nil && request.Username == nil && request.AvatarURL == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_update"})
		return
	}

	fields := entity.IdentityFields{
		ProfileFields: entity.ProfileFields{
			DisplayName: request.DisplayName,
			Username:    request.Username,
			AvatarURL:   request.AvatarURL,
		},
	}
	update := apiclient.ProfileUpdate{
		DisplayName: request.DisplayName,
		Username:    request.Username,
		AvatarURL:   request.AvatarURL,
	}

	err := h.synchronizer.Mutate(c.Request.Context(), entity.KindCurrentIdentity, entity.CurrentIdentityID, fields,
		func(ctx context.Context) (any, error) {
			identity, callErr := h.upstream.UpdateProfile(ctx, update)
			if callErr != nil {
				return nil, callErr
			}
			return identity, nil
		})
	if err != nil {
		if errors.Is(err, feed.ErrMutationInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "mutation_in_flight"})
			return
		}
		h.logger.Warn("profile mutation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "mutation_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type feedPostResponse struct {
	ID             string `json:"id"`
	AuthorID       string `json:"authorId"`
	Body           string `json:"body"`
	GratitudeCount int    `json:"gratitudeCount"`
	CommentCount   int    `json:"commentCount"`
	CreatedAt      int64  `json:"createdAt"`
	ViewerReaction string `json:"viewerReaction,omitempty"`
}

type feedResponsePayload struct {
	Posts      []feedPostResponse `json:"posts"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

func (h *httpHandler) handleListFeed(c *gin.Context) {
	page, err := h.upstream.ListFeed(c.Request.Context(), c.Query("cursor"))
	if err != nil {
		h.logger.Warn("feed fetch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "feed_unavailable"})
		return
	}

	userID := c.GetString(userIDContextKey)
	viewerReactions, err := h.reactions.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("reaction lookup failed", zap.String("user_id", userID), zap.Error(err))
		viewerReactions = nil
	}

	response := feedResponsePayload{
		Posts:      make([]feedPostResponse, 0, len(page.Posts)),
		NextCursor: page.NextCursor,
	}
	for _, post := range page.Posts {
		response.Posts = append(response.Posts, feedPostResponse{
			ID:             post.ID,
			AuthorID:       post.AuthorID,
			Body:           post.Body,
			GratitudeCount: post.GratitudeCount,
			CommentCount:   post.CommentCount,
			CreatedAt:      post.CreatedAt,
			ViewerReaction: viewerReactions[post.ID],
		})
	}
	c.JSON(http.StatusOK, response)
}

// handleNotificationCount polls the upstream counter directly, bypassing the
// entity cache's freshness window, and broadcasts the new count so badge
// fragments on the event stream update immediately.
func (h *httpHandler) handleNotificationCount(c *gin.Context) {
	count, err := h.upstream.FetchNotificationCount(c.Request.Context())
	if err != nil {
		h.logger.Warn("notification count fetch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "fetch_failed"})
		return
	}
	h.synchronizer.Emit(entity.NotificationCountChanged{Count: count})
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type reactionRequestPayload struct {
	Reaction string `json:"reaction"`
}

func (h *httpHandler) handleReactToPost(c *gin.Context) {
	postID, err := entity.NewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return
	}
	var request reactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Reaction) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	acknowledged, err := h.upstream.ReactToPost(c.Request.Context(), postID, request.Reaction)
	if err != nil {
		h.logger.Warn("reaction forward failed", zap.String("post_id", postID.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "reaction_failed"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if storeErr := h.reactions.Set(c.Request.Context(), userID, postID.String(), request.Reaction); storeErr != nil {
		h.logger.Warn("reaction persistence failed",
			zap.String("user_id", userID),
			zap.String("post_id", postID.String()),
			zap.Error(storeErr))
	}

	if acknowledged.GratitudeCount > 0 {
		count := acknowledged.GratitudeCount
		h.synchronizer.Emit(entity.PostUpdated{
			PostID: postID,
			Fields: entity.PostFields{GratitudeCount: &count},
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"postId":         postID.String(),
		"reaction":       request.Reaction,
		"gratitudeCount": acknowledged.GratitudeCount,
	})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	stream, cleanup := h.realtime.Attach(c.Request.Context())
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-stream:
			kind, payload := eventPayload(event)
			if kind == "" {
				continue
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				h.logger.Error("event encoding failed", zap.String("event_kind", kind), zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", kind, encoded)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.reactions.ClearUser(c.Request.Context(), userID); err != nil {
		h.logger.Warn("reaction sweep failed", zap.String("user_id", userID), zap.Error(err))
	}
	h.sessions.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
