package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/workshop-progress/internal/auth"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const (
	SessionCookieName = "workshop_session"
	sessionIDKey      = "session_id"
	sessionContextKey = "session"
)

// NewCookieStore creates the signed cookie store that carries the session id.
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 8,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// LoginRequest carries an OAuth authorization code when no bearer token is sent.
type LoginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type SessionHandler struct {
	BaseHandler
	store    sessions.Store
	resolver auth.IdentityResolver
	manager  *services.SessionManager
}

func NewSessionHandler(
	store sessions.Store,
	resolver auth.IdentityResolver,
	manager *services.SessionManager,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(logger),
		store:       store,
		resolver:    resolver,
		manager:     manager,
	}
}

// Login resolves the caller's identity and opens a session
// @Router /sessions [post]
func (h *SessionHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		identity models.Identity
		err      error
	)
	if token := bearerToken(c); token != "" {
		identity, err = h.resolver.Resolve(ctx, token)
	} else {
		var req LoginRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			h.RespondWithError(c, http.StatusUnauthorized, "Authentication required", auth.ErrMissingToken)
			return
		}
		identity, err = h.resolver.Exchange(ctx, req.Code, req.State)
	}
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	session, err := h.manager.Create(identity)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	cookie, _ := h.store.Get(c.Request, SessionCookieName)
	cookie.Values[sessionIDKey] = session.ID
	if err := cookie.Save(c.Request, c.Writer); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to save session", err)
		return
	}

	c.Set("user_id", session.UserID)
	h.RespondWithSuccess(c, http.StatusCreated, "Session created", session, "session_id", session.ID)
}

// Logout closes the session and expires the cookie
// @Router /sessions [delete]
func (h *SessionHandler) Logout(c *gin.Context) {
	session := currentSession(c)
	if err := h.manager.Close(session.ID); err != nil {
		h.HandleServiceError(c, err)
		return
	}

	cookie, _ := h.store.Get(c.Request, SessionCookieName)
	delete(cookie.Values, sessionIDKey)
	cookie.Options.MaxAge = -1
	if err := cookie.Save(c.Request, c.Writer); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to clear session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequireSession loads the session named by the cookie and aborts with 401
// when there is none.
func (h *SessionHandler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := h.store.Get(c.Request, SessionCookieName)
		if err != nil {
			h.RespondWithError(c, http.StatusUnauthorized, "Invalid session cookie", err)
			return
		}
		id, _ := cookie.Values[sessionIDKey].(string)
		if id == "" {
			h.RespondWithError(c, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		session, err := h.manager.Get(id)
		if err != nil {
			h.RespondWithError(c, http.StatusUnauthorized, "Session expired", err)
			return
		}

		c.Set(sessionContextKey, session)
		c.Set("user_id", session.UserID)
		c.Next()
	}
}

// currentSession returns the session set by RequireSession.
func currentSession(c *gin.Context) *services.Session {
	return c.MustGet(sessionContextKey).(*services.Session)
}
