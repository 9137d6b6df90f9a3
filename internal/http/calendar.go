package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"gitea.jw6.us/james/reservo/internal/auth"
	httperrors "gitea.jw6.us/james/reservo/internal/http/errors"
	"gitea.jw6.us/james/reservo/internal/oauth"
	"gitea.jw6.us/james/reservo/internal/store"
)

const stateTTL = 10 * time.Minute

// CredentialStorer persists a completed consent.
type CredentialStorer interface {
	Store(ctx context.Context, userID int64, t oauth.Tokens) (*store.CalendarCredential, error)
}

// CalendarHandler runs the calendar consent flow.
type CalendarHandler struct {
	oauth       *oauth2.Config
	credentials CredentialStorer
	secret      string
}

func NewCalendarHandler(cfg *oauth2.Config, credentials CredentialStorer, sessionSecret string) *CalendarHandler {
	return &CalendarHandler{oauth: cfg, credentials: credentials, secret: sessionSecret}
}

type connectResponse struct {
	URL string `json:"url"`
}

type callbackResponse struct {
	Connected bool       `json:"connected"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Connect returns the consent URL for the authenticated user.
func (h *CalendarHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	state, err := auth.NewStateToken(userID, h.secret, stateTTL)
	if err != nil {
		httperrors.InternalError(w, r, err, "issue oauth state")
		return
	}
	httperrors.JSON(w, http.StatusOK, connectResponse{URL: oauth.ConsentURL(h.oauth, state)})
}

// Callback completes consent. The browser arrives here without a session,
// so the user is taken from the signed state.
func (h *CalendarHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		httperrors.Write(w, http.StatusBadRequest, "authorization was not granted: "+reason)
		return
	}

	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		httperrors.Write(w, http.StatusBadRequest, "authorization code is required")
		return
	}

	claims, err := auth.ParseStateToken(q.Get("state"), h.secret)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid or expired state")
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		httperrors.LogError(r, "exchange authorization code", err)
		httperrors.Write(w, http.StatusBadGateway, "authorization code exchange failed")
		return
	}

	saved, err := h.credentials.Store(r.Context(), claims.UserID, oauth.TokensFromOAuth2(tok))
	if err != nil {
		if errors.Is(err, oauth.ErrMissingAccessToken) {
			httperrors.LogError(r, "token grant without access token", err)
			httperrors.Write(w, http.StatusBadGateway, "provider returned no access token")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	httperrors.LogInfo(r, "calendar connected", zap.Int64("user_id", claims.UserID))
	resp := callbackResponse{Connected: true, ExpiresAt: saved.ExpiresAt}
	if saved.Scope != nil {
		resp.Scope = *saved.Scope
	}
	httperrors.JSON(w, http.StatusOK, resp)
}
