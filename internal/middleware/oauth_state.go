package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

const (
	// oauthStateCookieName はOAuth認可リクエストのstateを保持するCookieの名前。
	oauthStateCookieName = "oauth_state"

	// oauthStateMaxAge はstate Cookieの有効期間（秒）。
	oauthStateMaxAge = 600
)

// OAuthStateConfig はstate Cookieの属性。
type OAuthStateConfig struct {
	CookieSecure bool
}

// IssueOAuthState はランダムなstateを生成してCookieに保存し、その値を返す。
// stateはIdPへのリダイレクトURLに付与し、コールバックで照合する。
func IssueOAuthState(w http.ResponseWriter, config OAuthStateConfig) (string, error) {
	state, err := generateStateToken()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// ConsumeOAuthState はコールバックのstateパラメータをCookieと照合する。
// 照合結果にかかわらずstate Cookieは削除する。
func ConsumeOAuthState(w http.ResponseWriter, r *http.Request, config OAuthStateConfig) bool {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	param := r.URL.Query().Get("state")
	if param == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(param)) == 1
}

// generateStateToken は暗号的に安全なstateトークンを生成する。
func generateStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
