// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
)

// DefaultSessionCookieName はセッションCookieの既定名。
const DefaultSessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッション状態を格納するためのキー。
var sessionContextKey = contextKey("session")

var sessionSinkContextKey = contextKey("session_sink")

// sessionSink は外側のミドルウェアへ解決済みアカウントIDを渡す。
type sessionSink struct {
	accountID string
}

func contextWithSessionSink(ctx context.Context, sink *sessionSink) context.Context {
	return context.WithValue(ctx, sessionSinkContextKey, sink)
}

// SessionResolver はセッショントークンからアカウントIDを解決する。
// auth.Service の部分集合として定義する。
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, bool, error)
}

// TokenSigner はCookie値の署名と検証を行う。
type TokenSigner interface {
	Sign(value string) string
	Unsign(signed string) (string, error)
}

// SessionState はリクエストに紐づくセッションの状態。
// 匿名リクエストではゼロ値になる。
type SessionState struct {
	Token     string
	AccountID string
}

// Authenticated は有効なセッションが解決済みかどうかを返す。
func (s SessionState) Authenticated() bool {
	return s.AccountID != ""
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultSessionCookieName
	}
	return c.Name
}

// NewSessionMiddleware は署名付きCookieからセッションを読み取り、
// 解決できた場合はセッション状態をリクエストコンテキストに注入する。
// 未認証リクエストはそのまま通過させる。拒否は RequireSession が担う。
func NewSessionMiddleware(resolver SessionResolver, signer TokenSigner, cookie CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookie.name())
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := signer.Unsign(c.Value)
			if err != nil {
				slog.Debug("discarding session cookie with invalid signature",
					slog.String("path", r.URL.Path),
				)
				next.ServeHTTP(w, r)
				return
			}

			accountID, ok, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if sink, ok := r.Context().Value(sessionSinkContextKey).(*sessionSink); ok {
				sink.accountID = accountID
			}
			ctx := ContextWithSession(r.Context(), SessionState{Token: token, AccountID: accountID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession は認証済みセッションのないリクエストに401を返すミドルウェア。
// NewSessionMiddleware の後に配置する。
func RequireSession() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SessionFromContext(r.Context()).Authenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Not authenticated"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetSessionCookie は署名済みトークンをセッションCookieとして書き込む。
func SetSessionCookie(w http.ResponseWriter, signer TokenSigner, cookie CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookie.name(),
		Value:    signer.Sign(token),
		Path:     "/",
		MaxAge:   int(cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cookie CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookie.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストからセッション状態を取得する。
func SessionFromContext(ctx context.Context) SessionState {
	state, _ := ctx.Value(sessionContextKey).(SessionState)
	return state
}

// ContextWithSession はコンテキストにセッション状態を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, sessionContextKey, state)
}
