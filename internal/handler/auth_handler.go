// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/apexauth/internal/auth"
	"github.com/hitoshi/apexauth/internal/middleware"
	"github.com/hitoshi/apexauth/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// defaultUsernameField はローカルログインでメールアドレスを受け取るキー。
const defaultUsernameField = "email"

// コールバック失敗時にフロントエンドへ渡すエラーコード
const (
	callbackErrGoogleAuthFailed = "google_auth_failed"
	callbackErrInvalidProfile   = "invalid_profile"
	callbackErrLoginFailed      = "login_failed"
	callbackErrServerError      = "server_error"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.AccountSummary, error)
	Login(ctx context.Context, strategy string, in auth.Input) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Account(ctx context.Context, accountID string) (*model.AccountSummary, error)
	LoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (auth.Profile, error)
	FederatedCallback(ctx context.Context, profile auth.Profile) (*auth.LoginResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL   string // ログイン成功・失敗後のリダイレクト先
	Cookie        middleware.CookieConfig
	Signer        middleware.TokenSigner
	UsernameField string // ローカルログインのボディでメールアドレスを読むキー。空ならemail
}

// AuthHandler は /api/auth 配下のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register はローカルアカウントを登録する。セッションは発行しない。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	summary, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusCreated, "User created successfully", summary)
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !decodeJSON(w, r, &body) {
		return
	}

	email, okEmail := stringField(body, h.usernameField())
	password, okPassword := stringField(body, "password")
	if !okEmail || !okPassword {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	result, err := h.service.Login(r.Context(), auth.StrategyLocal, auth.Credentials{
		Email:    email,
		Password: password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.replaceSession(w, r, result.Token)
	middleware.WriteSuccess(w, http.StatusOK, "Login successful", result.Account)
}

// Logout はセッションを破棄し、Cookieを削除する。
// GET /api/auth/logout（RequireSessionの後段）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	state := middleware.SessionFromContext(r.Context())

	if err := h.service.Logout(r.Context(), state.Token); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	middleware.WriteSuccess(w, http.StatusOK, "Logout successful", nil)
}

// Me は現在のログインアカウントを返す。
// 未認証でも200を返し、success=false で区別する。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	state := middleware.SessionFromContext(r.Context())
	if !state.Authenticated() {
		writeNotAuthenticated(w)
		return
	}

	summary, err := h.service.Account(r.Context(), state.AccountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if summary == nil {
		// セッションが指すアカウントは既に存在しない
		writeNotAuthenticated(w)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Authenticated user", summary)
}

// Google はIdPの認可フローを開始する。
// GET /api/auth/google
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	state, err := middleware.IssueOAuthState(w, h.oauthStateConfig())
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, h.service.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はIdPからのコールバックを処理する。
// 成功時はフロントエンドへ、失敗時は /login?error=<code> へリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !middleware.ConsumeOAuthState(w, r, h.oauthStateConfig()) {
		slog.Warn("oauth state mismatch")
		h.redirectLoginError(w, r, callbackErrGoogleAuthFailed)
		return
	}

	if idpErr := r.URL.Query().Get("error"); idpErr != "" {
		slog.Warn("identity provider returned an error", slog.String("error", idpErr))
		h.redirectLoginError(w, r, callbackErrGoogleAuthFailed)
		return
	}

	profile, err := h.service.ExchangeCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		h.redirectLoginError(w, r, callbackErrGoogleAuthFailed)
		return
	}

	result, err := h.service.FederatedCallback(r.Context(), profile)
	if err != nil {
		h.redirectLoginError(w, r, callbackErrorCode(err))
		return
	}

	h.replaceSession(w, r, result.Token)
	http.Redirect(w, r, h.config.FrontendURL, http.StatusTemporaryRedirect)
}

// replaceSession は新しいセッションCookieを発行し、リクエストに紐づいていた旧セッションを破棄する。
func (h *AuthHandler) replaceSession(w http.ResponseWriter, r *http.Request, token string) {
	if prev := middleware.SessionFromContext(r.Context()); prev.Token != "" && prev.Token != token {
		if err := h.service.Logout(r.Context(), prev.Token); err != nil {
			slog.Warn("failed to destroy previous session", slog.String("error", err.Error()))
		}
	}
	middleware.SetSessionCookie(w, h.config.Signer, h.config.Cookie, token)
}

func (h *AuthHandler) usernameField() string {
	if h.config.UsernameField == "" {
		return defaultUsernameField
	}
	return h.config.UsernameField
}

func (h *AuthHandler) oauthStateConfig() middleware.OAuthStateConfig {
	return middleware.OAuthStateConfig{CookieSecure: h.config.Cookie.Secure}
}

func (h *AuthHandler) redirectLoginError(w http.ResponseWriter, r *http.Request, code string) {
	target := strings.TrimRight(h.config.FrontendURL, "/") + "/login?error=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// callbackErrorCode はフェデレーテッドログインの失敗をリダイレクト用エラーコードに変換する。
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrIncompleteProfile):
		return callbackErrInvalidProfile
	case errors.Is(err, auth.ErrSessionNotEstablished):
		return callbackErrLoginFailed
	default:
		return callbackErrServerError
	}
}

func writeNotAuthenticated(w http.ResponseWriter) {
	middleware.WriteJSON(w, http.StatusOK, middleware.Envelope{
		Success: false,
		Message: "Not authenticated",
	})
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return false
	}
	return true
}

// stringField はボディの文字列値を取り出す。キーが無ければ空文字、文字列でなければfalseを返す。
func stringField(body map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := body[key]
	if !ok {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// handleServiceError はサービス層のエラーを統一エラーレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	apiErr := toAPIError(authErr)
	middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
}

func toAPIError(err *auth.AuthError) *model.APIError {
	switch err.Kind {
	case auth.KindValidation:
		return model.NewValidationError(err.Message)
	case auth.KindUnauthorized:
		return model.NewUnauthorizedError(err.Message)
	case auth.KindConflict:
		return model.NewConflictError(err.Message)
	default:
		return model.NewInternalError()
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
