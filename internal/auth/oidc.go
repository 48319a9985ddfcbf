package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GoogleのOpenID Connectエンドポイント
const (
	DefaultOIDCIssuer      = "https://accounts.google.com"
	DefaultOIDCAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultOIDCTokenURL    = "https://oauth2.googleapis.com/token"
	DefaultOIDCUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// DefaultOIDCScopes は要求するスコープの既定値。
var DefaultOIDCScopes = []string{"openid", "profile", "email"}

// maxOIDCResponseBytes はIdPレスポンスとして読み込む最大バイト数。
const maxOIDCResponseBytes = 1 << 20

// OIDCProvider はOpenID Connectの認可コードフローでプロフィールを取得する。
type OIDCProvider struct {
	provider string
	config   StrategyConfig
	client   *http.Client
}

// NewOIDCProvider はOIDCProviderを生成する。
// providerはidentitiesに記録する名前（例: "google"）。clientがnilの場合はhttp.DefaultClientを使う。
// 未設定のエンドポイントとスコープはGoogleの既定値で補う。
func NewOIDCProvider(provider string, config StrategyConfig, client *http.Client) *OIDCProvider {
	if config.Issuer == "" {
		config.Issuer = DefaultOIDCIssuer
	}
	if config.AuthURL == "" {
		config.AuthURL = DefaultOIDCAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = DefaultOIDCTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = DefaultOIDCUserInfoURL
	}
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultOIDCScopes
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OIDCProvider{provider: provider, config: config, client: client}
}

// Config は補完済みの設定を返す。
func (p *OIDCProvider) Config() StrategyConfig {
	return p.config
}

// LoginURL は認可エンドポイントのURLを生成する。
func (p *OIDCProvider) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

type oidcTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

type oidcUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、userinfoからプロフィールを組み立てる。
// emailが含まれない場合もエラーにはせず、判断はFederatedStrategyに委ねる。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (Profile, error) {
	token, err := p.exchangeToken(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return Profile{
		Provider:      p.provider,
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}

func (p *OIDCProvider) exchangeToken(ctx context.Context, code string) (*oidcTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp oidcTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

func (p *OIDCProvider) fetchUserInfo(ctx context.Context, accessToken string) (*oidcUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}

	var info oidcUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &info, nil
}

// do はリクエストを送信し、200以外のステータスをエラーとして返す。
func (p *OIDCProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOIDCResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// compile-time interface check
var _ IdentityProvider = (*OIDCProvider)(nil)
