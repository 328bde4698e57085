// Package google 实现 Google OAuth2 授权码流程的服务端部分。
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"

// Scopes 是授权页申请的权限范围。
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

// ErrNoEmail 表示 Google 返回的资料中没有邮箱。
var ErrNoEmail = errors.New("google: profile has no email")

// Profile 是 user-info 响应中用到的字段。
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Options 用于替换服务端点，零值表示使用 Google 默认地址。
type Options struct {
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// Client 负责用授权码换取令牌并读取用户资料。
type Client struct {
	cfg         *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewClient 为指定的 OAuth 应用创建客户端。
func NewClient(clientID, clientSecret, redirectURL string, opts Options) *Client {
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = googleoauth.Endpoint
	}
	userInfoURL := opts.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  opts.HTTPClient,
	}
}

// AuthCodeURL 返回授权页地址。
// 使用 offline 访问并强制显示授权页，每次授权都会返回 refresh token。
func (c *Client) AuthCodeURL() string {
	return c.cfg.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// FetchProfile 用 code 换取令牌后读取 user-info 接口。
func (c *Client) FetchProfile(ctx context.Context, code string) (*Profile, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("google userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("google userinfo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("google userinfo decode: %w", err)
	}
	profile.Email = strings.TrimSpace(profile.Email)
	if profile.Email == "" {
		return nil, ErrNoEmail
	}
	return &profile, nil
}
