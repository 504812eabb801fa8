package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/restclient"
	"esl-sync-service/internal/syncerr"
	"esl-sync-service/pkg/config"
)

// TokenResponse represents the response from an OAuth token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// oauthApp is the app-level OAuth client shared by OAuth back-ends. It holds
// the app's client id/secret only; tenant tokens come from the tenant record.
type oauthApp struct {
	source       model.SourceSystem
	rest         *restclient.Client
	tokenURL     string
	clientID     string
	clientSecret string
	now          func() time.Time
}

func newOAuthApp(source model.SourceSystem, cfg config.OAuthAppConfig, timeout time.Duration, perSecond int) *oauthApp {
	return &oauthApp{
		source:       source,
		rest:         restclient.New(string(source)+"-oauth", "", timeout, perSecond),
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		now:          time.Now,
	}
}

// refresh exchanges the tenant's refresh token for a new credential set
func (o *oauthApp) refresh(ctx context.Context, tenant *model.TenantStore) (*Credentials, error) {
	refreshToken := tenant.RefreshToken()
	if refreshToken == "" {
		return nil, syncerr.Credentialf("%s: tenant %s has no refresh token", o.source, tenant.ID)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	tokenResp, err := o.requestToken(ctx, data)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    o.now().UTC().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}
	// providers that do not rotate refresh tokens omit them
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

// Helper function to make token requests
func (o *oauthApp) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequest(http.MethodPost, o.tokenURL, bytes.NewBufferString(data.Encode()))
	if err != nil {
		return nil, syncerr.New(syncerr.Permanent, "token request", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+o.getBasicAuth())

	var tokenResp TokenResponse
	_, err = o.rest.Send(ctx, req, &tokenResp)
	if err != nil {
		return nil, o.tokenError(err)
	}
	if tokenResp.AccessToken == "" {
		return nil, syncerr.Permanentf("%s token endpoint returned no access token", o.source)
	}
	return &tokenResp, nil
}

// tokenError reclassifies a rejected grant as a credential problem
func (o *oauthApp) tokenError(err error) error {
	var se *syncerr.Error
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("%s token refresh: %w", o.source, err)
	}

	var errorResp ErrorResponse
	if se.Err != nil {
		_ = json.Unmarshal([]byte(se.Err.Error()), &errorResp)
	}
	if errorResp.Error == "invalid_grant" || errorResp.Error == "invalid_client" {
		return &syncerr.Error{
			Kind:       syncerr.Credential,
			Op:         fmt.Sprintf("%s token refresh", o.source),
			StatusCode: se.StatusCode,
			Err:        fmt.Errorf("%s - %s", errorResp.Error, errorResp.ErrorDescription),
		}
	}
	return fmt.Errorf("%s token refresh: %w", o.source, err)
}

func (o *oauthApp) getBasicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(o.clientID + ":" + o.clientSecret))
}

// bearerHeader builds the Authorization header from the tenant's access token
func bearerHeader(source model.SourceSystem, tenant *model.TenantStore) (http.Header, error) {
	token := tenant.AccessToken()
	if token == "" {
		return nil, syncerr.Credentialf("%s: tenant %s has no access token", source, tenant.ID)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}
