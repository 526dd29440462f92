package anvilbridge

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// authorizationHeader derives the single Authorization value used for the life of a client.
// An API key is sent as Basic credentials with an empty password, an access token as a
// Bearer token over its base64 form.
func authorizationHeader(apiKey, accessToken string) (string, error) {
	switch {
	case apiKey != "" && accessToken != "":
		return "", &ConfigurationError{Field: "credentials", Message: "set either an API key or an access token, not both"}
	case apiKey != "":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":")), nil
	case accessToken != "":
		tok := &oauth2.Token{AccessToken: base64.StdEncoding.EncodeToString([]byte(accessToken))}
		req := &http.Request{Header: make(http.Header)}
		tok.SetAuthHeader(req)
		return req.Header.Get("Authorization"), nil
	}
	return "", &ConfigurationError{Field: "credentials", Message: "an API key or an access token is required"}
}

// tokenExpiry returns the exp claim of a JWT access token. Tokens that are not JWTs, or carry
// no exp, report false. The signature is not checked.
func tokenExpiry(accessToken string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func warnIfExpired(logger hclog.Logger, accessToken string, now time.Time) {
	if accessToken == "" {
		return
	}
	if exp, ok := tokenExpiry(accessToken); ok && !exp.After(now) {
		logger.Warn("access token has expired", "expired_at", exp)
	}
}
