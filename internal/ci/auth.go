package ci

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const httpTimeout = 30 * time.Second

// NewAuthenticatedHTTPClient builds an *http.Client that attaches token as
// a static bearer credential to every outbound request (spec §4.1's "Token
// from configuration").
func NewAuthenticatedHTTPClient(ctx context.Context, token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = httpTimeout
	return client
}
