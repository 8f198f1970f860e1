package net

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// GetOAuthClient returns a client that sends token as a bearer credential.
// An empty token yields the plain client.
func GetOAuthClient(ctx context.Context, token string) (*http.Client, error) {
	base, err := GetHTTPClient()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return base, nil
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{
			TokenType:   "Bearer",
			AccessToken: token,
		},
	)
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts), nil
}
