package api

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/skillpath-ai/skillpath-go/internal/token"
)

// refreshGrace is how close to expiry an access token may be before the
// token source refreshes it instead of handing it out. Keeps the realtime
// channel from authenticating with a token that dies mid-handshake.
const refreshGrace = 30 * time.Second

// TokenSource returns an oauth2.TokenSource view of the credential store.
// Each Token call yields the currently stored access token, going through
// the shared refresh slot when the token is missing or about to expire.
// Intended for consumers outside the HTTP path, such as the realtime
// channel's reconnect loop.
func (c *Client) TokenSource() oauth2.TokenSource {
	return &storeTokenSource{c: c}
}

type storeTokenSource struct {
	c *Client
}

// Token implements oauth2.TokenSource.
func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	sess := s.c.store.Current()
	if sess == nil {
		return nil, ErrNotAuthenticated
	}

	if sess.AccessToken != "" && !token.ExpiresWithin(sess.AccessToken, refreshGrace) {
		return &oauth2.Token{AccessToken: sess.AccessToken, TokenType: "Bearer"}, nil
	}

	refreshed, err := s.c.transport.awaitRefresh(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: refreshed, TokenType: "Bearer"}, nil
}
