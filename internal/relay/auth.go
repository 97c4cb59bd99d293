package relay

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// httpClientFor builds the HTTP client used for the websocket dial.
// With a token URL configured the client-credentials flow mints and
// refreshes bearer tokens; a static token is wrapped in a fixed token
// source. Either way the oauth2 transport injects the Authorization
// header on the upgrade request.
func httpClientFor(ctx context.Context, cfg ClientConfig) *http.Client {
	switch {
	case cfg.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}

		return oauth2.NewClient(ctx, cc.TokenSource(ctx))
	case cfg.Token != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		return oauth2.NewClient(ctx, src)
	default:
		return http.DefaultClient
	}
}
