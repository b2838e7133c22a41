package provider

import (
	"context"
	"net/http"

	"calsync_server/pkg/apperr"

	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleAccountAdapter resolves the account email behind an access token.
type GoogleAccountAdapter struct {
	httpClient *http.Client
	endpoint   string
}

func NewGoogleAccountAdapter(httpClient *http.Client, endpoint string) *GoogleAccountAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GoogleAccountAdapter{httpClient: httpClient, endpoint: endpoint}
}

// AccountEmail calls the userinfo endpoint.
func (a *GoogleAccountAdapter) AccountEmail(ctx context.Context, accessToken string) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(bearerClient(a.httpClient, accessToken))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return "", apperr.RemoteTransient("create oauth2 service", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", mapGoogleError("userinfo.get", err)
	}
	return info.Email, nil
}
