package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mchmarny/sejctl/pkg/net"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// DefaultScopes grant read access to private repositories holding project files.
var DefaultScopes = []string{"repo"}

// DeviceFlow runs the OAuth device authorization grant used to obtain the
// token sent when fetching remote project files.
type DeviceFlow struct {
	cfg *oauth2.Config
}

// NewDeviceFlow configures the flow for clientID. A zero endpoint means GitHub.
func NewDeviceFlow(clientID string, endpoint oauth2.Endpoint, scopes ...string) (*DeviceFlow, error) {
	if clientID == "" {
		return nil, errors.New("clientID is required")
	}
	if endpoint.DeviceAuthURL == "" {
		endpoint = github.Endpoint
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &DeviceFlow{cfg: &oauth2.Config{
		ClientID: clientID,
		Endpoint: endpoint,
		Scopes:   scopes,
	}}, nil
}

func (f *DeviceFlow) context(ctx context.Context) (context.Context, error) {
	c, err := net.GetHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get http client: %w", err)
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c), nil
}

// Start requests a device and user code. The user enters the code at the
// returned verification URI.
func (f *DeviceFlow) Start(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	ctx, err := f.context(ctx)
	if err != nil {
		return nil, err
	}
	da, err := f.cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device code: %w", err)
	}
	return da, nil
}

// Wait polls until the user approves the device, the code expires or ctx ends.
func (f *DeviceFlow) Wait(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	if da == nil {
		return nil, errors.New("device code is nil")
	}
	ctx, err := f.context(ctx)
	if err != nil {
		return nil, err
	}
	if !da.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, da.Expiry)
		defer cancel()
	}
	t, err := f.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if t.AccessToken == "" {
		return nil, errors.New("access token is empty")
	}
	return t, nil
}
