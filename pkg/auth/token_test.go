package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

func deviceServer(t *testing.T, pending int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"device_code":"dc_test","user_code":"ABCD-1234",` +
			`"verification_uri":"https://example.com/device","expires_in":60,"interval":1}`))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dc_test", r.PostForm.Get("device_code"))
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) <= pending {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		w.Write([]byte(`{"access_token":"gho_test123","token_type":"bearer","scope":"repo"}`))
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s, &polls
}

func endpoint(s *httptest.Server) oauth2.Endpoint {
	return oauth2.Endpoint{
		DeviceAuthURL: s.URL + "/device/code",
		TokenURL:      s.URL + "/token",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

func TestNewDeviceFlow(t *testing.T) {
	_, err := NewDeviceFlow("", oauth2.Endpoint{})
	assert.Error(t, err)

	f, err := NewDeviceFlow("test-client", oauth2.Endpoint{})
	require.NoError(t, err)
	assert.Equal(t, github.Endpoint, f.cfg.Endpoint)
	assert.Equal(t, DefaultScopes, f.cfg.Scopes)
}

func TestDeviceFlow(t *testing.T) {
	s, polls := deviceServer(t, 1)
	f, err := NewDeviceFlow("test-client", endpoint(s), "read")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	da, err := f.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", da.UserCode)
	assert.Equal(t, "https://example.com/device", da.VerificationURI)
	assert.False(t, da.Expiry.IsZero())

	tok, err := f.Wait(ctx, da)
	require.NoError(t, err)
	assert.Equal(t, "gho_test123", tok.AccessToken)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestDeviceFlow_Cancelled(t *testing.T) {
	s, _ := deviceServer(t, 1000)
	f, err := NewDeviceFlow("test-client", endpoint(s))
	require.NoError(t, err)

	da, err := f.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx, da)
	assert.Error(t, err)
}

func TestWait_NilCode(t *testing.T) {
	f, err := NewDeviceFlow("test-client", oauth2.Endpoint{})
	require.NoError(t, err)
	_, err = f.Wait(context.Background(), nil)
	assert.Error(t, err)
}
