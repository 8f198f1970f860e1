package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60
	clientAgent      = "sejctl"

	// MaxFetchBytes caps the size of a fetched project document.
	MaxFetchBytes = 32 << 20
)

var (
	reqTransport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       timeoutInSeconds * time.Second,
		DisableKeepAlives:     false,
		ResponseHeaderTimeout: time.Duration(timeoutInSeconds) * time.Second,
	}

	ErrorURLNotFound = errors.New("URL not found")
	ErrorTooLarge    = errors.New("response too large")
)

// GetHTTPClient returns the shared-transport client used for remote fetches.
func GetHTTPClient() (*http.Client, error) {
	return &http.Client{
		Transport: reqTransport,
		Timeout:   timeoutInSeconds * time.Second,
	}, nil
}

func getResp(ctx context.Context, c *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP Get request: %w", err)
	}
	req.Header.Set("User-Agent", clientAgent)

	resp, err := c.Do(req) //nolint:gosec // URL is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("error executing HTTP Get request: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", url, ErrorURLNotFound)
	case resp.StatusCode != http.StatusOK:
		PrintHTTPResponse(resp)
		resp.Body.Close()
		return nil, fmt.Errorf("error downloading %s (status: %d - %s)", url, resp.StatusCode, resp.Status)
	}
	return resp, nil
}

// Fetch returns the body of url, up to MaxFetchBytes.
func Fetch(ctx context.Context, c *http.Client, url string) ([]byte, error) {
	resp, err := getResp(ctx, c, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("error reading content: %w", err)
	}
	if len(b) > MaxFetchBytes {
		return nil, fmt.Errorf("%s: %w", url, ErrorTooLarge)
	}
	return b, nil
}
