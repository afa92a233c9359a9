package socket

import (
	"net/http"
	"strings"
	"time"
)

// NewHTTPClient returns a client and base URL for talking to the API at endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) (*http.Client, string, error) {
	dial, baseURL, err := CreateDialer(endpoint)
	if err != nil {
		return nil, "", err
	}
	if dial == nil {
		if !strings.Contains(baseURL, "://") || strings.HasPrefix(baseURL, "tcp://") {
			baseURL = "http://" + strings.TrimPrefix(baseURL, "tcp://")
		}
		return &http.Client{Timeout: timeout}, strings.TrimRight(baseURL, "/"), nil
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{DialContext: dial},
	}, baseURL, nil
}
