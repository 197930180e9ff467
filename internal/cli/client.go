package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// adminClient talks to a running daemon's admin endpoint
type adminClient struct {
	baseURL string
	client  *http.Client
}

func newAdminClient() (*adminClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return nil, fmt.Errorf("admin endpoint is disabled in the configuration")
	}

	return &adminClient{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *adminClient) get(path string, out interface{}) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	return decodeResponse(resp, out)
}

func (c *adminClient) post(path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.client.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
