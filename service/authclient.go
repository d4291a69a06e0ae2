package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"votemesh/models"
)

// AuthorityClient is the coordinator's view of the decrypting
// authority.
type AuthorityClient interface {
	InitializeState(ctx context.Context) (*models.InitializeStateResponse, error)
	Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitVoteResponse, error)
	Finish(ctx context.Context, req *models.FinishRequest) (*models.FinishResponse, error)
}

// HTTPAuthorityClient talks to the authority service over HTTP.
type HTTPAuthorityClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthorityClient(baseURL string) *HTTPAuthorityClient {
	return &HTTPAuthorityClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPAuthorityClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("authority returned %d: %s", resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPAuthorityClient) InitializeState(ctx context.Context) (*models.InitializeStateResponse, error) {
	var resp models.InitializeStateResponse
	if err := c.do(ctx, http.MethodGet, "/initialize_state", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPAuthorityClient) Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitVoteResponse, error) {
	var resp models.SubmitVoteResponse
	if err := c.do(ctx, http.MethodPost, "/submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPAuthorityClient) Finish(ctx context.Context, req *models.FinishRequest) (*models.FinishResponse, error) {
	var resp models.FinishResponse
	if err := c.do(ctx, http.MethodPost, "/finish", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
