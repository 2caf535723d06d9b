package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wudi/gateway/config"
)

// RemoteProvider delegates translation to an external HTTP endpoint
// (§4.4 "remote"): POSTs {issuer, subject, claims} and parses back
// {roles, permissions, attributes}.
type RemoteProvider struct {
	url      string
	client   *http.Client
	failMode string // "deny" or "allow_empty"
}

// NewRemoteProvider builds a provider from the gateway's remote
// translation configuration.
func NewRemoteProvider(cfg config.RemoteTranslationConfig) *RemoteProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	failMode := cfg.FailMode
	if failMode == "" {
		failMode = "deny"
	}
	return &RemoteProvider{
		url:      cfg.URL,
		client:   &http.Client{Timeout: timeout},
		failMode: failMode,
	}
}

type remoteRequest struct {
	Issuer  string         `json:"issuer"`
	Subject string         `json:"subject"`
	Claims  map[string]any `json:"claims"`
}

type remoteResponse struct {
	Roles       []string          `json:"roles"`
	Permissions []string          `json:"permissions"`
	Attributes  map[string]string `json:"attributes"`
}

func (p *RemoteProvider) Translate(ctx context.Context, issuer, subject string, claims map[string]any) (Result, error) {
	result, err := p.call(ctx, issuer, subject, claims)
	if err != nil {
		if p.failMode == "allow_empty" {
			return newResult(), nil
		}
		return Result{}, fmt.Errorf("translation: remote provider: %w", err)
	}
	return result, nil
}

func (p *RemoteProvider) call(ctx context.Context, issuer, subject string, claims map[string]any) (Result, error) {
	body, err := json.Marshal(remoteRequest{Issuer: issuer, Subject: subject, Claims: claims})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("remote translation returned status %d", resp.StatusCode)
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Result{}, err
	}

	result := newResult()
	for _, r := range rr.Roles {
		result.Roles[r] = struct{}{}
	}
	for _, perm := range rr.Permissions {
		result.Permissions[perm] = struct{}{}
	}
	for k, v := range rr.Attributes {
		result.Attributes[k] = v
	}
	return result, nil
}

func (p *RemoteProvider) Priority() int { return 20 }
