package sos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StoreHandle identifies a store on the map server backend.
type StoreHandle struct {
	Name            string `json:"name"`
	Workspace       string `json:"workspace"`
	CapabilitiesURL string `json:"capabilitiesURL"`
}

// StoreProvisioner ensures that backing stores for cascaded services exist
// on the map server's REST API. Provisioning is idempotent by construction
// (lookup before create), though not atomic against concurrent callers; the
// backend treats a duplicate create of the same name as a no-op.
type StoreProvisioner struct {
	baseURL    string
	workspace  string
	username   string
	password   string
	timeout    time.Duration
	httpClient http.Client
	log        zerolog.Logger
}

func NewStoreProvisioner(log zerolog.Logger, baseURL, workspace, username, password string, timeout time.Duration) *StoreProvisioner {
	return &StoreProvisioner{
		baseURL:   baseURL,
		workspace: workspace,
		username:  username,
		password:  password,
		timeout:   timeout,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

func (p *StoreProvisioner) storeURL(name string) string {
	return fmt.Sprintf("%s/rest/workspaces/%s/sosstores/%s", p.baseURL, p.workspace, name)
}

// EnsureStore looks a store up by name in the cascading workspace and
// creates it, bound to the service's capabilities URL, if it is absent.
func (p *StoreProvisioner) EnsureStore(ctx context.Context, name, capabilitiesURL string) (*StoreHandle, error) {
	store, err := p.getStore(ctx, name)
	if err != nil {
		return nil, err
	}

	if store != nil {
		return store, nil
	}

	return p.createStore(ctx, name, capabilitiesURL)
}

func (p *StoreProvisioner) getStore(ctx context.Context, name string) (*StoreHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.storeURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create store lookup request: %w", err)
	}
	req.SetBasicAuth(p.username, p.password)

	response, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store lookup request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store lookup failed, status code not ok: %d", response.StatusCode)
	}

	store := &StoreHandle{}
	if err := json.NewDecoder(response.Body).Decode(store); err != nil {
		return nil, fmt.Errorf("failed to decode store lookup response: %w", err)
	}

	return store, nil
}

func (p *StoreProvisioner) createStore(ctx context.Context, name, capabilitiesURL string) (*StoreHandle, error) {
	store := StoreHandle{
		Name:            name,
		Workspace:       p.workspace,
		CapabilitiesURL: capabilitiesURL,
	}

	body, err := json.Marshal(&store)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	createURL := fmt.Sprintf("%s/rest/workspaces/%s/sosstores", p.baseURL, p.workspace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create store creation request: %w", err)
	}
	req.SetBasicAuth(p.username, p.password)
	req.Header.Add("Content-Type", "application/json")

	response, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store creation request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated && response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store creation failed, status code not ok: %d", response.StatusCode)
	}

	p.log.Info().Msgf("created cascaded store %s in workspace %s", name, p.workspace)

	return &store, nil
}
