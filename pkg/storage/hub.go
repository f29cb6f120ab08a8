package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

const (
	defaultHubEndpoint = "https://huggingface.co"
	defaultHubRevision = "main"
	defaultHubConfig   = "default"
)

// HubConfig configures the Hugging Face Hub dataset store. Repo is filled
// from the location.
type HubConfig struct {
	Repo     string `yaml:"-" mapstructure:"-"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Token    string `yaml:"token" mapstructure:"token"`
	Revision string `yaml:"revision" mapstructure:"revision"`
	// Config is the dataset configuration used when a prefix names only a split.
	Config string `yaml:"config" mapstructure:"config"`
}

// Hub implements a read-only Store over the parquet export of a Hub dataset.
//
// List prefixes have the form "<config>/<split>" or "<split>"; the returned
// keys are absolute shard URLs in the order the Hub reports them.
type Hub struct {
	cfg    HubConfig
	client *http.Client
	logger *zap.Logger
}

// NewHub creates a hub store. When a token is configured, every request
// carries it as a bearer token.
func NewHub(cfg HubConfig, base *http.Client, logger *zap.Logger) *Hub {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultHubEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Revision == "" {
		cfg.Revision = defaultHubRevision
	}
	if cfg.Config == "" {
		cfg.Config = defaultHubConfig
	}
	if base == nil {
		base = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
		client.CheckRedirect = base.CheckRedirect
	}

	return &Hub{cfg: cfg, client: client, logger: logger}
}

// List returns the parquet shards of one split.
func (h *Hub) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	config, split := h.cfg.Config, "train"
	parts := strings.Split(strings.Trim(prefix, "/"), "/")
	switch {
	case len(parts) >= 2:
		config, split = parts[0], parts[1]
	case parts[0] != "":
		split = parts[0]
	}

	endpoint := fmt.Sprintf("%s/api/datasets/%s/parquet/%s/%s",
		h.cfg.Endpoint, h.cfg.Repo, url.PathEscape(config), url.PathEscape(split))

	resp, err := h.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var urls []string
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid parquet listing from hub").
			WithDetail("url", endpoint)
	}

	h.logger.Debug("listed hub shards",
		zap.String("repo", h.cfg.Repo),
		zap.String("config", config),
		zap.String("split", split),
		zap.Int("shards", len(urls)))

	objects := make([]ObjectInfo, 0, len(urls))
	for _, u := range urls {
		objects = append(objects, ObjectInfo{Key: u})
	}
	return objects, nil
}

// Open streams the shard at key, which is either an absolute URL returned by
// List or a path inside the repository.
func (h *Hub) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target := key
	if !strings.HasPrefix(key, "http://") && !strings.HasPrefix(key, "https://") {
		target = fmt.Sprintf("%s/datasets/%s/resolve/%s/%s",
			h.cfg.Endpoint, h.cfg.Repo, url.PathEscape(h.cfg.Revision), strings.TrimLeft(key, "/"))
	}

	resp, err := h.get(ctx, target)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put is not supported: the hub store is read-only.
func (h *Hub) Put(context.Context, string, io.Reader) error {
	return errors.New(errors.ErrorTypeCapability, "hub store is read-only")
}

// Close releases idle connections.
func (h *Hub) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *Hub) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid hub url").WithDetail("url", target)
	}
	req.Header.Set("User-Agent", "fastir")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "hub request failed").WithDetail("url", target)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	msg := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, notFound(fmt.Sprintf("hub resource not found: %s", target), fmt.Errorf("%s", msg))
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.Newf(errors.ErrorTypeFile, "hub access denied (status %d): %s", resp.StatusCode, msg).
			WithDetail("url", target).
			WithDetail("hint", "gated datasets require hub.token")
	default:
		return nil, errors.Newf(errors.ErrorTypeConnection, "hub request failed (status %d): %s", resp.StatusCode, msg).
			WithDetail("url", target)
	}
}

var _ Store = (*Hub)(nil)
