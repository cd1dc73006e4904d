// Package secrets resolves secret:// configuration references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/hanko-field/storefront/internal/platform/secrets"
)

// ErrNotFound reports a reference absent from both Secret Manager and the fallback file.
var ErrNotFound = errors.New("secrets: not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver fetches secret values once per reference and caches them for the process lifetime.
// When Secret Manager is unreachable or denies access, values come from a local KEY=VALUE file.
type Resolver struct {
	client       accessor
	ownsClient   bool
	project      string
	fallbackPath string
	logger       *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	fallbackOnce sync.Once
	fallback     map[string]string

	lookups metric.Int64Counter
}

// Option customises a Resolver.
type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClient replaces the Secret Manager client.
func WithClient(client accessor) Option {
	return func(r *Resolver) { r.client = client }
}

// WithFallbackFile overrides the local fallback file. An empty path disables fallback.
func WithFallbackFile(path string) Option {
	return func(r *Resolver) { r.fallbackPath = strings.TrimSpace(path) }
}

// NewResolver resolves unqualified references in project. A Secret Manager client is created
// unless one is supplied; failure to create it leaves the resolver in fallback-only mode.
func NewResolver(ctx context.Context, project string, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		project:      strings.TrimSpace(project),
		fallbackPath: defaultFallbackPath,
		logger:       zap.NewNop(),
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.client == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using local fallback", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}

	counter, err := otel.GetMeterProvider().Meter(meterName).Int64Counter(
		"secrets.lookups",
		metric.WithDescription("Secret lookups by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}
	r.lookups = counter
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver for secret://name?version=N&project=P references.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	value, ok := r.cache[parsed.key()]
	r.mu.Unlock()
	if ok {
		r.count(ctx, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.project
	}
	source := "fallback"
	if r.client != nil && project != "" {
		value, err = r.access(ctx, project, parsed)
		switch {
		case err == nil:
			source = "remote"
		case fallbackAllowed(err):
			r.logger.Debug("secrets: remote lookup failed, trying fallback", zap.String("secret", parsed.name), zap.Error(err))
		default:
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
	}
	if source == "fallback" {
		if value, ok = r.lookupFallback(parsed); !ok {
			return "", fmt.Errorf("%w: %s missing from secret manager and %s", ErrNotFound, parsed.name, r.fallbackPath)
		}
	}

	r.mu.Lock()
	r.cache[parsed.key()] = value
	r.mu.Unlock()
	r.count(ctx, source)
	return value, nil
}

func (r *Resolver) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) lookupFallback(ref reference) (string, bool) {
	r.fallbackOnce.Do(func() {
		r.fallback = map[string]string{}
		if r.fallbackPath == "" {
			return
		}
		file, err := os.Open(r.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("secrets: open fallback file", zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			if parsed, err := parseReference(strings.TrimSpace(key)); err == nil {
				r.fallback[parsed.key()] = strings.TrimSpace(value)
			}
		}
	})
	if value, ok := r.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := r.fallback[reference{name: ref.name, version: "latest"}.key()]
	return value, ok
}

func (r *Resolver) count(ctx context.Context, source string) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) key() string {
	return r.project + "/" + r.name + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{name: name, version: version, project: strings.TrimSpace(u.Query().Get("project"))}, nil
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	}
	return false
}
