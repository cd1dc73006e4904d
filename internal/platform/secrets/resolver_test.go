package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/storefront/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_test_remote"

	resolver, err := NewResolver(ctx, "storefront", WithClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if got != "sk_test_remote" {
			t.Fatalf("expected remote value, got %q", got)
		}
	}
	if calls := client.calls[resource]; calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/ops/secrets/stripe_webhook_secret/versions/3"] = "whsec_3"

	resolver, err := NewResolver(ctx, "storefront", WithClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got, err := resolver.ResolveSecret(ctx, "sm://stripe_webhook_secret?version=3&project=ops")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "whsec_3" {
		t.Fatalf("expected pinned version, got %q", got)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local overrides\nsecret://stripe_api_key=sk_test_local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errs["projects/storefront/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx, "storefront", WithClient(client), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got, err := resolver.ResolveSecret(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/storefront/secrets/broken/versions/latest"] = status.Error(codes.Internal, "boom")

	resolver, err := NewResolver(ctx, "storefront", WithClient(client), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for _, ref := range []string{"", "https://example.com/x", "secret://", "secret://broken", "secret://missing"} {
		if _, err := resolver.ResolveSecret(ctx, ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
