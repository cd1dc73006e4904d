package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "sf-dev"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "sf-dev" || cfg.PubSub.ProjectID != "sf-dev" {
		t.Errorf("expected projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Checkout.Currency != "USD" {
		t.Errorf("expected USD, got %s", cfg.Checkout.Currency)
	}
	if cfg.Checkout.TaxRate.String() != "0.08" {
		t.Errorf("expected tax rate 0.08, got %s", cfg.Checkout.TaxRate)
	}
	if cfg.Checkout.FreeShippingOver != 10000 || cfg.Checkout.FlatShippingFee != 999 {
		t.Errorf("unexpected shipping rules %+v", cfg.Checkout)
	}
	if cfg.Checkout.OrderNumberPrefix != "SF" {
		t.Errorf("unexpected order number prefix %s", cfg.Checkout.OrderNumberPrefix)
	}
	if cfg.Refunds.Window != 30*24*time.Hour {
		t.Errorf("unexpected refund window %s", cfg.Refunds.Window)
	}
	if cfg.Payments.GatewayTimeout != 10*time.Second {
		t.Errorf("unexpected gateway timeout %s", cfg.Payments.GatewayTimeout)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":            "sf-prod",
		"API_FIRESTORE_PROJECT_ID":           "sf-data",
		"API_CHECKOUT_CURRENCY":              "jpy",
		"API_CHECKOUT_TAX_RATE":              "0.1",
		"API_CHECKOUT_FREE_SHIPPING_OVER":    "5000",
		"API_REFUNDS_WINDOW":                 "720h",
		"API_PAYMENTS_STRIPE_API_KEY":        "secret://stripe/api-key",
		"API_PAYMENTS_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
		"API_STORAGE_WEBHOOK_ARCHIVE_BUCKET": "sf-webhooks",
		"API_PUBSUB_NOTIFICATIONS_TOPIC":     "order-events",
		"API_SECURITY_OIDC_ISSUERS":          "https://a.example, https://b.example",
	}
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("Payments.StripeAPIKey", "Payments.StripeWebhookSecret"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "sf-data" {
		t.Errorf("unexpected firestore project %s", cfg.Firestore.ProjectID)
	}
	if cfg.Checkout.Currency != "JPY" || cfg.Checkout.TaxRate.String() != "0.1" || cfg.Checkout.FreeShippingOver != 5000 {
		t.Errorf("unexpected checkout config %+v", cfg.Checkout)
	}
	if cfg.Refunds.Window != 720*time.Hour {
		t.Errorf("unexpected refund window %s", cfg.Refunds.Window)
	}
	if cfg.Payments.StripeAPIKey != "resolved:secret://stripe/api-key" {
		t.Errorf("unexpected api key %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Payments.StripeWebhookSecret != "resolved:secret://stripe/webhook" {
		t.Errorf("legacy sm:// scheme not normalised: %s", cfg.Payments.StripeWebhookSecret)
	}
	if len(refs) != 2 {
		t.Errorf("expected two secret lookups, got %v", refs)
	}
	if cfg.Storage.WebhookArchiveBucket != "sf-webhooks" || cfg.PubSub.NotificationsTopic != "order-events" {
		t.Errorf("unexpected storage/pubsub config %+v %+v", cfg.Storage, cfg.PubSub)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 || cfg.Security.OIDC.Issuers[1] != "https://b.example" {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport API_FIREBASE_PROJECT_ID=\"sf-local\"\nAPI_SERVER_PORT=9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "7070"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "sf-local" {
		t.Errorf("expected project from .env, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected explicit map to win over .env, got %s", cfg.Server.Port)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := load(t, map[string]string{
		"API_CHECKOUT_CURRENCY": "ZZZZ",
		"API_CHECKOUT_TAX_RATE": "abc",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{"Firebase.ProjectID": true, "Checkout.Currency": true, "Checkout.TaxRate": true}
	for _, field := range vErr.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing fields in validation error: %v (got %v)", want, vErr.Fields())
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	boom := errors.New("boom")
	_, err := load(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":     "sf-dev",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://stripe/api-key",
	}, WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) { return "", boom })))

	var sErr *SecretError
	if !errors.As(err, &sErr) || !errors.Is(err, boom) {
		t.Fatalf("expected secret error wrapping boom, got %v", err)
	}
	if sErr.Ref != "secret://stripe/api-key" {
		t.Fatalf("unexpected ref %s", sErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "sf-dev"}, WithRequiredSecrets("Payments.StripeWebhookSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Payments.StripeWebhookSecret" {
		t.Fatalf("unexpected names %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "Payments.StripeWebhookSecret" {
		t.Fatalf("expected redacted names, got %v", redacted)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "map" {
		t.Fatalf("unexpected values %v", values)
	}
}
