package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("TZ", "UTC")
	cfg := Defaults()
	cfg.Database.DSN = "postgres://oddyssey:pw@localhost:5432/oddyssey"
	cfg.Provider.APIToken = "token"
	cfg.Ledger.RPCURL = "https://rpc.example.org"
	cfg.Ledger.ContractAddress = "0x0123456789abcdef0123456789abcdef01234567"
	cfg.Ledger.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{
		"log_level",
		"database.dsn",
		"provider.api_token",
		"ledger.rpc_url",
		"private_key or encrypted_key_path",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestValidateRejectsAmbiguousKeySource(t *testing.T) {
	cfg := validConfig(t)
	cfg.Ledger.EncryptedKeyPath = "/var/lib/oddyssey/key.enc"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("Validate() = %v, want mutually exclusive error", err)
	}
}

func TestValidateRequiresKeyPasswordForEncryptedKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.Ledger.PrivateKey = ""
	cfg.Ledger.EncryptedKeyPath = "/var/lib/oddyssey/key.enc"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("Validate() = %v, want key_password error", err)
	}
}

func TestValidateRefusesNonUTCTimezone(t *testing.T) {
	cfg := validConfig(t)
	t.Setenv("TZ", "America/New_York")

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "TZ=UTC") {
		t.Fatalf("Validate() = %v, want refusal to run outside UTC", err)
	}
}

func TestDefaultsProviderTuning(t *testing.T) {
	p := Defaults().Provider
	if p.RequestTimeout.Duration != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", p.RequestTimeout.Duration)
	}
	if p.RetryBackoff.Duration != time.Second {
		t.Errorf("RetryBackoff = %v, want 1s", p.RetryBackoff.Duration)
	}
	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oddyssey.toml")
	raw := `
log_level = "debug"

[database]
dsn = "postgres://oddyssey:pw@localhost:5432/oddyssey"

[provider]
api_token = "file-token"
request_timeout = "45s"

[ledger]
rpc_url = "https://rpc.example.org"
contract_address = "0x0123456789abcdef0123456789abcdef01234567"
private_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

[server]
port = 9090
cors_origins = ["https://app.example.org"]
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TZ", "UTC")
	t.Setenv("ODDYSSEY_PROVIDER_API_TOKEN", "env-token")
	t.Setenv("ODDYSSEY_INGEST_RESULTS_INTERVAL", "3m")
	t.Setenv("ODDYSSEY_PROVIDER_EXCLUDED_LEAGUE_TERMS", "friendly, esoccer")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Provider.APIToken != "env-token" {
		t.Errorf("Provider.APIToken = %q, want env override", cfg.Provider.APIToken)
	}
	if cfg.Provider.RequestTimeout.Duration != 45*time.Second {
		t.Errorf("Provider.RequestTimeout = %v, want 45s", cfg.Provider.RequestTimeout.Duration)
	}
	if cfg.Ingest.ResultsInterval.Duration != 3*time.Minute {
		t.Errorf("Ingest.ResultsInterval = %v, want 3m", cfg.Ingest.ResultsInterval.Duration)
	}
	if got := cfg.Provider.ExcludedLeagueTerms; len(got) != 2 || got[0] != "friendly" || got[1] != "esoccer" {
		t.Errorf("ExcludedLeagueTerms = %v", got)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	// Defaults survive where neither file nor env touched them.
	if cfg.Resolver.BotMaxAttempts != 5 {
		t.Errorf("Resolver.BotMaxAttempts = %d, want default 5", cfg.Resolver.BotMaxAttempts)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.toml")
	if err := os.WriteFile(path, []byte("log_level = [1,"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() = nil error, want decode failure")
	}
}
