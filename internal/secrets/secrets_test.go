package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tradewire/internal/domain"
)

func TestEnvVarName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/tradovate/USERNAME", "TRADOVATE_USERNAME"},
		{"/tradovate/OANDA_SECRET", "TRADOVATE_OANDA_SECRET"},
		{"/tradovate/COINBASE_API_KEY_NAME", "TRADOVATE_COINBASE_API_KEY_NAME"},
	}
	for _, c := range cases {
		if got := EnvVarName(c.path); got != c.want {
			t.Errorf("EnvVarName(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestEnvSourceFetch(t *testing.T) {
	os.Setenv("TRADOVATE_USERNAME", "trader1")
	os.Setenv("TRADOVATE_PASSWORD", "hunter2")
	defer os.Unsetenv("TRADOVATE_USERNAME")
	defer os.Unsetenv("TRADOVATE_PASSWORD")

	got, err := EnvSource{}.Fetch(context.Background(), []string{PathTradovateUsername, PathTradovatePassword})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got[PathTradovateUsername] != "trader1" {
		t.Errorf("username = %q, want %q", got[PathTradovateUsername], "trader1")
	}
	if got[PathTradovatePassword] != "hunter2" {
		t.Errorf("password = %q, want %q", got[PathTradovatePassword], "hunter2")
	}
}

func TestEnvSourceFetchMissing(t *testing.T) {
	os.Setenv("TRADOVATE_USERNAME", "trader1")
	os.Unsetenv("TRADOVATE_CID")
	defer os.Unsetenv("TRADOVATE_USERNAME")

	_, err := EnvSource{}.Fetch(context.Background(), []string{PathTradovateUsername, PathTradovateCID})
	if err == nil {
		t.Fatal("Fetch should fail when any path is missing")
	}
	if domain.KindOf(err) != domain.KindDependency {
		t.Errorf("error kind = %q, want %q", domain.KindOf(err), domain.KindDependency)
	}
	if !strings.Contains(err.Error(), PathTradovateCID) {
		t.Errorf("error should name the missing path, got %q", err.Error())
	}
}

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	content := `
/tradovate/USERNAME: "trader1"
/tradovate/PASSWORD: "hunter2"
/tradovate/OANDA_SECRET: "bearer-token"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing secrets file: %v", err)
	}

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}

	got, err := src.Fetch(context.Background(), []string{PathTradovateUsername, PathOANDASecret})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got[PathOANDASecret] != "bearer-token" {
		t.Errorf("oanda secret = %q, want %q", got[PathOANDASecret], "bearer-token")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("NewFileSource should fail for a missing file")
	}
	if domain.KindOf(err) != domain.KindDependency {
		t.Errorf("error kind = %q, want %q", domain.KindOf(err), domain.KindDependency)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	content := `
/tradovate/OANDA_SECRET: "oanda-token"
/tradovate/OANDA_ACCOUNT: "001-001-1234567-001"
/tradovate/USERNAME: "trader1"
/tradovate/PASSWORD: "hunter2"
/tradovate/DEVICE_ID: "device-1"
/tradovate/CID: "42"
/tradovate/SECRET: "app-secret"
/tradovate/DATABENTO_API_KEY: "db-key"
/tradovate/COINBASE_API_KEY_NAME: "organizations/x/apiKeys/y"
/tradovate/COINBASE_PRIVATE_KEY: "pem-data"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing secrets file: %v", err)
	}

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}

	creds, err := Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if creds.OANDAAccount != "001-001-1234567-001" {
		t.Errorf("OANDAAccount = %q, want %q", creds.OANDAAccount, "001-001-1234567-001")
	}
	if creds.TradovateUsername != "trader1" {
		t.Errorf("TradovateUsername = %q, want %q", creds.TradovateUsername, "trader1")
	}
	if creds.DatabentoAPIKey != "db-key" {
		t.Errorf("DatabentoAPIKey = %q, want %q", creds.DatabentoAPIKey, "db-key")
	}
	if creds.CoinbasePrivateKey != "pem-data" {
		t.Errorf("CoinbasePrivateKey = %q, want %q", creds.CoinbasePrivateKey, "pem-data")
	}
}
