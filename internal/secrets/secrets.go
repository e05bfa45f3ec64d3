// Package secrets fetches broker credentials from a hierarchical key-value
// source. Credentials are batch-fetched once at startup and injected into
// the adapters; nothing re-reads the source per request.
package secrets

import (
	"context"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tradewire/internal/domain"
)

// Parameter paths for broker credentials. Every parameter lives under the
// /tradovate/ prefix, including the OANDA and Coinbase keys.
const (
	PathOANDASecret        = "/tradovate/OANDA_SECRET"
	PathOANDAAccount       = "/tradovate/OANDA_ACCOUNT"
	PathTradovateUsername  = "/tradovate/USERNAME"
	PathTradovatePassword  = "/tradovate/PASSWORD"
	PathTradovateDeviceID  = "/tradovate/DEVICE_ID"
	PathTradovateCID       = "/tradovate/CID"
	PathTradovateSecret    = "/tradovate/SECRET"
	PathDatabentoAPIKey    = "/tradovate/DATABENTO_API_KEY"
	PathCoinbaseKeyName    = "/tradovate/COINBASE_API_KEY_NAME"
	PathCoinbasePrivateKey = "/tradovate/COINBASE_PRIVATE_KEY"
)

// Source fetches secret values by path, batch style. A missing path fails
// the whole batch so a half-configured process never starts trading.
type Source interface {
	Fetch(ctx context.Context, paths []string) (map[string]string, error)
}

// Credentials is the full secret set the service needs.
type Credentials struct {
	OANDAToken         string
	OANDAAccount       string
	TradovateUsername  string
	TradovatePassword  string
	TradovateDeviceID  string
	TradovateCID       string
	TradovateSecret    string
	DatabentoAPIKey    string
	CoinbaseKeyName    string
	CoinbasePrivateKey string
}

// Load batch-fetches every credential path from src.
func Load(ctx context.Context, src Source) (Credentials, error) {
	paths := []string{
		PathOANDASecret, PathOANDAAccount,
		PathTradovateUsername, PathTradovatePassword, PathTradovateDeviceID,
		PathTradovateCID, PathTradovateSecret,
		PathDatabentoAPIKey,
		PathCoinbaseKeyName, PathCoinbasePrivateKey,
	}
	vals, err := src.Fetch(ctx, paths)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		OANDAToken:         vals[PathOANDASecret],
		OANDAAccount:       vals[PathOANDAAccount],
		TradovateUsername:  vals[PathTradovateUsername],
		TradovatePassword:  vals[PathTradovatePassword],
		TradovateDeviceID:  vals[PathTradovateDeviceID],
		TradovateCID:       vals[PathTradovateCID],
		TradovateSecret:    vals[PathTradovateSecret],
		DatabentoAPIKey:    vals[PathDatabentoAPIKey],
		CoinbaseKeyName:    vals[PathCoinbaseKeyName],
		CoinbasePrivateKey: vals[PathCoinbasePrivateKey],
	}, nil
}

// missingErr builds the DependencyError for unresolvable paths.
func missingErr(missing []string) error {
	sort.Strings(missing)
	return domain.Errorf(domain.KindDependency, "secret source missing parameters: %s", strings.Join(missing, ", "))
}

// EnvSource resolves paths against process environment variables:
// /tradovate/USERNAME becomes TRADOVATE_USERNAME.
type EnvSource struct{}

var _ Source = EnvSource{}

// EnvVarName converts a parameter path to its environment variable name.
func EnvVarName(path string) string {
	name := strings.Trim(path, "/")
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ToUpper(name)
}

// Fetch resolves each path from the environment.
func (EnvSource) Fetch(_ context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	var missing []string
	for _, p := range paths {
		v, ok := os.LookupEnv(EnvVarName(p))
		if !ok || v == "" {
			missing = append(missing, p)
			continue
		}
		out[p] = v
	}
	if len(missing) > 0 {
		return nil, missingErr(missing)
	}
	return out, nil
}

// FileSource reads secrets from a YAML file of path: value pairs, a local
// stand-in for a managed parameter store.
type FileSource struct {
	values map[string]string
}

var _ Source = (*FileSource)(nil)

// NewFileSource loads and parses the secrets file at path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Errorf(domain.KindDependency, "reading secrets file: %w", err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, domain.Errorf(domain.KindDependency, "parsing secrets file: %w", err)
	}
	return &FileSource{values: values}, nil
}

// Fetch resolves each path from the loaded file.
func (f *FileSource) Fetch(_ context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	var missing []string
	for _, p := range paths {
		v, ok := f.values[p]
		if !ok || v == "" {
			missing = append(missing, p)
			continue
		}
		out[p] = v
	}
	if len(missing) > 0 {
		return nil, missingErr(missing)
	}
	return out, nil
}
