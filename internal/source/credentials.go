package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// Credentials is the opaque bundle handed to the fetcher.
// Either Username/Password (HTTP Basic) or Token (Bearer) is used; Token wins.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Token == ""
}

// Apply sets the Authorization header on req.
func (c Credentials) Apply(req *http.Request) {
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// String never includes secret material.
func (c Credentials) String() string {
	switch {
	case c.Token != "":
		return "bearer(****)"
	case c.Username != "":
		return fmt.Sprintf("basic(%s:****)", c.Username)
	default:
		return "anonymous"
	}
}

// LogValue keeps secrets out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// CredentialRefs holds secret references resolved at run time.
//
// A reference is "env:NAME", "file:/path/to/secret" or a literal value.
type CredentialRefs struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvFileProvider resolves env: and file: references from the process environment
// and the local filesystem.
type EnvFileProvider struct {
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
}

// NewEnvFileProvider returns a provider backed by os.LookupEnv and os.ReadFile.
func NewEnvFileProvider() *EnvFileProvider {
	return &EnvFileProvider{LookupEnv: os.LookupEnv, ReadFile: os.ReadFile}
}

// Resolve implements SecretProvider.
func (p *EnvFileProvider) Resolve(_ context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := p.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		b, err := p.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return ref, nil
	}
}

// ResolveCredentials resolves every non-empty reference in refs.
// A reference that cannot be resolved is reported as ErrAuth.
func ResolveCredentials(ctx context.Context, p SecretProvider, refs CredentialRefs) (Credentials, error) {
	var creds Credentials
	fields := []struct {
		name string
		ref  string
		dst  *string
	}{
		{"username", refs.Username, &creds.Username},
		{"password", refs.Password, &creds.Password},
		{"token", refs.Token, &creds.Token},
	}
	for _, f := range fields {
		if f.ref == "" {
			continue
		}
		v, err := p.Resolve(ctx, f.ref)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: resolve %s: %v", ErrAuth, f.name, err)
		}
		*f.dst = v
	}
	return creds, nil
}
