// Package secrets resolves the engine's gating credentials, the database
// password and the Stripe API key, from an external secret store instead
// of plain environment variables. The configuration names each secret with
// a reference string; the manager parses it, fetches through the configured
// backend, and fails startup when a gating secret cannot be read.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/restoreassist/trial-engine/pkg/logger"
	"go.uber.org/zap"
)

// ProviderType names a secret backend.
type ProviderType string

const (
	ProviderNone       ProviderType = ""
	ProviderVault      ProviderType = "vault"
	ProviderAWS        ProviderType = "aws"
	ProviderGCP        ProviderType = "gcp"
	ProviderKubernetes ProviderType = "kubernetes"
)

// SecretType tags a secret for the audit log.
type SecretType string

const (
	SecretDatabase SecretType = "database_credentials"
	SecretStripe   SecretType = "stripe_api_key"
)

var (
	ErrProviderNotConfigured = errors.New("secrets: provider not configured")
	ErrInvalidReference      = errors.New("secrets: invalid reference")
	ErrKeyNotFound           = errors.New("secrets: key not found")
)

// Reference locates one secret inside a backend.
type Reference struct {
	Name     string
	Path     string
	Mount    string
	Key      string
	Version  string
	Provider ProviderType
	Type     SecretType
}

// CacheKey identifies the fetched payload. Key selection happens after the
// fetch, so two references differing only in Key share one cache entry.
func (r Reference) CacheKey() string {
	key := r.Path
	if r.Mount != "" {
		key = r.Mount + "::" + key
	}
	if r.Version != "" {
		key += "@" + r.Version
	}
	return key
}

// ParseReference parses the reference syntax used in configuration:
//
//	[provider://][mount::]path[@version][#key]
//
// Only the path is required. The provider prefix, when present, must match
// the manager's configured backend.
func ParseReference(name string, secretType SecretType, raw string) (Reference, error) {
	ref := Reference{Name: name, Type: secretType}

	rest := strings.TrimSpace(raw)
	if rest == "" {
		return ref, ErrInvalidReference
	}

	if scheme, tail, found := strings.Cut(rest, "://"); found {
		if scheme == "" {
			return ref, ErrInvalidReference
		}
		ref.Provider = ProviderType(scheme)
		rest = tail
	}

	if head, key, found := strings.Cut(rest, "#"); found {
		ref.Key = strings.TrimSpace(key)
		rest = head
	}

	if head, version, found := strings.Cut(rest, "@"); found {
		ref.Version = strings.TrimSpace(version)
		rest = head
	}

	if mount, path, found := strings.Cut(rest, "::"); found {
		ref.Mount = strings.Trim(strings.TrimSpace(mount), "/")
		rest = path
	}

	ref.Path = strings.Trim(strings.TrimSpace(rest), "/")
	if ref.Path == "" {
		return ref, ErrInvalidReference
	}

	return ref, nil
}

// Secret is a fetched payload plus what the backend knows about it.
type Secret struct {
	Data     map[string]string
	Metadata Metadata
}

// Metadata carries backend-reported secret metadata.
type Metadata struct {
	Version     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RetrievedAt time.Time
	RotateAfter time.Time
}

// Value returns one non-empty entry from the payload.
func (s Secret) Value(key string) (string, bool) {
	val, ok := s.Data[key]
	return val, ok && val != ""
}

// Config selects and configures the backend.
type Config struct {
	Provider         ProviderType
	CacheTTL         time.Duration
	RotationInterval time.Duration
	AuditEnabled     bool
	Vault            VaultConfig
	AWS              AWSConfig
	GCP              GCPConfig
	Kubernetes       KubernetesConfig
}

// Manager fetches secrets with caching and audit logging on top of a
// single backend.
type Manager interface {
	GetSecret(ctx context.Context, ref Reference) (Secret, error)
	GetString(ctx context.Context, ref Reference) (string, error)
	Close() error
}

// backend is the raw fetch surface each provider implements.
type backend interface {
	Kind() ProviderType
	Fetch(ctx context.Context, ref Reference) (Secret, error)
	Close() error
}

const (
	defaultCacheTTL         = 5 * time.Minute
	defaultRotationInterval = 90 * 24 * time.Hour
)

type manager struct {
	backend          backend
	cacheTTL         time.Duration
	rotationInterval time.Duration
	auditEnabled     bool

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	secret  Secret
	staleAt time.Time
}

// NewManager builds a Manager over the configured backend. An unset
// provider is an error here; callers skip secret resolution entirely when
// no provider is configured.
func NewManager(cfg Config) (Manager, error) {
	var (
		be  backend
		err error
	)
	ctx := context.Background()

	switch cfg.Provider {
	case ProviderNone:
		return nil, ErrProviderNotConfigured
	case ProviderVault:
		be, err = newVaultBackend(cfg.Vault)
	case ProviderAWS:
		be, err = newAWSBackend(ctx, cfg.AWS)
	case ProviderGCP:
		be, err = newGCPBackend(ctx, cfg.GCP)
	case ProviderKubernetes:
		be, err = newKubernetesBackend(cfg.Kubernetes)
	default:
		err = fmt.Errorf("secrets: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	m := &manager{
		backend:          be,
		cacheTTL:         cfg.CacheTTL,
		rotationInterval: cfg.RotationInterval,
		auditEnabled:     cfg.AuditEnabled,
		cache:            make(map[string]cacheEntry),
	}
	if m.cacheTTL <= 0 {
		m.cacheTTL = defaultCacheTTL
	}
	if m.rotationInterval <= 0 {
		m.rotationInterval = defaultRotationInterval
	}
	return m, nil
}

func (m *manager) Close() error {
	return m.backend.Close()
}

// GetSecret returns the payload for ref, from cache when fresh.
func (m *manager) GetSecret(ctx context.Context, ref Reference) (Secret, error) {
	if ref.Path == "" {
		return Secret{}, ErrInvalidReference
	}
	if ref.Provider != ProviderNone && ref.Provider != m.backend.Kind() {
		return Secret{}, fmt.Errorf("secrets: reference %q names provider %q, manager uses %q",
			ref.Name, ref.Provider, m.backend.Kind())
	}

	if secret, ok := m.cached(ref); ok {
		return secret, nil
	}

	secret, err := m.backend.Fetch(ctx, ref)
	if err != nil {
		m.audit(ref, Metadata{}, err)
		return Secret{}, err
	}

	m.stampRotation(&secret)
	m.store(ref, secret)
	m.audit(ref, secret.Metadata, nil)
	m.warnIfRotationOverdue(ref, secret.Metadata)

	return secret, nil
}

// GetString returns the single entry the reference's key selects.
func (m *manager) GetString(ctx context.Context, ref Reference) (string, error) {
	if ref.Key == "" {
		return "", fmt.Errorf("%w: reference %q selects no key", ErrKeyNotFound, ref.Name)
	}

	secret, err := m.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}

	value, ok := secret.Value(ref.Key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, ref.Key)
	}
	return value, nil
}

// stampRotation records when the fetch happened and derives a rotation
// deadline when the backend did not report one.
func (m *manager) stampRotation(secret *Secret) {
	now := time.Now().UTC()
	secret.Metadata.RetrievedAt = now

	if !secret.Metadata.RotateAfter.IsZero() {
		return
	}
	base := secret.Metadata.UpdatedAt
	if base.IsZero() {
		base = secret.Metadata.CreatedAt
	}
	if base.IsZero() {
		base = now
	}
	secret.Metadata.RotateAfter = base.Add(m.rotationInterval)
}

func (m *manager) warnIfRotationOverdue(ref Reference, md Metadata) {
	if md.RotateAfter.IsZero() || time.Now().UTC().Before(md.RotateAfter) {
		return
	}
	logger.Warn("secret rotation overdue",
		zap.String("secret_name", ref.Name),
		zap.String("secret_type", string(ref.Type)),
		zap.Time("last_updated_at", md.UpdatedAt),
		zap.Time("rotate_after", md.RotateAfter))
}

func (m *manager) cached(ref Reference) (Secret, bool) {
	m.mu.RLock()
	entry, ok := m.cache[ref.CacheKey()]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.staleAt) {
		return Secret{}, false
	}
	return entry.secret.clone(), true
}

func (m *manager) store(ref Reference, secret Secret) {
	m.mu.Lock()
	m.cache[ref.CacheKey()] = cacheEntry{
		secret:  secret.clone(),
		staleAt: time.Now().Add(m.cacheTTL),
	}
	m.mu.Unlock()
}

func (m *manager) audit(ref Reference, md Metadata, err error) {
	if !m.auditEnabled {
		return
	}

	fields := []zap.Field{
		zap.String("secret_name", ref.Name),
		zap.String("secret_path", ref.Path),
		zap.String("secret_type", string(ref.Type)),
		zap.String("provider", string(m.backend.Kind())),
	}
	if md.Version != "" {
		fields = append(fields, zap.String("version", md.Version))
	}

	if err != nil {
		logger.Warn("secret fetch failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("secret fetched", fields...)
}

func (s Secret) clone() Secret {
	return Secret{Data: maps.Clone(s.Data), Metadata: s.Metadata}
}
