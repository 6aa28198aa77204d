package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig configures the HashiCorp Vault backend. TLS settings come
// from the standard VAULT_* environment variables.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	MountPath string
}

type vaultBackend struct {
	client *vault.Client
	mount  string
}

func newVaultBackend(cfg VaultConfig) (backend, error) {
	if cfg.Address == "" || cfg.Token == "" {
		return nil, fmt.Errorf("secrets: vault backend requires address and token")
	}

	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.Address

	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := strings.Trim(cfg.MountPath, "/")
	if mount == "" {
		mount = "secret"
	}

	return &vaultBackend{client: client, mount: mount}, nil
}

func (v *vaultBackend) Kind() ProviderType {
	return ProviderVault
}

func (v *vaultBackend) Close() error {
	// The vault client has no close operation.
	return nil
}

func (v *vaultBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	mount := v.mount
	if ref.Mount != "" {
		mount = strings.Trim(ref.Mount, "/")
	}

	// KVv2 addresses secrets without the data/ or metadata/ API segments.
	path := strings.Trim(ref.Path, "/")
	path = strings.TrimPrefix(path, "data/")
	path = strings.TrimPrefix(path, "metadata/")
	if path == "" {
		return Secret{}, ErrInvalidReference
	}

	kv := v.client.KVv2(mount)

	var (
		kvSecret *vault.KVSecret
		err      error
	)
	if ref.Version == "" {
		kvSecret, err = kv.Get(ctx, path)
	} else {
		version, convErr := strconv.Atoi(ref.Version)
		if convErr != nil {
			return Secret{}, fmt.Errorf("secrets: invalid vault version %q: %w", ref.Version, convErr)
		}
		kvSecret, err = kv.GetVersion(ctx, path, version)
	}
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return Secret{}, fmt.Errorf("secrets: vault path %s not found", ref.Path)
		}
		return Secret{}, err
	}

	data := make(map[string]string, len(kvSecret.Data))
	for k, raw := range kvSecret.Data {
		data[k] = fmt.Sprint(raw)
	}

	md := Metadata{}
	if vm := kvSecret.VersionMetadata; vm != nil {
		md.Version = strconv.Itoa(vm.Version)
		md.CreatedAt = vm.CreatedTime
		md.UpdatedAt = vm.CreatedTime
	}

	return Secret{Data: data, Metadata: md}, nil
}
