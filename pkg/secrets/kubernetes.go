package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KubernetesConfig configures the filesystem backend used for mounted
// Kubernetes secrets.
type KubernetesConfig struct {
	BasePath string
}

type kubernetesBackend struct {
	basePath string
}

func newKubernetesBackend(cfg KubernetesConfig) (backend, error) {
	base := cfg.BasePath
	if base == "" {
		base = "/var/run/secrets"
	}

	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("secrets: kubernetes secrets base %s not accessible: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets: kubernetes secrets base %s is not a directory", base)
	}

	return &kubernetesBackend{basePath: base}, nil
}

func (k *kubernetesBackend) Kind() ProviderType {
	return ProviderKubernetes
}

func (k *kubernetesBackend) Close() error {
	return nil
}

// Fetch reads a mounted secret. A directory path yields one entry per file,
// matching how Kubernetes projects each secret key as a file; a file path
// yields a single entry named after the file.
func (k *kubernetesBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	target := filepath.Join(k.basePath, ref.Path)
	info, err := os.Stat(target)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: kubernetes path %s not found: %w", target, err)
	}

	data := make(map[string]string)

	if !info.IsDir() {
		content, err := os.ReadFile(target)
		if err != nil {
			return Secret{}, err
		}
		data[filepath.Base(target)] = strings.TrimSpace(string(content))
		return Secret{Data: data}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return Secret{}, err
	}
	for _, entry := range entries {
		// Mounted secrets carry ..data and ..<timestamp> bookkeeping
		// entries for atomic updates; only the projected keys matter.
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "..") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(target, entry.Name()))
		if err != nil {
			return Secret{}, err
		}
		data[entry.Name()] = strings.TrimSpace(string(content))
	}

	return Secret{Data: data}, nil
}
