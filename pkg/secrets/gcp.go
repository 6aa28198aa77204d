package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// GCPConfig configures the Google Secret Manager backend. Without a
// credentials file the client uses application default credentials.
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

type gcpBackend struct {
	client  *secretmanager.Client
	project string
}

func newGCPBackend(ctx context.Context, cfg GCPConfig) (backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("secrets: gcp backend requires project id")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create gcp secret manager client: %w", err)
	}

	return &gcpBackend{client: client, project: cfg.ProjectID}, nil
}

func (g *gcpBackend) Kind() ProviderType {
	return ProviderGCP
}

func (g *gcpBackend) Close() error {
	return g.client.Close()
}

func (g *gcpBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	// A bare name is expanded against the configured project; a full
	// projects/.../versions/... resource name passes through untouched.
	name := ref.Path
	if !strings.HasPrefix(name, "projects/") {
		version := ref.Version
		if version == "" {
			version = "latest"
		}
		name = fmt.Sprintf("projects/%s/secrets/%s/versions/%s", g.project, strings.Trim(ref.Path, "/"), version)
	}

	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: gcp fetch failed for %s: %w", ref.Path, err)
	}

	data := make(map[string]string)
	if resp.Payload != nil {
		if err := json.Unmarshal(resp.Payload.Data, &data); err != nil {
			data = map[string]string{"value": string(resp.Payload.Data)}
		}
	}

	return Secret{
		Data:     data,
		Metadata: Metadata{Version: resp.Name},
	}, nil
}
