// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// Provider loads configuration from explicit options.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, string, error)
}

type fileProvider struct{}

// NewProvider creates the file-and-environment backed provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load implements Provider.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return Load(ctx, opts)
}

// StaticProvider returns cfg for every Load call. It still resolves relative
// paths against opts.SourceDir.
type StaticProvider struct {
	Config *Config
}

// Load implements Provider.
func (p *StaticProvider) Load(_ context.Context, opts LoadOptions) (*Config, string, error) {
	cfg := *p.Config
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	if err := cfg.ResolvePaths(opts.SourceDir); err != nil {
		return nil, "", err
	}
	return &cfg, "", nil
}
