package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/insightx/pkg/credential"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Provider is a completion backend bound to one credential
type Provider interface {
	// Call makes a completion call
	Call(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name
	Provider() string
}

// Factory builds a provider for a pooled credential
type Factory interface {
	NewProvider(cred credential.Credential) (Provider, error)
}

// FactoryConfig selects the backend
type FactoryConfig struct {
	Kind    string
	BaseURL string
}

// ClientFactory creates providers and caches one client per key.
type ClientFactory struct {
	cfg   FactoryConfig
	mu    sync.Mutex
	cache map[string]Provider
}

// NewClientFactory creates a factory for the given backend kind.
func NewClientFactory(cfg FactoryConfig) (*ClientFactory, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindOpenAI
	}
	if cfg.Kind != KindOpenAI && cfg.Kind != KindAnthropic {
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
	return &ClientFactory{
		cfg:   cfg,
		cache: make(map[string]Provider),
	}, nil
}

// NewProvider returns the cached provider for the credential, creating it on first use.
func (f *ClientFactory) NewProvider(cred credential.Credential) (Provider, error) {
	if cred.Key == "" {
		return nil, fmt.Errorf("credential %d has no key", cred.Number())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[cred.Key]; ok {
		return p, nil
	}

	var p Provider
	switch f.cfg.Kind {
	case KindAnthropic:
		p = NewAnthropicProvider(cred.Key, f.cfg.BaseURL)
	default:
		p = NewOpenAIProvider(cred.Key, f.cfg.BaseURL)
	}
	f.cache[cred.Key] = p
	return p, nil
}
