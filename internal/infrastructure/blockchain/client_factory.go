package blockchain

import (
	"context"
	"fmt"
	"sync"
)

var beforeGetEVMClientWriteLockHook = func(rpcURL string) {}

// ClientFactory manages blockchain clients
type ClientFactory struct {
	decoder    *EscrowEventDecoder
	evmClients map[string]*EVMClient
	mu         sync.RWMutex
}

// NewClientFactory creates a new client factory whose clients decode escrow
// events with decoder
func NewClientFactory(decoder *EscrowEventDecoder) *ClientFactory {
	return &ClientFactory{
		decoder:    decoder,
		evmClients: make(map[string]*EVMClient),
	}
}

// GetEVMClient returns an EVM client for the given RPC URL
// If a client already exists for the URL, it returns the cached client
func (f *ClientFactory) GetEVMClient(ctx context.Context, rpcURL string) (*EVMClient, error) {
	f.mu.RLock()
	client, ok := f.evmClients[rpcURL]
	f.mu.RUnlock()
	if ok {
		return client, nil
	}

	beforeGetEVMClientWriteLockHook(rpcURL)
	f.mu.Lock()
	defer f.mu.Unlock()

	// Double check
	if client, ok := f.evmClients[rpcURL]; ok {
		return client, nil
	}

	newClient, err := NewEVMClient(ctx, rpcURL, f.decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM client: %w", err)
	}

	f.evmClients[rpcURL] = newClient
	return newClient, nil
}

// NewFailover dials every rpcURL plus wsURL (when set) and joins them into a
// FailoverClient. Endpoints that cannot be dialled are skipped; at least one
// must succeed.
func (f *ClientFactory) NewFailover(ctx context.Context, rpcURLs []string, wsURL string, failThreshold int) (*FailoverClient, error) {
	var (
		clients []Client
		lastErr error
	)
	for _, url := range rpcURLs {
		c, err := f.GetEVMClient(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no rpc urls configured")
		}
		return nil, lastErr
	}

	var subscriber Client
	if wsURL != "" {
		ws, err := f.GetEVMClient(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("dial websocket endpoint: %w", err)
		}
		subscriber = ws
	}
	return NewFailoverClient(clients, subscriber, failThreshold)
}

// RegisterEVMClient injects/overrides cached client for a specific rpcURL.
// Useful for deterministic unit tests.
func (f *ClientFactory) RegisterEVMClient(rpcURL string, client *EVMClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evmClients[rpcURL] = client
}

// Close closes every cached client
func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, c := range f.evmClients {
		c.Close()
		delete(f.evmClients, url)
	}
}
