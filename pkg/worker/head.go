package worker

import (
	"context"
	"fmt"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/rpcpool"
)

// HeadReader reads chain heads through the endpoint manager
type HeadReader struct {
	endpoints Endpoints
	clients   ClientSource
	types     map[string]chain.Type
}

// NewHeadReader creates a head reader. chainTypes maps chain names to their type.
func NewHeadReader(endpoints Endpoints, clients ClientSource, chainTypes map[string]chain.Type) *HeadReader {
	return &HeadReader{endpoints: endpoints, clients: clients, types: chainTypes}
}

// ChainType returns the type of a configured chain
func (h *HeadReader) ChainType(chainName string) (chain.Type, bool) {
	t, ok := h.types[chainName]
	return t, ok
}

// LatestBlock returns the head block of chainName
func (h *HeadReader) LatestBlock(ctx context.Context, chainName string) (uint64, error) {
	chainType, ok := h.types[chainName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", rpcpool.ErrUnknownChain, chainName)
	}

	var head uint64
	err := h.endpoints.Do(ctx, chainName, func(ctx context.Context, url string) error {
		client, err := h.clients.Get(ctx, chainType, url)
		if err != nil {
			return rpcpool.Transient(err)
		}
		head, err = client.LatestBlock(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}
