package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashpect/cachefirst/pkg/utils"
)

// Network sends requests to the origin. It satisfies cache.Fetcher.
type Network struct {
	client *http.Client
}

func NewNetwork(client *http.Client) *Network {
	if client == nil {
		client = NewClient()
	}
	return &Network{client: client}
}

// Fetch performs req as-is and returns whatever the origin answers, error
// statuses included. Only transport failures are returned as errors.
func (n *Network) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	outReq := req.Clone(ctx)

	// Required for http.Client.Do
	outReq.RequestURI = ""
	if outReq.Header != nil {
		RemoveHopByHopHeaders(outReq.Header)
	}

	utils.PrintRequest(outReq, "Network fetch")
	resp, err := n.client.Do(outReq)
	if err != nil {
		return nil, fmt.Errorf("network fetch %s: %w", req.URL, err)
	}
	RemoveHopByHopHeaders(resp.Header)
	return resp, nil
}
