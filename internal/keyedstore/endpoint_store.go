package keyedstore

import "github.com/halodata/querygate/internal/endpoint"

// NewEndpointStore creates a store keyed by server endpoint, comparing
// endpoints on their canonical scheme://host:port form.
func NewEndpointStore[V any]() *Store[endpoint.Endpoint, V] {
	return New[endpoint.Endpoint, V](endpoint.Codec{})
}
