// Package federation holds a node's view of its peers: the trust state of
// credentials and addresses discovered through registries, pooled gRPC
// connections to those peers, and the registry metrics.
package federation
