// Package proxy routes /proxy/{deploymentID} traffic to deployment backends.
package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Resolver maps a deployment to its backend address.
type Resolver interface {
	ResolveTarget(workspaceID, deploymentID string) *url.URL
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(workspaceID, deploymentID string) *url.URL

// ResolveTarget implements Resolver.
func (f ResolverFunc) ResolveTarget(workspaceID, deploymentID string) *url.URL {
	return f(workspaceID, deploymentID)
}

// DNSResolver derives in-cluster service names. Each workspace is a
// namespace named <prefix>-<workspaceID> holding one service per deployment
// named <prefix>-<deploymentID>.
type DNSResolver struct {
	Scheme        string
	Prefix        string
	ClusterDomain string
	Port          int
}

// ResolveTarget builds the backend URL. It is deterministic and never does
// network I/O; unknown names fail later at dial time.
func (r DNSResolver) ResolveTarget(workspaceID, deploymentID string) *url.URL {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "agora"
	}
	domain := r.ClusterDomain
	if domain == "" {
		domain = "svc.cluster.local"
	}
	host := fmt.Sprintf("%s-%s.%s-%s.%s", prefix, deploymentID, prefix, workspaceID, domain)
	if r.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(r.Port))
	}
	return &url.URL{Scheme: scheme, Host: host}
}
