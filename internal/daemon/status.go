package daemon

import (
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
)

// DaemonStatus is the externally visible snapshot of the node. It is derived
// fresh on every request, never cached.
type DaemonStatus struct {
	Running           bool              `json:"running"`
	ListenAddress     string            `json:"listen_address"`
	UpstreamCount     int               `json:"upstream_count"`
	UserCount         int               `json:"user_count"`
	TLSForwardEnabled bool              `json:"tlsforward_enabled"`
	TLSForwardStatus  tlsforward.Status `json:"tlsforward_status"`
	NeedsBootstrap    bool              `json:"needs_bootstrap"`
}
