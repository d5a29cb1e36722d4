package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicDaemonStatus     Topic = "daemon.status"
	TopicTLSForwardStatus Topic = "tlsforward.status"
	TopicConfigUpdated    Topic = "config.updated"
	TopicAuthBootstrap    Topic = "auth.bootstrap"
)

// Source describes which component produced an event.
type Source string

const (
	SourceDaemon     Source = "daemon"
	SourceTLSForward Source = "tlsforward"
	SourceServer     Source = "server"
	SourceClient     Source = "client"
	SourceUnknown    Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// DaemonStatusEvent carries a point-in-time snapshot of the daemon.
type DaemonStatusEvent struct {
	Running           bool
	ListenAddress     string
	UpstreamCount     int
	UserCount         int
	TLSForwardEnabled bool
	TLSForwardState   string
	TLSForwardDomain  string
	NeedsBootstrap    bool
}

// TLSForwardStatusEvent reports a relay supervisor state transition.
// Domain is set only when State is "connected"; Message only on "error".
type TLSForwardStatusEvent struct {
	State   string
	Domain  string
	Message string
}

// ConfigUpdatedEvent is published after settings are validated, persisted,
// and reconciled against running subsystems.
type ConfigUpdatedEvent struct {
	UpdatedBy     string
	UpstreamCount int
	ListenAddress string
}

// BootstrapCompletedEvent is published exactly once per node lifetime,
// when the first user account is created.
type BootstrapCompletedEvent struct {
	UserID   string
	UserName string
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish and SubscribeTo.

// Daemon groups daemon-level topic descriptors.
var Daemon = struct {
	Status TopicDef[DaemonStatusEvent]
}{
	Status: NewTopicDef[DaemonStatusEvent](TopicDaemonStatus),
}

// TLSForward groups relay supervisor topic descriptors.
var TLSForward = struct {
	Status TopicDef[TLSForwardStatusEvent]
}{
	Status: NewTopicDef[TLSForwardStatusEvent](TopicTLSForwardStatus),
}

// Config groups configuration topic descriptors.
var Config = struct {
	Updated TopicDef[ConfigUpdatedEvent]
}{
	Updated: NewTopicDef[ConfigUpdatedEvent](TopicConfigUpdated),
}

// Auth groups authentication topic descriptors.
var Auth = struct {
	Bootstrap TopicDef[BootstrapCompletedEvent]
}{
	Bootstrap: NewTopicDef[BootstrapCompletedEvent](TopicAuthBootstrap),
}
