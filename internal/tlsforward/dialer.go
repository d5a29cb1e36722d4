package tlsforward

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// RelayDialer is the production Tunnel implementation. It speaks the relay
// control channel: a TCP connection carrying line-delimited JSON frames.
// Traffic forwarding and certificate issuance happen relay-side; the node
// only registers, heartbeats, and requests renewals.
type RelayDialer struct {
	nodeID      string
	dialTimeout time.Duration
	heartbeat   time.Duration
	logger      *log.Logger
}

// RelayDialerOptions configure a RelayDialer.
type RelayDialerOptions struct {
	// NodeID identifies this node to the relay.
	NodeID string
	// DialTimeout bounds each relay connection attempt. Defaults to 10s.
	DialTimeout time.Duration
	// Heartbeat is the keepalive interval. Defaults to 30s.
	Heartbeat time.Duration
	Logger    *log.Logger
}

// NewRelayDialer creates a dialer for the relay control channel.
func NewRelayDialer(opts RelayDialerOptions) *RelayDialer {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RelayDialer{
		nodeID:      opts.NodeID,
		dialTimeout: dialTimeout,
		heartbeat:   heartbeat,
		logger:      logger,
	}
}

// controlFrame is one line on the control channel, both directions.
type controlFrame struct {
	Op         string `json:"op"`
	NodeID     string `json:"node_id,omitempty"`
	Domain     string `json:"domain,omitempty"`
	CertExpiry string `json:"cert_expiry,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dial tries each relay address in order and returns the first established
// connection. All addresses failing yields the last error.
func (d *RelayDialer) Dial(ctx context.Context, relays []string) (Conn, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("tlsforward: no relay addresses configured")
	}

	var lastErr error
	for _, addr := range relays {
		conn, err := d.dialOne(ctx, addr)
		if err != nil {
			d.logger.Printf("[TLSForward] relay %s: %v", addr, err)
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("tlsforward: all relays failed: %w", lastErr)
}

func (d *RelayDialer) dialOne(ctx context.Context, addr string) (*relayConn, error) {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	deadline := time.Now().Add(d.dialTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	raw.SetDeadline(deadline)

	reader := bufio.NewReader(raw)
	register := controlFrame{Op: "register", NodeID: d.nodeID}
	resp, err := roundTrip(raw, reader, register)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	domain, expiry, err := parseGrant(resp)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	raw.SetDeadline(time.Time{})

	rc := &relayConn{
		raw:     raw,
		logger:  d.logger,
		nodeID:  d.nodeID,
		domain:  domain,
		expiry:  expiry,
		replies: make(chan controlFrame, 1),
		done:    make(chan struct{}),
	}
	go rc.readLoop(reader)
	go rc.heartbeatLoop(d.heartbeat)
	return rc, nil
}

func roundTrip(w net.Conn, r *bufio.Reader, frame controlFrame) (controlFrame, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return controlFrame{}, err
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return controlFrame{}, err
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		return controlFrame{}, err
	}
	var resp controlFrame
	if err := json.Unmarshal(line, &resp); err != nil {
		return controlFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return resp, nil
}

func parseGrant(frame controlFrame) (string, time.Time, error) {
	if frame.Error != "" {
		return "", time.Time{}, fmt.Errorf("relay refused: %s", frame.Error)
	}
	if frame.Domain == "" {
		return "", time.Time{}, fmt.Errorf("relay grant missing domain")
	}
	expiry, err := time.Parse(time.RFC3339, frame.CertExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("relay grant expiry: %w", err)
	}
	return frame.Domain, expiry, nil
}

// relayConn is a live control-channel connection.
type relayConn struct {
	raw    net.Conn
	logger *log.Logger
	nodeID string
	domain string

	mu     sync.Mutex
	expiry time.Time

	writeMu sync.Mutex
	replies chan controlFrame

	closeOnce sync.Once
	done      chan struct{}
}

func (c *relayConn) Domain() string { return c.domain }

func (c *relayConn) CertificateExpiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

// Renew asks the relay to reissue the certificate and waits for the grant.
func (c *relayConn) Renew(ctx context.Context) (time.Time, error) {
	if err := c.send(controlFrame{Op: "renew", Domain: c.domain}); err != nil {
		return time.Time{}, fmt.Errorf("tlsforward: renew: %w", err)
	}

	select {
	case resp := <-c.replies:
		_, expiry, err := parseGrant(resp)
		if err != nil {
			return time.Time{}, fmt.Errorf("tlsforward: renew: %w", err)
		}
		c.mu.Lock()
		c.expiry = expiry
		c.mu.Unlock()
		return expiry, nil
	case <-c.done:
		return time.Time{}, fmt.Errorf("tlsforward: renew: connection dropped")
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

func (c *relayConn) Done() <-chan struct{} { return c.done }

func (c *relayConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.raw.Close()
}

func (c *relayConn) send(frame controlFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(append(payload, '\n'))
	return err
}

// readLoop dispatches inbound frames until the connection drops. Grant
// frames answer a pending renew; anything else is relay chatter we only log.
func (c *relayConn) readLoop(reader *bufio.Reader) {
	defer c.Close()
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.logger.Printf("[TLSForward] malformed relay frame: %v", err)
			continue
		}
		switch frame.Op {
		case "heartbeat":
		case "grant":
			select {
			case c.replies <- frame:
			default:
			}
		default:
			c.logger.Printf("[TLSForward] unexpected relay frame op %q", frame.Op)
		}
	}
}

func (c *relayConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(controlFrame{Op: "heartbeat", NodeID: c.nodeID}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
