package daemon

import (
	"github.com/gatenode-ai/gatenode/internal/access"
	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/tlsforward"
)

// request is the tagged union flowing through the actor mailbox. Every
// caller-initiated variant carries a single-use buffered reply channel;
// abandon terminates with the buffered value unread, never a blocked actor.
type request interface {
	// abort delivers ErrDaemonClosed to the request's reply channel.
	// It is invoked when the actor drains its mailbox after termination.
	abort()
}

type statusReply struct {
	status DaemonStatus
	err    error
}

type getStatusRequest struct {
	reply chan statusReply
}

func (r *getStatusRequest) abort() {
	r.reply <- statusReply{err: ErrDaemonClosed}
}

type configReply struct {
	settings config.Settings
	err      error
}

type getConfigRequest struct {
	identity access.Identity
	reply    chan configReply
}

func (r *getConfigRequest) abort() {
	r.reply <- configReply{err: ErrDaemonClosed}
}

type updateConfigRequest struct {
	identity access.Identity
	settings config.Settings
	reply    chan error
}

func (r *updateConfigRequest) abort() {
	r.reply <- ErrDaemonClosed
}

type restartRequest struct {
	identity access.Identity
	reply    chan error
}

func (r *restartRequest) abort() {
	r.reply <- ErrDaemonClosed
}

type shutdownRequest struct {
	identity access.Identity
	reply    chan error
}

func (r *shutdownRequest) abort() {
	r.reply <- ErrDaemonClosed
}

type userReply struct {
	userID string
	err    error
}

type createFirstUserRequest struct {
	name     string
	password string
	reply    chan userReply
}

func (r *createFirstUserRequest) abort() {
	r.reply <- userReply{err: ErrDaemonClosed}
}

// tlsforwardStatusUpdate is the distinguished request kind the supervisor
// pushes into the mailbox. It is not caller-initiated and has no reply.
type tlsforwardStatusUpdate struct {
	status tlsforward.Status
}

func (r *tlsforwardStatusUpdate) abort() {}
