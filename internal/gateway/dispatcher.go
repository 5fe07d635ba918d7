package gateway

import (
	"context"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// Op names one gateway operation.
type Op string

const (
	OpList    Op = "list"
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpMkdir   Op = "mkdir"
	OpRemove  Op = "remove"
	OpExecute Op = "execute"
)

// opCategories maps every operation to its single category. The mapping is
// fixed; a request that names an unknown operation never reaches a gateway.
var opCategories = map[Op]security.Category{
	OpList:    security.CategoryRead,
	OpRead:    security.CategoryRead,
	OpWrite:   security.CategoryWrite,
	OpMkdir:   security.CategoryWrite,
	OpRemove:  security.CategoryDelete,
	OpExecute: security.CategoryExec,
}

// Request is the transport-agnostic request descriptor: the credential, the
// operation, and the operation's parameters.
type Request struct {
	Op         Op
	Credential string

	// Filesystem parameters
	Path    string
	Content []byte
	Mode    WriteMode

	// Exec parameters
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
	Shell   bool
}

// WriteResult acknowledges a write.
type WriteResult struct {
	Path    string `json:"path"`
	Written int    `json:"written"`
	Mode    string `json:"mode"`
}

// PathResult acknowledges a mkdir or remove.
type PathResult struct {
	Path string `json:"path"`
}

// Dispatcher authenticates a request and routes it to the matching gateway.
type Dispatcher struct {
	auth   *security.Authenticator
	grants *security.GrantIssuer
	fs     *FSGateway
	exec   *ExecGateway
}

// NewDispatcher wires the authenticator, grant issuer, and gateways.
func NewDispatcher(auth *security.Authenticator, grants *security.GrantIssuer, fs *FSGateway, exec *ExecGateway) *Dispatcher {
	return &Dispatcher{auth: auth, grants: grants, fs: fs, exec: exec}
}

// Authorize authenticates a credential for one operation and consumes the
// resulting grant. Used by transports that drive a gateway directly (the
// websocket exec stream) instead of going through Dispatch.
func (d *Dispatcher) Authorize(credential string, op Op) error {
	cat, ok := opCategories[op]
	if !ok {
		return E(KindNotFound, "unknown operation %q", op)
	}
	grant, err := d.auth.Authenticate(credential, cat)
	if err != nil {
		return err
	}
	return d.grants.Redeem(grant, cat)
}

// Dispatch authorizes and executes one request. For execute, a timed-out
// command returns both the partial result and the timed_out error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	cat, ok := opCategories[req.Op]
	if !ok {
		return nil, E(KindNotFound, "unknown operation %q", req.Op)
	}

	grant, err := d.auth.Authenticate(req.Credential, cat)
	if err != nil {
		return nil, err
	}
	if err := d.grants.Redeem(grant, cat); err != nil {
		return nil, err
	}

	switch req.Op {
	case OpList:
		return d.fs.List(req.Path)
	case OpRead:
		return d.fs.Read(req.Path)
	case OpWrite:
		mode := req.Mode
		if mode == "" {
			mode = ModeWrite
		}
		n, err := d.fs.Write(req.Path, req.Content, mode)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Path: req.Path, Written: n, Mode: string(mode)}, nil
	case OpMkdir:
		path, err := d.fs.Mkdir(req.Path)
		if err != nil {
			return nil, err
		}
		return &PathResult{Path: path}, nil
	case OpRemove:
		path, err := d.fs.Remove(req.Path)
		if err != nil {
			return nil, err
		}
		return &PathResult{Path: path}, nil
	case OpExecute:
		return d.exec.Execute(ctx, ExecRequest{
			Command: req.Command,
			Args:    req.Args,
			Dir:     req.Dir,
			Timeout: req.Timeout,
			Shell:   req.Shell,
		})
	}
	return nil, E(KindNotFound, "unknown operation %q", req.Op)
}
