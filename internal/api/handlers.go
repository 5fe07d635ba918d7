package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/gateway"
	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// errorResponse is the uniform failure payload.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`

	// Partial exec output, present only on timed-out commands.
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(kind gateway.Kind) int {
	switch kind {
	case gateway.KindUnauthenticated:
		return http.StatusUnauthorized
	case gateway.KindForbidden, gateway.KindDenied:
		return http.StatusForbidden
	case gateway.KindInvalidPath, gateway.KindNotADirectory, gateway.KindIsADirectory:
		return http.StatusBadRequest
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindAlreadyExists:
		return http.StatusConflict
	case gateway.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case gateway.KindTimedOut:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// writeError turns any error into the typed failure payload. Internal
// failures are logged with full detail and returned with a generic
// message so host internals never reach a remote caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	msg := err.Error()
	if kind == gateway.KindInternal {
		s.logger.Error("internal failure", "error", err)
		msg = "internal failure"
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: msg, Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports the gateway posture: level, per-category
// permissions, and a non-reversible token fingerprint. It carries no
// secrets and requires no credential, matching the original behavior.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	level := s.auth.Level()
	fingerprint := ""
	if cred, ok, err := s.store.Get(); err == nil && ok {
		fingerprint = security.Fingerprint(cred.Value)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"access_level": string(level),
		"permissions": map[string]bool{
			"read":   level.Allows(security.CategoryRead),
			"write":  level.Allows(security.CategoryWrite),
			"delete": level.Allows(security.CategoryDelete),
			"exec":   level.Allows(security.CategoryExec),
		},
		"token_fingerprint": fingerprint,
		"timestamp":         time.Now().Format(time.RFC3339),
	})
}

// handleList serves GET /fs/ls?path=
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	res, err := s.dispatcher.Dispatch(r.Context(), gateway.Request{
		Op:         gateway.OpList,
		Credential: bearerToken(r),
		Path:       path,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"entries": res,
	})
}

// handleRead serves GET /fs/read?path=
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Query().Get("path")
	res, err := s.dispatcher.Dispatch(r.Context(), gateway.Request{
		Op:         gateway.OpRead,
		Credential: bearerToken(r),
		Path:       path,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	content := res.([]byte)
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"content": string(content),
		"size":    len(content),
	})
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"` // "write" (default) or "append"
}

// handleWrite serves POST /fs/write
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if !decodePost(w, r, &req) {
		return
	}

	mode := gateway.WriteMode(req.Mode)
	switch mode {
	case "", gateway.ModeWrite, gateway.ModeAppend:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "mode must be \"write\" or \"append\"",
			Kind:  string(gateway.KindInvalidPath),
		})
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), gateway.Request{
		Op:         gateway.OpWrite,
		Credential: bearerToken(r),
		Path:       req.Path,
		Content:    []byte(req.Content),
		Mode:       mode,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pathRequest struct {
	Path string `json:"path"`
}

// handleMkdir serves POST /fs/mkdir
func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodePost(w, r, &req) {
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), gateway.Request{
		Op:         gateway.OpMkdir,
		Credential: bearerToken(r),
		Path:       req.Path,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRemove serves POST /fs/rm
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodePost(w, r, &req) {
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), gateway.Request{
		Op:         gateway.OpRemove,
		Credential: bearerToken(r),
		Path:       req.Path,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type execRequest struct {
	Cmd        []string `json:"cmd"`
	Cwd        string   `json:"cwd,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"`
	Shell      bool     `json:"shell,omitempty"`
}

func (req *execRequest) toGatewayRequest(credential string) (gateway.Request, error) {
	if len(req.Cmd) == 0 {
		return gateway.Request{}, errors.New("cmd is required")
	}
	return gateway.Request{
		Op:         gateway.OpExecute,
		Credential: credential,
		Command:    req.Cmd[0],
		Args:       req.Cmd[1:],
		Dir:        req.Cwd,
		Timeout:    time.Duration(req.TimeoutSec) * time.Second,
		Shell:      req.Shell,
	}, nil
}

// handleExec serves POST /exec
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if !decodePost(w, r, &req) {
		return
	}

	gwReq, err := req.toGatewayRequest(bearerToken(r))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: string(gateway.KindDenied)})
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), gwReq)
	if err != nil {
		// A timed-out command still carries its partial output.
		if result, ok := res.(*gateway.ExecResult); ok && gateway.KindOf(err) == gateway.KindTimedOut {
			writeJSON(w, statusFor(gateway.KindTimedOut), errorResponse{
				Error:  err.Error(),
				Kind:   string(gateway.KindTimedOut),
				Stdout: result.Stdout,
				Stderr: result.Stderr,
			})
			return
		}
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// decodePost enforces the POST method and decodes a JSON body, writing the
// failure response itself when either fails.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "bad_request"})
		return false
	}
	return true
}
