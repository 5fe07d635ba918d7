package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/trapdoor-sh/trapdoor/internal/gateway"
)

// streamFrame is one message of the exec stream protocol. Output frames
// carry stream+data; the final frame carries done plus the exit summary,
// or an error.
type streamFrame struct {
	Stream string `json:"stream,omitempty"` // "stdout" or "stderr"
	Data   string `json:"data,omitempty"`

	Done       bool   `json:"done,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// handleExecStream upgrades to a WebSocket and streams command output live.
//
// Flow:
//  1. Accept the upgrade.
//  2. Read one JSON frame: the exec request, credential included (browser
//     WebSocket clients cannot set an Authorization header).
//  3. Authorize for exec, run via ExecuteStream, forwarding each output
//     chunk as a frame.
//  4. Send a final done/error frame and close.
func (s *Server) handleExecStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is no gate here; the credential is
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()

	var req struct {
		execRequest
		Token string `json:"token,omitempty"`
	}
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		return
	}

	credential := req.Token
	if credential == "" {
		credential = bearerToken(r)
	}

	if err := s.dispatcher.Authorize(credential, gateway.OpExecute); err != nil {
		s.writeStreamError(ctx, conn, err)
		return
	}

	gwReq, err := req.execRequest.toGatewayRequest(credential)
	if err != nil {
		_ = wsjson.Write(ctx, conn, streamFrame{Done: true, Error: err.Error(), Kind: string(gateway.KindDenied)})
		return
	}

	// Writes come from the command's output pump goroutines; serialize
	// them onto the connection.
	var mu sync.Mutex
	sink := func(stream string, chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		_ = wsjson.Write(ctx, conn, streamFrame{Stream: stream, Data: string(chunk)})
	}

	result, execErr := s.exec.ExecuteStream(ctx, gateway.ExecRequest{
		Command: gwReq.Command,
		Args:    gwReq.Args,
		Dir:     gwReq.Dir,
		Timeout: gwReq.Timeout,
		Shell:   gwReq.Shell,
	}, sink)

	mu.Lock()
	defer mu.Unlock()
	if execErr != nil && gateway.KindOf(execErr) != gateway.KindTimedOut {
		s.writeStreamError(ctx, conn, execErr)
		return
	}

	frame := streamFrame{Done: true}
	if result != nil {
		frame.ExitCode = result.ExitCode
		frame.DurationMs = result.Duration.Milliseconds()
	}
	if execErr != nil {
		frame.Error = execErr.Error()
		frame.Kind = string(gateway.KindTimedOut)
	}
	_ = wsjson.Write(ctx, conn, frame)
}

func (s *Server) writeStreamError(ctx context.Context, conn *websocket.Conn, err error) {
	kind := gateway.KindOf(err)
	msg := err.Error()
	if kind == gateway.KindInternal {
		s.logger.Error("internal failure", "error", err)
		msg = "internal failure"
	}
	_ = wsjson.Write(ctx, conn, streamFrame{Done: true, Error: msg, Kind: string(kind)})
}
