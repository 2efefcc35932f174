package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

const (
	execDialTimeout = 5 * time.Second
	execSessionTTL  = 10 * time.Minute
)

var execUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// execTarget remembers where an exec session attaches. Sessions are
// single-use and expire unattached.
type execTarget struct {
	addr      string
	caller    *command.Caller
	expiresAt time.Time
}

var (
	execMu      sync.Mutex
	execTargets = map[string]*execTarget{}
)

type startExecResponse struct {
	SessionID string `json:"sessionId"`
	AttachURL string `json:"attachUrl"`
}

func (s *Server) handleStartExec(w http.ResponseWriter, r *http.Request) {
	var in command.StartExecSessionInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.InstanceID = pathVar(r, "instance")

	res, err := s.commands.StartExecSession(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	execMu.Lock()
	execTargets[res.SessionID] = &execTarget{
		addr:      fmt.Sprintf("[%s]:%d", res.NodeOverlay, s.execPort),
		caller:    s.caller(r, nil),
		expiresAt: time.Now().Add(execSessionTTL),
	}
	execMu.Unlock()

	s.writeJSON(w, http.StatusCreated, &startExecResponse{
		SessionID: res.SessionID,
		AttachURL: "/v1/exec/" + res.SessionID + "/attach",
	})
}

// handleExecAttach upgrades to a websocket and splices it onto a TCP
// connection to the node's exec port. The terminal event fires exactly
// once no matter which side dies first.
func (s *Server) handleExecAttach(w http.ResponseWriter, r *http.Request) {
	sessionID := pathVar(r, "session")

	execMu.Lock()
	target, ok := execTargets[sessionID]
	delete(execTargets, sessionID)
	execMu.Unlock()
	if !ok || time.Now().After(target.expiresAt) {
		s.writeError(w, r, fmt.Errorf("session %s: %w", sessionID, types.ErrExecSessionExpired))
		return
	}

	backend, err := net.DialTimeout("tcp", target.addr, execDialTimeout)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("dial exec backend: %v: %w", err, types.ErrGatewayTimeout))
		return
	}

	ws, err := execUpgrader.Upgrade(w, r, nil)
	if err != nil {
		backend.Close()
		return
	}

	// Session id line first, so the node agent can bind the stream
	fmt.Fprintf(backend, "%s\n", sessionID)

	logger := log.WithComponent("api")
	var once sync.Once
	end := func(exitCode int, reason string) {
		once.Do(func() {
			ws.Close()
			backend.Close()
			caller := command.SystemCaller("api", requestIDFrom(r.Context()))
			if _, err := s.commands.EndExecSession(r.Context(), caller, sessionID, exitCode, reason); err != nil {
				logger.Warn().Err(err).Str("session_id", sessionID).Msg("end exec session")
			}
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				end(0, "client closed")
				return
			}
			if _, err := backend.Write(data); err != nil {
				end(1, "backend write failed")
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := backend.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					end(1, "client write failed")
					return
				}
			}
			if err != nil {
				end(0, "backend closed")
				return
			}
		}
	}()

	wg.Wait()
}
