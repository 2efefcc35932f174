package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/types"
)

// nodeTokenTTL is long-lived; nodes re-enroll if their token lapses
const nodeTokenTTL = 365 * 24 * time.Hour

func timeNow() time.Time { return time.Now().UTC() }

type nodeEnrollRequest struct {
	EnrollToken     string            `json:"enrollToken"`
	WireGuardPubKey string            `json:"wireguardPubKey"`
	Arch            string            `json:"arch"`
	CPUCores        float64           `json:"cpuCores"`
	MemoryBytes     int64             `json:"memoryBytes"`
	Labels          map[string]string `json:"labels"`
}

type nodeEnrollResponse struct {
	NodeID      string `json:"nodeId"`
	OverlayIPv6 string `json:"overlayIpv6"`
	NodeToken   string `json:"nodeToken"`
}

// handleNodeEnroll is the HTTP twin of the gRPC Enroll method, for
// nodes bootstrapping before their gRPC channel is up.
func (s *Server) handleNodeEnroll(w http.ResponseWriter, r *http.Request) {
	var in nodeEnrollRequest
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(in.EnrollToken), []byte(s.enrollToken)) != 1 {
		s.writeError(w, r, fmt.Errorf("invalid enroll token: %w", types.ErrUnauthorized))
		return
	}

	caller := command.SystemCaller("api", requestIDFrom(r.Context()))
	caller.Body = body
	res, err := s.commands.EnrollNode(r.Context(), caller, &command.EnrollNodeInput{
		WireGuardPubKey: in.WireGuardPubKey,
		Arch:            in.Arch,
		CPUCores:        in.CPUCores,
		MemoryBytes:     in.MemoryBytes,
		Labels:          in.Labels,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.authn.IssueToken(r.Context(), types.ActorServicePrincipal, res.NodeID, "", auth.RoleNode, nodeTokenTTL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &nodeEnrollResponse{
		NodeID:      res.NodeID,
		OverlayIPv6: res.OverlayIPv6,
		NodeToken:   token,
	})
}

// requireNode allows the node itself or an admin
func (s *Server) requireNode(r *http.Request, nodeID string) error {
	p := principalFrom(r.Context())
	if p == nil {
		return types.ErrUnauthorized
	}
	if p.Role == auth.RoleAdmin {
		return nil
	}
	if p.Role == auth.RoleNode && p.ActorID == nodeID {
		return nil
	}
	return fmt.Errorf("token not valid for node %s: %w", nodeID, types.ErrForbidden)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.views.ListNodes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": nodes})
}

type heartbeatRequest struct {
	Allocatable types.NodeAllocatable `json:"allocatable"`
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := pathVar(r, "node")
	if err := s.requireNode(r, nodeID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var in heartbeatRequest
	if _, err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.views.RecordHeartbeat(r.Context(), nodeID, in.Allocatable, timeNow()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodePlan(w http.ResponseWriter, r *http.Request) {
	nodeID := pathVar(r, "node")
	if err := s.requireNode(r, nodeID); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.plans.Build(r.Context(), nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type setNodeStateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (s *Server) handleSetNodeState(w http.ResponseWriter, r *http.Request) {
	var in setNodeStateRequest
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.commands.SetNodeState(r.Context(), s.caller(r, body), pathVar(r, "node"), types.NodeState(in.State), in.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

type instanceStatusRequest struct {
	Status   string `json:"status"`
	BootID   string `json:"bootId"`
	ExitCode *int   `json:"exitCode"`
	Reason   string `json:"reason"`
}

func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request) {
	nodeID := pathVar(r, "node")
	if err := s.requireNode(r, nodeID); err != nil {
		s.writeError(w, r, err)
		return
	}
	var in instanceStatusRequest
	if _, err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	inst, err := s.views.GetInstance(r.Context(), pathVar(r, "instance"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if inst.NodeID != nodeID {
		s.writeError(w, r, fmt.Errorf("instance not placed on node %s: %w", nodeID, types.ErrForbidden))
		return
	}

	caller := command.SystemCaller("api", requestIDFrom(r.Context()))
	receipt, err := s.commands.ReportInstanceStatus(r.Context(), caller, pathVar(r, "instance"), types.InstanceStatus(in.Status), in.BootID, in.ExitCode, in.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}
