package nodeapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/secrets"
	"github.com/plfm/plfm/pkg/types"
)

// nodeTokenTTL is long-lived; nodes re-enroll if their token lapses
const nodeTokenTTL = 365 * 24 * time.Hour

// Server implements NodeAgentServer against the control plane state
type Server struct {
	commands    *command.Service
	plans       *plan.Builder
	authn       *auth.Authenticator
	secretsMgr  *secrets.Manager
	enrollToken string
}

// NewServer creates the node API backend. enrollToken is the shared
// bootstrap secret new nodes present once.
func NewServer(commands *command.Service, plans *plan.Builder, authn *auth.Authenticator, secretsMgr *secrets.Manager, enrollToken string) *Server {
	return &Server{
		commands:    commands,
		plans:       plans,
		authn:       authn,
		secretsMgr:  secretsMgr,
		enrollToken: enrollToken,
	}
}

// Enroll registers a node and issues its long-lived token. Re-enrolling
// an already known WireGuard key returns the same identity with a fresh
// token.
func (s *Server) Enroll(ctx context.Context, req *EnrollRequest) (*EnrollResponse, error) {
	if subtle.ConstantTimeCompare([]byte(req.EnrollToken), []byte(s.enrollToken)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid enroll token")
	}

	caller := command.SystemCaller("nodeapi", uuid.NewString())
	res, err := s.commands.EnrollNode(ctx, caller, &command.EnrollNodeInput{
		WireGuardPubKey: req.WireGuardPubKey,
		Arch:            req.Arch,
		CPUCores:        req.CPUCores,
		MemoryBytes:     req.MemoryBytes,
		Labels:          req.Labels,
	})
	if err != nil {
		return nil, rpcError(err)
	}

	token, err := s.authn.IssueToken(ctx, types.ActorServicePrincipal, res.NodeID, "", auth.RoleNode, nodeTokenTTL)
	if err != nil {
		return nil, rpcError(err)
	}

	logger := log.WithComponent("nodeapi")
	logger.Info().
		Str("node_id", res.NodeID).
		Str("arch", req.Arch).
		Bool("reenroll", res.Receipt.Replayed).
		Msg("node enrolled")

	return &EnrollResponse{NodeID: res.NodeID, OverlayIPv6: res.OverlayIPv6, NodeToken: token}, nil
}

// Heartbeat records liveness and returns the spec version the node
// should be running, so the agent can skip GetPlan when nothing changed.
func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.authNode(ctx, req.NodeID); err != nil {
		return nil, err
	}

	if err := s.commands.Views().RecordHeartbeat(ctx, req.NodeID, req.Allocatable, time.Now().UTC()); err != nil {
		return nil, rpcError(err)
	}

	p, err := s.plans.Build(ctx, req.NodeID)
	if err != nil {
		return nil, rpcError(err)
	}
	return &HeartbeatResponse{SpecVersion: p.SpecVersion}, nil
}

// GetPlan returns the node's full desired workload set
func (s *Server) GetPlan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	if err := s.authNode(ctx, req.NodeID); err != nil {
		return nil, err
	}
	p, err := s.plans.Build(ctx, req.NodeID)
	if err != nil {
		return nil, rpcError(err)
	}
	return &PlanResponse{Plan: p}, nil
}

// ReportInstanceStatus appends an instance status observation to the log
func (s *Server) ReportInstanceStatus(ctx context.Context, req *InstanceStatusRequest) (*Ack, error) {
	if err := s.authNode(ctx, req.NodeID); err != nil {
		return nil, err
	}

	inst, err := s.commands.Views().GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, rpcError(err)
	}
	if inst.NodeID != req.NodeID {
		return nil, status.Error(codes.PermissionDenied, "instance not placed on this node")
	}

	caller := command.SystemCaller("nodeapi", uuid.NewString())
	if _, err := s.commands.ReportInstanceStatus(ctx, caller, req.InstanceID, req.Status, req.BootID, req.ExitCode, req.Reason); err != nil {
		return nil, rpcError(err)
	}
	return &Ack{}, nil
}

// GetSecretMaterial decrypts and renders one secret version for a node.
// The node must actually host an instance of the env.
func (s *Server) GetSecretMaterial(ctx context.Context, req *SecretMaterialRequest) (*SecretMaterialResponse, error) {
	if err := s.authNode(ctx, req.NodeID); err != nil {
		return nil, err
	}
	if err := s.nodeHostsEnv(ctx, req.NodeID, req.EnvID); err != nil {
		return nil, err
	}

	bundle, err := s.commands.Views().GetSecretVersion(ctx, req.VersionID)
	if err != nil {
		return nil, rpcError(err)
	}
	if bundle.EnvID != req.EnvID {
		return nil, status.Error(codes.PermissionDenied, "secret version belongs to another environment")
	}

	envelope, err := s.secretsMgr.Decrypt(bundle.Ciphertext)
	if err != nil {
		return nil, rpcError(err)
	}
	return &SecretMaterialResponse{
		VersionID:   bundle.VersionID,
		ContentHash: bundle.ContentHash,
		Envelope:    string(envelope),
	}, nil
}

// SendWorkloadLogs drains a client stream of log batches into storage
func (s *Server) SendWorkloadLogs(stream NodeAgent_SendWorkloadLogsServer) error {
	accepted := 0
	authed := false
	for {
		batch, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&LogAck{Accepted: accepted})
		}
		if err != nil {
			return err
		}
		if !authed {
			if err := s.authNode(stream.Context(), batch.NodeID); err != nil {
				return err
			}
			authed = true
		}

		for _, line := range batch.Lines {
			if len(line.Line) > types.MaxLogLineBytes {
				line.Line = line.Line[:types.MaxLogLineBytes]
				line.Truncated = true
			}
		}
		if err := s.commands.Views().InsertLogLines(stream.Context(), batch.Lines); err != nil {
			return rpcError(err)
		}
		accepted += len(batch.Lines)
	}
}

// authNode checks the stream/call metadata carries a node token for
// exactly this node id.
func (s *Server) authNode(ctx context.Context, nodeID string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	var token string
	if vals := md.Get("authorization"); len(vals) > 0 {
		token = auth.BearerToken(vals[0])
	}
	if token == "" {
		return status.Error(codes.Unauthenticated, "missing node token")
	}

	principal, err := s.authn.Authenticate(ctx, token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid node token")
	}
	if principal.Role != auth.RoleNode || principal.ActorID != nodeID {
		return status.Error(codes.PermissionDenied, "token not valid for node")
	}
	return nil
}

func (s *Server) nodeHostsEnv(ctx context.Context, nodeID, envID string) error {
	instances, err := s.commands.Views().ListInstancesByNode(ctx, nodeID)
	if err != nil {
		return rpcError(err)
	}
	for _, inst := range instances {
		if inst.EnvID == envID {
			return nil
		}
	}
	return status.Error(codes.PermissionDenied, "node hosts no instance of this environment")
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, types.ErrUnauthorized), errors.Is(err, types.ErrTokenRevoked):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
