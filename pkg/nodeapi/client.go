package nodeapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client is the agent side of the node API
type Client struct {
	cc    *grpc.ClientConn
	token string
}

// Dial connects to a control plane node API endpoint. The overlay
// network provides transport protection, so the channel itself is
// plaintext.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial node api %s: %w", addr, err)
	}
	return &Client{cc: conn}, nil
}

// SetToken installs the per-node token used on authenticated calls
func (c *Client) SetToken(token string) { c.token = token }

// Close tears down the connection
func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) authCtx(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// Enroll registers this node and stores the returned token on the client
func (c *Client) Enroll(ctx context.Context, req *EnrollRequest) (*EnrollResponse, error) {
	out := new(EnrollResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Enroll", req, out); err != nil {
		return nil, err
	}
	c.token = out.NodeToken
	return out, nil
}

// Heartbeat reports liveness and returns the wanted spec version
func (c *Client) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(c.authCtx(ctx), "/"+ServiceName+"/Heartbeat", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPlan fetches the node's full desired workload set
func (c *Client) GetPlan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	out := new(PlanResponse)
	if err := c.cc.Invoke(c.authCtx(ctx), "/"+ServiceName+"/GetPlan", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportInstanceStatus reports one instance lifecycle observation
func (c *Client) ReportInstanceStatus(ctx context.Context, req *InstanceStatusRequest) error {
	return c.cc.Invoke(c.authCtx(ctx), "/"+ServiceName+"/ReportInstanceStatus", req, new(Ack))
}

// GetSecretMaterial fetches decrypted secrets for one env version
func (c *Client) GetSecretMaterial(ctx context.Context, req *SecretMaterialRequest) (*SecretMaterialResponse, error) {
	out := new(SecretMaterialResponse)
	if err := c.cc.Invoke(c.authCtx(ctx), "/"+ServiceName+"/GetSecretMaterial", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogStream is the client side of the workload log stream
type LogStream struct {
	stream grpc.ClientStream
}

// Send ships one batch of log lines
func (ls *LogStream) Send(batch *LogBatch) error {
	return ls.stream.SendMsg(batch)
}

// CloseAndRecv ends the stream and returns the server's ack
func (ls *LogStream) CloseAndRecv() (*LogAck, error) {
	if err := ls.stream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(LogAck)
	if err := ls.stream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// SendWorkloadLogs opens a client stream of log batches
func (c *Client) SendWorkloadLogs(ctx context.Context) (*LogStream, error) {
	stream, err := c.cc.NewStream(c.authCtx(ctx), &nodeAgentServiceDesc.Streams[0], "/"+ServiceName+"/SendWorkloadLogs")
	if err != nil {
		return nil, err
	}
	return &LogStream{stream: stream}, nil
}
