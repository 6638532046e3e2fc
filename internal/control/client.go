package control

import (
	"context"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls the control API of a local daemon.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial connects to addr. The connection is established lazily on the first
// call.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, token: token}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, name string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, c.token)
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+name, in, out)
}

func (c *Client) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	var resp ListPeersResponse
	err := c.invoke(ctx, "ListPeers", &Empty{}, &resp)
	return resp.Peers, err
}

// GetToken returns the verification queue, blocking for a change when wait
// is set.
func (c *Client) GetToken(ctx context.Context, wait bool) ([]VerifyInfo, error) {
	var resp GetTokenResponse
	err := c.invoke(ctx, "GetToken", &GetTokenRequest{Wait: wait}, &resp)
	return resp.Requests, err
}

func (c *Client) ToVerify(ctx context.Context, peerID string) error {
	return c.invoke(ctx, "ToVerify", &PeerRequest{AppInstanceID: peerID}, &Empty{})
}

func (c *Client) Pair(ctx context.Context, peerID string, token int) error {
	return c.invoke(ctx, "Pair", &TokenRequest{AppInstanceID: peerID, Token: token}, &Empty{})
}

func (c *Client) Trust(ctx context.Context, peerID string, token int) error {
	return c.invoke(ctx, "Trust", &TokenRequest{AppInstanceID: peerID, Token: token}, &Empty{})
}

func (c *Client) Ignore(ctx context.Context, peerID string) error {
	return c.invoke(ctx, "Ignore", &PeerRequest{AppInstanceID: peerID}, &Empty{})
}

func (c *Client) RemovePeer(ctx context.Context, peerID string) error {
	return c.invoke(ctx, "RemovePeer", &PeerRequest{AppInstanceID: peerID}, &Empty{})
}

func (c *Client) UpdatePeer(ctx context.Context, req UpdatePeerRequest) error {
	return c.invoke(ctx, "UpdatePeer", &req, &Empty{})
}

func (c *Client) Resolve(ctx context.Context, peerID string) (string, error) {
	var resp ResolveResponse
	err := c.invoke(ctx, "Resolve", &PeerRequest{AppInstanceID: peerID}, &resp)
	return resp.State, err
}

func (c *Client) ListTasks(ctx context.Context, req ListTasksRequest) ([]TaskInfo, error) {
	var resp ListTasksResponse
	err := c.invoke(ctx, "ListTasks", &req, &resp)
	return resp.Tasks, err
}

func (c *Client) GetTask(ctx context.Context, id string) (*TaskInfo, error) {
	var resp TaskInfo
	if err := c.invoke(ctx, "GetTask", &TaskRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RetryTask(ctx context.Context, id string) error {
	return c.invoke(ctx, "RetryTask", &TaskRequest{ID: id}, &Empty{})
}

func (c *Client) AddText(ctx context.Context, text, source string) (*AddTextResponse, error) {
	var resp AddTextResponse
	if err := c.invoke(ctx, "AddText", &AddTextRequest{Text: text, Source: source}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
