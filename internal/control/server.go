// Package control is the local gRPC API used by front-ends such as
// gophpastectl. Messages are plain Go structs carried by a JSON codec and
// every call needs a JWT signed with the daemon's secret.
package control

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/syncmgr"
	"google.golang.org/grpc"
)

const serviceName = "gophpaste.control.Control"

// Peers is the sync engine surface exposed to front-ends.
type Peers interface {
	ListPeers(ctx context.Context) ([]*models.PeerRecord, error)
	VerifyQueue(ctx context.Context) []syncmgr.VerifyRequest
	WaitToVerify(ctx context.Context) ([]syncmgr.VerifyRequest, error)
	ToVerify(ctx context.Context, peerID string) error
	Pair(ctx context.Context, peerID string, token int) error
	TrustByToken(ctx context.Context, peerID string, token int) error
	IgnoreVerify(peerID string)
	RemoveSyncHandler(ctx context.Context, peerID string) error
	ResolveSync(ctx context.Context, peerID string) (models.SyncState, error)
	UpdateAllowSend(ctx context.Context, peerID string, allow bool) error
	UpdateAllowReceive(ctx context.Context, peerID string, allow bool) error
	UpdateNoteName(ctx context.Context, peerID, name string) error
}

type Tasks interface {
	Get(ctx context.Context, id string) (*models.PasteTask, error)
	List(ctx context.Context, limit int) ([]*models.PasteTask, error)
	ListByPaste(ctx context.Context, pasteID int64) ([]*models.PasteTask, error)
}

type Requeuer interface {
	Requeue(ctx context.Context, id string) error
}

type Pastes interface {
	AddText(ctx context.Context, text, source string) (*models.PasteItem, error)
}

type Server struct {
	address   string
	peers     Peers
	tasks     Tasks
	requeue   Requeuer
	pastes    Pastes
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, peers Peers, tasks Tasks, rq Requeuer, pastes Pastes, secret []byte) *Server {
	return &Server{
		address:   address,
		logger:    l.With("module", "control"),
		peers:     peers,
		tasks:     tasks,
		requeue:   rq,
		pastes:    pastes,
		jwtSecret: secret,
	}
}

// method adapts a typed handler to a gRPC unary method.
func method[Req, Resp any](name string, fn func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		method("ListPeers", (*Server).ListPeers),
		method("GetToken", (*Server).GetToken),
		method("ToVerify", (*Server).ToVerify),
		method("Pair", (*Server).Pair),
		method("Trust", (*Server).Trust),
		method("Ignore", (*Server).Ignore),
		method("RemovePeer", (*Server).RemovePeer),
		method("Resolve", (*Server).Resolve),
		method("UpdatePeer", (*Server).UpdatePeer),
		method("ListTasks", (*Server).ListTasks),
		method("GetTask", (*Server).GetTask),
		method("RetryTask", (*Server).RetryTask),
		method("AddText", (*Server).AddText),
	},
	Metadata: "control",
}

// Register installs the control service on srv.
func (s *Server) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

func (s *Server) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts control connections on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	s.Register(srv)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping control server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting control server", "address", l.Addr().String())

	if err := srv.Serve(l); err != nil {
		return err
	}
	return nil
}
