package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/syncmgr"
	"github.com/dmitrijs2005/gophpaste/internal/tasks"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, common.ErrorNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrInvalidRequest), errors.Is(err, common.ErrTokenInvalid):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrNoPendingPairing), errors.Is(err, common.ErrPairingExpired),
		errors.Is(err, common.ErrIllegalTransition), errors.Is(err, tasks.ErrNotFailed):
		code = codes.FailedPrecondition
	case errors.Is(err, common.ErrPeerUnreachable):
		code = codes.Unavailable
	case errors.Is(err, common.ErrSignatureInvalid), errors.Is(err, common.ErrIdentityChanged),
		errors.Is(err, common.ErrNotTrusted):
		code = codes.PermissionDenied
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func peerInfo(p *models.PeerRecord) PeerInfo {
	return PeerInfo{
		AppInstanceID: p.AppInstanceID,
		DeviceName:    p.DeviceName,
		NoteName:      p.NoteName,
		Platform:      p.Platform.Name,
		State:         string(p.State),
		Host:          p.ConnectHostAddress,
		Port:          p.Port,
		AllowSend:     p.AllowSend,
		AllowReceive:  p.AllowReceive,
		ModifyTime:    p.ModifyTime,
	}
}

func taskInfo(t *models.PasteTask) TaskInfo {
	info := TaskInfo{
		ID:         t.ID,
		Type:       string(t.Type),
		Status:     string(t.Status),
		Attempts:   t.Attempts(),
		CreateTime: t.CreateTime,
		ModifyTime: t.ModifyTime,
	}
	if t.PasteID != nil {
		info.PasteID = *t.PasteID
	}
	if h := t.Extra.ExecutionHistories; len(h) > 0 {
		info.LastMessage = h[len(h)-1].Message
	}
	if t.Extra.Sync != nil {
		info.SyncFails = t.Extra.Sync.SyncFails
	}
	return info
}

func verifyInfos(list []syncmgr.VerifyRequest) []VerifyInfo {
	out := make([]VerifyInfo, 0, len(list))
	for _, v := range list {
		out = append(out, VerifyInfo{AppInstanceID: v.AppInstanceID, DeviceName: v.DeviceName, Shown: v.Shown, Token: v.Token})
	}
	return out
}

func requirePeer(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "appInstanceId is required")
	}
	return nil
}

func (s *Server) ListPeers(ctx context.Context, _ *Empty) (*ListPeersResponse, error) {
	list, err := s.peers.ListPeers(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListPeersResponse{Peers: make([]PeerInfo, 0, len(list))}
	for _, p := range list {
		resp.Peers = append(resp.Peers, peerInfo(p))
	}
	return resp, nil
}

func (s *Server) GetToken(ctx context.Context, req *GetTokenRequest) (*GetTokenResponse, error) {
	if !req.Wait {
		return &GetTokenResponse{Requests: verifyInfos(s.peers.VerifyQueue(ctx))}, nil
	}
	list, err := s.peers.WaitToVerify(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetTokenResponse{Requests: verifyInfos(list)}, nil
}

func (s *Server) ToVerify(ctx context.Context, req *PeerRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	return &Empty{}, toStatus(s.peers.ToVerify(ctx, req.AppInstanceID))
}

func (s *Server) Pair(ctx context.Context, req *TokenRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "pair requested", "app_instance_id", req.AppInstanceID, "by", SubjectFrom(ctx))
	return &Empty{}, toStatus(s.peers.Pair(ctx, req.AppInstanceID, req.Token))
}

func (s *Server) Trust(ctx context.Context, req *TokenRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "trust requested", "app_instance_id", req.AppInstanceID, "by", SubjectFrom(ctx))
	return &Empty{}, toStatus(s.peers.TrustByToken(ctx, req.AppInstanceID, req.Token))
}

func (s *Server) Ignore(_ context.Context, req *PeerRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	s.peers.IgnoreVerify(req.AppInstanceID)
	return &Empty{}, nil
}

func (s *Server) RemovePeer(ctx context.Context, req *PeerRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	return &Empty{}, toStatus(s.peers.RemoveSyncHandler(ctx, req.AppInstanceID))
}

func (s *Server) UpdatePeer(ctx context.Context, req *UpdatePeerRequest) (*Empty, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	if req.AllowSend == nil && req.AllowReceive == nil && req.NoteName == nil {
		return nil, status.Error(codes.InvalidArgument, "nothing to update")
	}
	if req.AllowSend != nil {
		if err := s.peers.UpdateAllowSend(ctx, req.AppInstanceID, *req.AllowSend); err != nil {
			return nil, toStatus(err)
		}
	}
	if req.AllowReceive != nil {
		if err := s.peers.UpdateAllowReceive(ctx, req.AppInstanceID, *req.AllowReceive); err != nil {
			return nil, toStatus(err)
		}
	}
	if req.NoteName != nil {
		if err := s.peers.UpdateNoteName(ctx, req.AppInstanceID, *req.NoteName); err != nil {
			return nil, toStatus(err)
		}
	}
	s.logger.Info(ctx, "peer settings updated", "app_instance_id", req.AppInstanceID, "by", SubjectFrom(ctx))
	return &Empty{}, nil
}

// Resolve refreshes one peer. A failed refresh names the state the peer
// was left in.
func (s *Server) Resolve(ctx context.Context, req *PeerRequest) (*ResolveResponse, error) {
	if err := requirePeer(req.AppInstanceID); err != nil {
		return nil, err
	}
	state, err := s.peers.ResolveSync(ctx, req.AppInstanceID)
	if err != nil {
		if state != "" {
			err = fmt.Errorf("peer left %s: %w", state, err)
		}
		return nil, toStatus(err)
	}
	return &ResolveResponse{State: string(state)}, nil
}

func (s *Server) ListTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error) {
	var (
		list []*models.PasteTask
		err  error
	)
	if req.PasteID != 0 {
		list, err = s.tasks.ListByPaste(ctx, req.PasteID)
	} else {
		list, err = s.tasks.List(ctx, req.Limit)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListTasksResponse{Tasks: make([]TaskInfo, 0, len(list))}
	for _, t := range list {
		resp.Tasks = append(resp.Tasks, taskInfo(t))
	}
	return resp, nil
}

func (s *Server) GetTask(ctx context.Context, req *TaskRequest) (*TaskInfo, error) {
	t, err := s.tasks.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	info := taskInfo(t)
	return &info, nil
}

func (s *Server) RetryTask(ctx context.Context, req *TaskRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.requeue.Requeue(ctx, req.ID))
}

func (s *Server) AddText(ctx context.Context, req *AddTextRequest) (*AddTextResponse, error) {
	p, err := s.pastes.AddText(ctx, req.Text, req.Source)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AddTextResponse{PasteID: p.ID, Type: string(p.Type)}, nil
}
