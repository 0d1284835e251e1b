package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/service"
)

const (
	// LeadServiceName is the fully-qualified name of the public service
	LeadServiceName = "leadpool.v1.LeadService"

	LeadServiceRedeemProcedure = "/" + LeadServiceName + "/Redeem"
	LeadServiceSubmitProcedure = "/" + LeadServiceName + "/Submit"
)

// LeadServer serves redemption and upload reconciliation
type LeadServer struct {
	allocator  *service.Allocator
	reconciler *service.Reconciler
	logger     *zap.Logger
}

// NewLeadServer creates a new LeadServer
func NewLeadServer(allocator *service.Allocator, reconciler *service.Reconciler, logger *zap.Logger) *LeadServer {
	return &LeadServer{allocator: allocator, reconciler: reconciler, logger: logger}
}

// Redeem hands the caller its next batch of phone numbers
func (s *LeadServer) Redeem(
	ctx context.Context,
	req *connect.Request[RedeemRequest],
) (*connect.Response[RedeemResponse], error) {
	grant, err := s.allocator.Redeem(ctx, req.Msg.Identity)
	if err != nil {
		return nil, toConnectError(err, "redeem")
	}

	return connect.NewResponse(&RedeemResponse{
		BatchIndex:  grant.BatchIndex,
		Phones:      grant.Phones,
		RedeemCount: grant.RedeemCount,
		Remaining:   grant.Remaining,
		RedeemedAt:  grant.RedeemedAt,
	}), nil
}

// Submit reports numbers the caller converted
func (s *LeadServer) Submit(
	ctx context.Context,
	req *connect.Request[SubmitRequest],
) (*connect.Response[SubmitResponse], error) {
	numbers := append([]string(nil), req.Msg.Phones...)
	numbers = append(numbers, service.ParseLines(req.Msg.Raw)...)

	accepted, err := s.reconciler.Submit(ctx, req.Msg.Identity, numbers)
	if err != nil {
		return nil, toConnectError(err, "submit uploads")
	}
	return connect.NewResponse(&SubmitResponse{Accepted: accepted}), nil
}

// NewLeadServiceHandler builds an HTTP handler for the service, returning
// the path to mount it on.
func NewLeadServiceHandler(svc *LeadServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(LeadServiceRedeemProcedure, connect.NewUnaryHandler(LeadServiceRedeemProcedure, svc.Redeem, opts...))
	mux.Handle(LeadServiceSubmitProcedure, connect.NewUnaryHandler(LeadServiceSubmitProcedure, svc.Submit, opts...))

	return "/" + LeadServiceName + "/", mux
}

// LeadServiceClient calls LeadService
type LeadServiceClient struct {
	redeem *connect.Client[RedeemRequest, RedeemResponse]
	submit *connect.Client[SubmitRequest, SubmitResponse]
}

// NewLeadServiceClient creates a client for the service rooted at baseURL
func NewLeadServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LeadServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &LeadServiceClient{
		redeem: connect.NewClient[RedeemRequest, RedeemResponse](httpClient, baseURL+LeadServiceRedeemProcedure, opts...),
		submit: connect.NewClient[SubmitRequest, SubmitResponse](httpClient, baseURL+LeadServiceSubmitProcedure, opts...),
	}
}

func (c *LeadServiceClient) Redeem(ctx context.Context, req *connect.Request[RedeemRequest]) (*connect.Response[RedeemResponse], error) {
	return c.redeem.CallUnary(ctx, req)
}

func (c *LeadServiceClient) Submit(ctx context.Context, req *connect.Request[SubmitRequest]) (*connect.Response[SubmitResponse], error) {
	return c.submit.CallUnary(ctx, req)
}
