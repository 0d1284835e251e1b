package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/service"
)

const (
	// AdminServiceName is the fully-qualified name of the admin service
	AdminServiceName = "leadpool.v1.AdminService"

	AdminServiceToggleMarkProcedure       = "/" + AdminServiceName + "/ToggleMark"
	AdminServiceExportClaimedProcedure    = "/" + AdminServiceName + "/ExportClaimed"
	AdminServiceResetIdentityProcedure    = "/" + AdminServiceName + "/ResetIdentity"
	AdminServiceRebuildPoolProcedure      = "/" + AdminServiceName + "/RebuildPool"
	AdminServiceImportWhitelistProcedure  = "/" + AdminServiceName + "/ImportWhitelist"
	AdminServiceListUploadsProcedure      = "/" + AdminServiceName + "/ListUploads"
	AdminServiceBlacklistSummaryProcedure = "/" + AdminServiceName + "/BlacklistSummary"
)

const defaultBlacklistPreview = 20

// AdminServer serves the operator surface
type AdminServer struct {
	allocator *service.Allocator
	marks     *service.MarkManager
	logger    *zap.Logger
}

// NewAdminServer creates a new AdminServer
func NewAdminServer(allocator *service.Allocator, marks *service.MarkManager, logger *zap.Logger) *AdminServer {
	return &AdminServer{allocator: allocator, marks: marks, logger: logger}
}

func (s *AdminServer) ToggleMark(
	ctx context.Context,
	req *connect.Request[ToggleMarkRequest],
) (*connect.Response[ToggleMarkResponse], error) {
	claimed, err := s.marks.ToggleMark(ctx, req.Msg.Phone)
	if err != nil {
		return nil, toConnectError(err, "toggle mark")
	}
	return connect.NewResponse(&ToggleMarkResponse{Claimed: claimed}), nil
}

func (s *AdminServer) ExportClaimed(
	ctx context.Context,
	_ *connect.Request[ExportClaimedRequest],
) (*connect.Response[ExportClaimedResponse], error) {
	exp, err := s.marks.ExportClaimed(ctx)
	if err != nil {
		return nil, toConnectError(err, "export claimed numbers")
	}
	return connect.NewResponse(&ExportClaimedResponse{Phones: exp.Phones, Location: exp.Location}), nil
}

func (s *AdminServer) ResetIdentity(
	ctx context.Context,
	req *connect.Request[ResetIdentityRequest],
) (*connect.Response[ResetIdentityResponse], error) {
	existed, err := s.marks.ResetIdentity(ctx, req.Msg.Identity)
	if err != nil {
		return nil, toConnectError(err, "reset identity")
	}
	return connect.NewResponse(&ResetIdentityResponse{Existed: existed}), nil
}

func (s *AdminServer) RebuildPool(
	ctx context.Context,
	req *connect.Request[RebuildPoolRequest],
) (*connect.Response[RebuildPoolResponse], error) {
	sum, err := s.allocator.RebuildPool(ctx, service.ParseLines(req.Msg.Raw))
	if err != nil {
		return nil, toConnectError(err, "rebuild pool")
	}
	return connect.NewResponse(&RebuildPoolResponse{
		Batches:            sum.Batches,
		Phones:             sum.Phones,
		SkippedBlacklisted: sum.SkippedBlacklisted,
		SkippedDuplicates:  sum.SkippedDuplicates,
	}), nil
}

func (s *AdminServer) ImportWhitelist(
	ctx context.Context,
	req *connect.Request[ImportWhitelistRequest],
) (*connect.Response[ImportWhitelistResponse], error) {
	count, err := s.marks.ImportWhitelist(ctx, service.ParseLines(req.Msg.Raw))
	if err != nil {
		return nil, toConnectError(err, "import whitelist")
	}
	return connect.NewResponse(&ImportWhitelistResponse{Count: count}), nil
}

func (s *AdminServer) ListUploads(
	ctx context.Context,
	req *connect.Request[ListUploadsRequest],
) (*connect.Response[ListUploadsResponse], error) {
	if req.Msg.Date != "" {
		if _, err := time.Parse(time.DateOnly, req.Msg.Date); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("date must be YYYY-MM-DD: %w", err))
		}
	}

	groups, err := s.marks.ListUploads(ctx, service.UploadFilter{
		Identity: req.Msg.Identity,
		Date:     req.Msg.Date,
	})
	if err != nil {
		return nil, toConnectError(err, "list uploads")
	}

	res := &ListUploadsResponse{Groups: make([]UploadGroup, 0, len(groups))}
	for _, g := range groups {
		uploads := make([]Upload, len(g.Entries))
		for i, e := range g.Entries {
			uploads[i] = Upload{Phone: e.Phone, UploadedAt: e.UploadedAt, Claimed: e.Claimed}
		}
		res.Groups = append(res.Groups, UploadGroup{Identity: g.Identity, Uploads: uploads})
	}
	return connect.NewResponse(res), nil
}

func (s *AdminServer) BlacklistSummary(
	ctx context.Context,
	req *connect.Request[BlacklistSummaryRequest],
) (*connect.Response[BlacklistSummaryResponse], error) {
	n := req.Msg.Preview
	if n <= 0 {
		n = defaultBlacklistPreview
	}
	count, preview, err := s.marks.BlacklistSummary(ctx, n)
	if err != nil {
		return nil, toConnectError(err, "summarize blacklist")
	}
	return connect.NewResponse(&BlacklistSummaryResponse{Count: count, Preview: preview}), nil
}

// NewAdminServiceHandler builds an HTTP handler for the admin service,
// returning the path to mount it on. Callers supply the auth interceptor.
func NewAdminServiceHandler(svc *AdminServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AdminServiceToggleMarkProcedure, connect.NewUnaryHandler(AdminServiceToggleMarkProcedure, svc.ToggleMark, opts...))
	mux.Handle(AdminServiceExportClaimedProcedure, connect.NewUnaryHandler(AdminServiceExportClaimedProcedure, svc.ExportClaimed, opts...))
	mux.Handle(AdminServiceResetIdentityProcedure, connect.NewUnaryHandler(AdminServiceResetIdentityProcedure, svc.ResetIdentity, opts...))
	mux.Handle(AdminServiceRebuildPoolProcedure, connect.NewUnaryHandler(AdminServiceRebuildPoolProcedure, svc.RebuildPool, opts...))
	mux.Handle(AdminServiceImportWhitelistProcedure, connect.NewUnaryHandler(AdminServiceImportWhitelistProcedure, svc.ImportWhitelist, opts...))
	mux.Handle(AdminServiceListUploadsProcedure, connect.NewUnaryHandler(AdminServiceListUploadsProcedure, svc.ListUploads, opts...))
	mux.Handle(AdminServiceBlacklistSummaryProcedure, connect.NewUnaryHandler(AdminServiceBlacklistSummaryProcedure, svc.BlacklistSummary, opts...))

	return "/" + AdminServiceName + "/", mux
}

// AdminServiceClient calls AdminService
type AdminServiceClient struct {
	toggleMark       *connect.Client[ToggleMarkRequest, ToggleMarkResponse]
	exportClaimed    *connect.Client[ExportClaimedRequest, ExportClaimedResponse]
	resetIdentity    *connect.Client[ResetIdentityRequest, ResetIdentityResponse]
	rebuildPool      *connect.Client[RebuildPoolRequest, RebuildPoolResponse]
	importWhitelist  *connect.Client[ImportWhitelistRequest, ImportWhitelistResponse]
	listUploads      *connect.Client[ListUploadsRequest, ListUploadsResponse]
	blacklistSummary *connect.Client[BlacklistSummaryRequest, BlacklistSummaryResponse]
}

// NewAdminServiceClient creates a client that authenticates with token
func NewAdminServiceClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *AdminServiceClient {
	opts = append([]connect.ClientOption{
		connect.WithCodec(Codec{}),
		connect.WithInterceptors(BearerToken(token)),
	}, opts...)
	return &AdminServiceClient{
		toggleMark:       connect.NewClient[ToggleMarkRequest, ToggleMarkResponse](httpClient, baseURL+AdminServiceToggleMarkProcedure, opts...),
		exportClaimed:    connect.NewClient[ExportClaimedRequest, ExportClaimedResponse](httpClient, baseURL+AdminServiceExportClaimedProcedure, opts...),
		resetIdentity:    connect.NewClient[ResetIdentityRequest, ResetIdentityResponse](httpClient, baseURL+AdminServiceResetIdentityProcedure, opts...),
		rebuildPool:      connect.NewClient[RebuildPoolRequest, RebuildPoolResponse](httpClient, baseURL+AdminServiceRebuildPoolProcedure, opts...),
		importWhitelist:  connect.NewClient[ImportWhitelistRequest, ImportWhitelistResponse](httpClient, baseURL+AdminServiceImportWhitelistProcedure, opts...),
		listUploads:      connect.NewClient[ListUploadsRequest, ListUploadsResponse](httpClient, baseURL+AdminServiceListUploadsProcedure, opts...),
		blacklistSummary: connect.NewClient[BlacklistSummaryRequest, BlacklistSummaryResponse](httpClient, baseURL+AdminServiceBlacklistSummaryProcedure, opts...),
	}
}

func (c *AdminServiceClient) ToggleMark(ctx context.Context, req *connect.Request[ToggleMarkRequest]) (*connect.Response[ToggleMarkResponse], error) {
	return c.toggleMark.CallUnary(ctx, req)
}

func (c *AdminServiceClient) ExportClaimed(ctx context.Context, req *connect.Request[ExportClaimedRequest]) (*connect.Response[ExportClaimedResponse], error) {
	return c.exportClaimed.CallUnary(ctx, req)
}

func (c *AdminServiceClient) ResetIdentity(ctx context.Context, req *connect.Request[ResetIdentityRequest]) (*connect.Response[ResetIdentityResponse], error) {
	return c.resetIdentity.CallUnary(ctx, req)
}

func (c *AdminServiceClient) RebuildPool(ctx context.Context, req *connect.Request[RebuildPoolRequest]) (*connect.Response[RebuildPoolResponse], error) {
	return c.rebuildPool.CallUnary(ctx, req)
}

func (c *AdminServiceClient) ImportWhitelist(ctx context.Context, req *connect.Request[ImportWhitelistRequest]) (*connect.Response[ImportWhitelistResponse], error) {
	return c.importWhitelist.CallUnary(ctx, req)
}

func (c *AdminServiceClient) ListUploads(ctx context.Context, req *connect.Request[ListUploadsRequest]) (*connect.Response[ListUploadsResponse], error) {
	return c.listUploads.CallUnary(ctx, req)
}

func (c *AdminServiceClient) BlacklistSummary(ctx context.Context, req *connect.Request[BlacklistSummaryRequest]) (*connect.Response[BlacklistSummaryResponse], error) {
	return c.blacklistSummary.CallUnary(ctx, req)
}
