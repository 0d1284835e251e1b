package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/export"
	"github.com/kkkkikiki/leadpool/internal/repository"
	"github.com/kkkkikiki/leadpool/internal/service"
)

const testToken = "s3cret"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	lead  *LeadServiceClient
	admin *AdminServiceClient
	url   string
	clock *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{clock: &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}}
	clock := env.clock.Now
	limits := service.Limits{MaxTimes: 3, Cooldown: 6 * time.Hour, BatchSize: 3}

	store := repository.NewMemoryStore()
	logger := zap.NewNop()
	sink := &export.FileSink{Path: filepath.Join(t.TempDir(), "marked_phones.txt")}
	allocator := service.NewAllocator(store, limits, logger).WithClock(clock)
	reconciler := service.NewReconciler(store, logger).WithClock(clock)
	marks := service.NewMarkManager(store, sink, time.UTC, logger).WithClock(clock)

	mux := http.NewServeMux()
	mux.Handle(NewLeadServiceHandler(NewLeadServer(allocator, reconciler, logger),
		connect.WithInterceptors(NewLoggingInterceptor(logger)),
	))
	mux.Handle(NewAdminServiceHandler(NewAdminServer(allocator, marks, logger),
		connect.WithInterceptors(NewLoggingInterceptor(logger), NewAdminAuth(testToken).Interceptor()),
	))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env.url = srv.URL
	env.lead = NewLeadServiceClient(srv.Client(), srv.URL)
	env.admin = NewAdminServiceClient(srv.Client(), srv.URL, testToken)
	return env
}

func (e *testEnv) seed(t *testing.T, identities, phones string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.admin.ImportWhitelist(ctx, connect.NewRequest(&ImportWhitelistRequest{Raw: identities}))
	require.NoError(t, err)
	_, err = e.admin.RebuildPool(ctx, connect.NewRequest(&RebuildPoolRequest{Raw: phones}))
	require.NoError(t, err)
}

func requireDenial(t *testing.T, err error, code connect.Code, reason service.Reason) *Denial {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, connect.CodeOf(err))
	d, ok := DenialFromError(err)
	require.True(t, ok, "no denial detail in %v", err)
	assert.Equal(t, reason, d.Reason)
	return d
}

func TestRedeemAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "alice\nbob\n", "100\n101\n102\n")

	res, err := env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Msg.BatchIndex)
	assert.Len(t, res.Msg.Phones, 3)
	assert.Equal(t, 1, res.Msg.RedeemCount)
	assert.Equal(t, 2, res.Msg.Remaining)
	assert.True(t, res.Msg.RedeemedAt.Equal(env.clock.Now()))

	_, err = env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "alice"}))
	d := requireDenial(t, err, connect.CodeFailedPrecondition, service.ReasonCooldownActive)
	assert.Equal(t, 360, d.WaitMinutes)

	sub, err := env.lead.Submit(ctx, connect.NewRequest(&SubmitRequest{
		Identity: "alice",
		Phones:   []string{"100"},
		Raw:      "101\n\n100\n",
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Msg.Accepted)

	_, err = env.lead.Submit(ctx, connect.NewRequest(&SubmitRequest{Identity: "alice", Raw: "100"}))
	d = requireDenial(t, err, connect.CodeFailedPrecondition, service.ReasonAlreadyUploaded)
	assert.Equal(t, "100", d.Phone)
}

func TestRedeemDenials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: " "}))
	requireDenial(t, err, connect.CodeInvalidArgument, service.ReasonEmptyInput)

	_, err = env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "mallory"}))
	requireDenial(t, err, connect.CodePermissionDenied, service.ReasonNotWhitelisted)

	env.seed(t, "alice", "")
	_, err = env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "alice"}))
	requireDenial(t, err, connect.CodeResourceExhausted, service.ReasonPoolExhausted)
}

func TestSubmitOwnedByOther(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "alice\nbob", "100\n101\n102\n200\n201\n202")

	_, err := env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "alice"}))
	require.NoError(t, err)

	_, err = env.lead.Submit(ctx, connect.NewRequest(&SubmitRequest{Identity: "bob", Raw: "100"}))
	requireDenial(t, err, connect.CodeFailedPrecondition, service.ReasonNotYetAssigned)

	env.clock.Advance(time.Minute)
	_, err = env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "bob"}))
	require.NoError(t, err)

	_, err = env.lead.Submit(ctx, connect.NewRequest(&SubmitRequest{Identity: "bob", Raw: "200\n100"}))
	d := requireDenial(t, err, connect.CodeFailedPrecondition, service.ReasonNumberOwnedByOther)
	assert.Equal(t, "100", d.Phone)
	assert.Equal(t, "alice", d.Owner)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := func() *connect.Request[BlacklistSummaryRequest] {
		return connect.NewRequest(&BlacklistSummaryRequest{})
	}

	anonymous := NewAdminServiceClient(http.DefaultClient, env.url, "")
	_, err := anonymous.BlacklistSummary(ctx, req())
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := NewAdminServiceClient(http.DefaultClient, env.url, "nope")
	_, err = wrong.BlacklistSummary(ctx, req())
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	_, err = env.admin.BlacklistSummary(ctx, req())
	assert.NoError(t, err)
}

func TestAdminAuth_EmptyTokenDisablesAccess(t *testing.T) {
	auth := NewAdminAuth("")
	assert.ErrorIs(t, auth.Check(""), errAdminOff)
	assert.ErrorIs(t, auth.Check("anything"), errAdminOff)

	auth = NewAdminAuth("token")
	assert.ErrorIs(t, auth.Check(""), errMissingToken)
	assert.ErrorIs(t, auth.Check("tokem"), errBadToken)
	assert.NoError(t, auth.Check("token"))
}

func TestAdminMarksAndExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "alice", "100\n101")

	_, err := env.lead.Redeem(ctx, connect.NewRequest(&RedeemRequest{Identity: "alice"}))
	require.NoError(t, err)
	_, err = env.lead.Submit(ctx, connect.NewRequest(&SubmitRequest{Identity: "alice", Raw: "100\n101"}))
	require.NoError(t, err)

	mark, err := env.admin.ToggleMark(ctx, connect.NewRequest(&ToggleMarkRequest{Phone: "101"}))
	require.NoError(t, err)
	assert.True(t, mark.Msg.Claimed)

	uploads, err := env.admin.ListUploads(ctx, connect.NewRequest(&ListUploadsRequest{Date: "2024-05-01"}))
	require.NoError(t, err)
	require.Len(t, uploads.Msg.Groups, 1)
	assert.Equal(t, "alice", uploads.Msg.Groups[0].Identity)
	require.Len(t, uploads.Msg.Groups[0].Uploads, 2)

	claimed := map[string]bool{}
	for _, u := range uploads.Msg.Groups[0].Uploads {
		claimed[u.Phone] = u.Claimed
	}
	assert.Equal(t, map[string]bool{"100": false, "101": true}, claimed)

	exp, err := env.admin.ExportClaimed(ctx, connect.NewRequest(&ExportClaimedRequest{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, exp.Msg.Phones)
	assert.FileExists(t, exp.Msg.Location)

	sum, err := env.admin.BlacklistSummary(ctx, connect.NewRequest(&BlacklistSummaryRequest{Preview: 5}))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Msg.Count)
	assert.Equal(t, []string{"101"}, sum.Msg.Preview)

	pool, err := env.admin.RebuildPool(ctx, connect.NewRequest(&RebuildPoolRequest{Raw: "100\n101\n102"}))
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Msg.Phones)
	assert.Equal(t, 1, pool.Msg.SkippedBlacklisted)

	reset, err := env.admin.ResetIdentity(ctx, connect.NewRequest(&ResetIdentityRequest{Identity: "alice"}))
	require.NoError(t, err)
	assert.True(t, reset.Msg.Existed)
}

func TestListUploads_InvalidDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.admin.ListUploads(context.Background(), connect.NewRequest(&ListUploadsRequest{Date: "05/01/2024"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, ok := DenialFromError(err)
	assert.False(t, ok)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	assert.True(t, l.Allow("10.0.0.1:1000"))
	assert.True(t, l.Allow("10.0.0.1:2000"))
	assert.False(t, l.Allow("10.0.0.1:3000"))
	assert.True(t, l.Allow("10.0.0.2:1000"))

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow("10.0.0.1:1000"))
	}
}

func TestRateLimiter_EvictsIdleAddresses(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1", "10.0.0.4:1"} {
		assert.True(t, l.Allow(addr))
	}
	assert.Len(t, l.limiters, 4)

	now = now.Add(limiterIdleTTL / 2)
	assert.True(t, l.Allow("10.0.0.1:2"))

	now = now.Add(limiterIdleTTL/2 + time.Second)
	assert.True(t, l.Allow("10.0.0.5:1"))
	assert.Len(t, l.limiters, 2)
	assert.Contains(t, l.limiters, "10.0.0.1")
	assert.Contains(t, l.limiters, "10.0.0.5")
}

func TestCodec_EmptyBody(t *testing.T) {
	var req RedeemRequest
	require.NoError(t, Codec{}.Unmarshal(nil, &req))
	assert.Empty(t, req.Identity)

	assert.Error(t, Codec{}.Unmarshal([]byte("{"), &req))
}
