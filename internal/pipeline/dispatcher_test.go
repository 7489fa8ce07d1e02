package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/internal/storage/redisstore"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return registry.New(redisstore.NewTokenStore(rdb, 0, newTestLogger()), newTestLogger())
}

type fakeAdapter struct {
	gateway push.Gateway
	send    func(ctx context.Context, tokens []string) push.GatewayResult

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeAdapter) Gateway() push.Gateway { return f.gateway }

func (f *fakeAdapter) Send(ctx context.Context, tokens []string, _ push.NotificationDescriptor) push.GatewayResult {
	f.mu.Lock()
	f.calls = append(f.calls, tokens)
	f.mu.Unlock()
	return f.send(ctx, tokens)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func succeeding(g push.Gateway) *fakeAdapter {
	return &fakeAdapter{gateway: g, send: func(_ context.Context, tokens []string) push.GatewayResult {
		res := push.GatewayResult{Gateway: g, Success: true, MessageID: string(g) + "-msg"}
		for _, tok := range tokens {
			res.Tokens = append(res.Tokens, push.TokenResult{Token: tok, Success: true})
		}
		return res
	}}
}

func failing(g push.Gateway) *fakeAdapter {
	return &fakeAdapter{gateway: g, send: func(_ context.Context, _ []string) push.GatewayResult {
		return push.Failed(g, fmt.Errorf("%w: %s down", push.ErrNetwork, g))
	}}
}

var hello = push.NotificationDescriptor{Title: "Hello", Body: "World"}

func TestDispatcher_NoAdaptersIsServiceUnavailable(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.Register(context.Background(), "u1", push.GatewayFCM, "phone", "tok"))
	d := pipeline.NewDispatcher(reg, nil, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(context.Background(), "u1", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusServiceUnavailable, report.Status)
	assert.False(t, report.Success)
	assert.ErrorIs(t, report.Err(), push.ErrServiceUnavailable)
}

func TestDispatcher_NoTokens(t *testing.T) {
	fcm := succeeding(push.GatewayFCM)
	d := pipeline.NewDispatcher(newRegistry(t), []dispatch.Adapter{fcm}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(context.Background(), "nobody", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusNoTokensFound, report.Status)
	assert.Zero(t, report.TotalGateways)
	assert.False(t, report.Success)
	assert.Empty(t, report.Results)
	assert.ErrorIs(t, report.Err(), push.ErrNoTokensFound)
	assert.Zero(t, fcm.callCount())
}

func TestDispatcher_FanOutIsolation(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayHuawei, "p1", "hw-1"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "p2", "fcm-1"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "p3", "fcm-2"))

	hw := failing(push.GatewayHuawei)
	fcm := succeeding(push.GatewayFCM)
	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{hw, fcm}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)

	assert.Equal(t, push.StatusPartialFailure, report.Status)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.TotalGateways)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []push.Gateway{push.GatewayHuawei, push.GatewayFCM}, report.PlatformsInvoked)
	assert.ErrorIs(t, report.Results[0].Cause, push.ErrNetwork)
	assert.ElementsMatch(t, []string{"fcm-1", "fcm-2"}, fcm.calls[0])
}

func TestDispatcher_AllFail(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayXiaomi, "p1", "mi-1"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayAPNS, "p2", "ap-1"))

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{failing(push.GatewayXiaomi), failing(push.GatewayAPNS)}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err, "gateway failures must not surface as errors")
	assert.Equal(t, push.StatusFailed, report.Status)
	assert.False(t, report.Success)
	assert.Equal(t, 2, report.Failed)
	assert.ErrorIs(t, report.Err(), push.ErrAllGatewaysFailed)
}

func TestDispatcher_UnconfiguredGatewaySkipped(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayVivo, "p1", "vivo-1"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "p2", "fcm-1"))

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{succeeding(push.GatewayFCM)}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusDelivered, report.Status)
	assert.Equal(t, []push.Gateway{push.GatewayVivo}, report.Skipped)
	assert.Equal(t, 1, report.TotalGateways)
	assert.Equal(t, []push.Gateway{push.GatewayFCM}, report.PlatformsInvoked)
}

func TestDispatcher_OnlyUnconfiguredGateways(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayOppo, "p1", "oppo-1"))

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{succeeding(push.GatewayFCM)}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusNoTokensFound, report.Status)
	assert.Equal(t, []push.Gateway{push.GatewayOppo}, report.Skipped)
	assert.Zero(t, report.TotalGateways)
}

func TestDispatcher_AdapterTimeout(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayHuawei, "p1", "hw-1"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayWeb, "p2", "web-1"))

	release := make(chan struct{})
	defer close(release)
	hung := &fakeAdapter{gateway: push.GatewayHuawei, send: func(_ context.Context, _ []string) push.GatewayResult {
		<-release
		return push.GatewayResult{Gateway: push.GatewayHuawei, Success: true}
	}}

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{hung, succeeding(push.GatewayWeb)},
		pipeline.Config{AdapterTimeout: 20 * time.Millisecond}, newTestLogger())

	start := time.Now()
	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, push.StatusPartialFailure, report.Status)
	require.Len(t, report.Results, 2)
	assert.Equal(t, push.GatewayHuawei, report.Results[0].Gateway)
	assert.False(t, report.Results[0].Success)
	assert.ErrorIs(t, report.Results[0].Cause, push.ErrTimeout)
}

func TestDispatcher_AdapterPanicIsContained(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayVivo, "p1", "vivo-1"))

	broken := &fakeAdapter{gateway: push.GatewayVivo, send: func(_ context.Context, _ []string) push.GatewayResult {
		panic("boom")
	}}
	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{broken}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusFailed, report.Status)
	assert.Contains(t, report.Results[0].Error, "boom")
}

func TestDispatcher_PrunesInvalidTokens(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "old-phone", "dead"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "new-phone", "alive"))

	fcm := &fakeAdapter{gateway: push.GatewayFCM, send: func(_ context.Context, tokens []string) push.GatewayResult {
		res := push.GatewayResult{Gateway: push.GatewayFCM}
		for _, tok := range tokens {
			if tok == "dead" {
				res.Tokens = append(res.Tokens, push.TokenResult{Token: tok, Error: "unregistered", Invalid: true})
				continue
			}
			res.Success = true
			res.Tokens = append(res.Tokens, push.TokenResult{Token: tok, Success: true})
		}
		return res
	}}
	obs := &recordingObserver{}
	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{fcm}, pipeline.Config{}, newTestLogger(), pipeline.WithObserver(obs))

	report, err := d.SendToUser(ctx, "u1", hello)
	require.NoError(t, err)
	assert.Equal(t, push.StatusDelivered, report.Status)

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, set.Tokens(push.GatewayFCM))
	assert.Equal(t, 1, obs.pruned[push.GatewayFCM])
	assert.Equal(t, 1, obs.sends)
	assert.Equal(t, []push.DeliveryStatus{push.StatusDelivered}, obs.statuses)
}

type brokenRegistry struct {
	dispatch.Registry
}

func (brokenRegistry) List(context.Context, string) (push.TokenSet, error) {
	return nil, errors.New("redis: connection refused")
}

func TestDispatcher_RegistryErrorSurfaces(t *testing.T) {
	d := pipeline.NewDispatcher(brokenRegistry{}, []dispatch.Adapter{succeeding(push.GatewayFCM)}, pipeline.Config{}, newTestLogger())

	report, err := d.SendToUser(context.Background(), "u1", hello)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "connection refused")
}

// credentialAdapter fetches a credential on every send, as the OEM adapters do.
type credentialAdapter struct {
	creds dispatch.Credentials
}

func (a credentialAdapter) Gateway() push.Gateway { return push.GatewayHuawei }

func (a credentialAdapter) Send(ctx context.Context, tokens []string, _ push.NotificationDescriptor) push.GatewayResult {
	if _, err := a.creds.Get(ctx, push.GatewayHuawei); err != nil {
		return push.Failed(push.GatewayHuawei, err)
	}
	return push.GatewayResult{Gateway: push.GatewayHuawei, Success: true}
}

func TestDispatcher_CredentialReusedAcrossSends(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayHuawei, "p1", "hw-1"))

	var acquisitions atomic.Int32
	creds := credential.NewCache(credential.NewMemoryStore(), newTestLogger())
	creds.Register(push.GatewayHuawei, credential.SourceFunc(func(context.Context) (push.ProviderCredential, error) {
		acquisitions.Add(1)
		return push.ProviderCredential{Token: "access", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}))

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{credentialAdapter{creds: creds}}, pipeline.Config{}, newTestLogger())
	for i := 0; i < 2; i++ {
		report, err := d.SendToUser(ctx, "u1", hello)
		require.NoError(t, err)
		require.Equal(t, push.StatusDelivered, report.Status)
	}
	assert.Equal(t, int32(1), acquisitions.Load())
}

func TestDispatcher_SendBulk(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	require.NoError(t, reg.Register(ctx, "alice", push.GatewayFCM, "p1", "a-1"))
	require.NoError(t, reg.Register(ctx, "bob", push.GatewayFCM, "p1", "b-1"))

	d := pipeline.NewDispatcher(reg, []dispatch.Adapter{succeeding(push.GatewayFCM)},
		pipeline.Config{BulkConcurrency: 2}, newTestLogger())

	bulk := d.SendBulk(ctx, []push.BulkItem{
		{UserID: "alice", Notification: hello},
		{UserID: "nobody", Notification: hello},
		{UserID: "bob", Notification: hello},
	})

	assert.Equal(t, 3, bulk.Total)
	assert.Equal(t, 2, bulk.Succeeded)
	assert.Equal(t, 1, bulk.Failed)
	require.Len(t, bulk.Reports, 3)
	assert.Equal(t, "alice", bulk.Reports[0].UserID)
	assert.Equal(t, push.StatusNoTokensFound, bulk.Reports[1].Report.Status)
	assert.Equal(t, push.StatusDelivered, bulk.Reports[2].Report.Status)
}

func TestDispatcher_SendBulkKeepsGoingOnRegistryErrors(t *testing.T) {
	d := pipeline.NewDispatcher(brokenRegistry{}, []dispatch.Adapter{succeeding(push.GatewayFCM)}, pipeline.Config{}, newTestLogger())

	bulk := d.SendBulk(context.Background(), []push.BulkItem{{UserID: "a"}, {UserID: "b"}})
	assert.Equal(t, 2, bulk.Failed)
	for _, r := range bulk.Reports {
		assert.Nil(t, r.Report)
		assert.NotEmpty(t, r.Error)
	}
}

type staticHealth map[string]bool

func (h staticHealth) Available(name string) bool {
	up, ok := h[name]
	return !ok || up
}
func (staticHealth) RecordSuccess(string)        {}
func (staticHealth) RecordFailure(string, error) {}

func TestDispatcher_Stats(t *testing.T) {
	d := pipeline.NewDispatcher(newRegistry(t),
		[]dispatch.Adapter{succeeding(push.GatewayFCM), succeeding(push.GatewayHuawei)},
		pipeline.Config{}, newTestLogger(),
		pipeline.WithHealth(staticHealth{"huawei": false}))

	stats := d.Stats()
	assert.Equal(t, 2, stats.ConfiguredGateways)
	assert.True(t, stats.Platforms[push.GatewayFCM])
	assert.False(t, stats.Platforms[push.GatewayHuawei], "open circuit")
	assert.False(t, stats.Platforms[push.GatewayVivo], "not configured")
	assert.Len(t, stats.Platforms, len(push.Gateways))
	assert.Equal(t, []push.Gateway{push.GatewayHuawei, push.GatewayFCM}, d.Gateways())
}

type recordingObserver struct {
	mu       sync.Mutex
	sends    int
	pruned   map[push.Gateway]int
	statuses []push.DeliveryStatus
}

func (o *recordingObserver) GatewaySent(push.GatewayResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends++
}

func (o *recordingObserver) TokensPruned(g push.Gateway, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pruned == nil {
		o.pruned = make(map[push.Gateway]int)
	}
	o.pruned[g] += n
}

func (o *recordingObserver) Delivered(r *push.DeliveryReport, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, r.Status)
}
