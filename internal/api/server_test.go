package api

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-fleetsim/internal/config"
)

// echoServer answers every unary method by echoing the request back with the
// method name attached.
type echoServer struct {
	ticks int
}

func (echoServer) echo(method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{"method": structpb.NewStringValue(method)}}
	for k, v := range in.GetFields() {
		out.Fields[k] = v
	}
	return out, nil
}

func (e echoServer) InjectIncident(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := InjectIncidentRequest{}
	if err := DecodeRequest(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return e.echo(MethodInjectIncident, in)
}
func (e echoServer) CancelIncident(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodCancelIncident, in)
}
func (e echoServer) ListIncidents(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodListIncidents, in)
}
func (e echoServer) GetApplicationHealth(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodGetApplicationHealth, in)
}
func (e echoServer) GetFleetHealth(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodGetFleetHealth, in)
}
func (e echoServer) GetHistoricalTrend(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodGetHistoricalTrend, in)
}
func (e echoServer) GetEventTimeline(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodGetEventTimeline, in)
}
func (e echoServer) ExportHistory(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodExportHistory, in)
}
func (e echoServer) AnalyzeRootCause(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodAnalyzeRootCause, in)
}
func (e echoServer) RecordDeployment(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodRecordDeployment, in)
}
func (e echoServer) RegisterDiscoveryRule(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodRegisterDiscoveryRule, in)
}
func (e echoServer) WatchTicks(_ *structpb.Struct, stream TickStream) error {
	for i := 1; i <= e.ticks; i++ {
		msg, err := ToStruct(map[string]any{"tick": i})
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// drainingServer holds WatchTicks open until its streams are drained.
type drainingServer struct {
	echoServer
	once    sync.Once
	drained chan struct{}
}

func (d *drainingServer) WatchTicks(_ *structpb.Struct, stream TickStream) error {
	msg, err := ToStruct(map[string]any{"tick": 1})
	if err != nil {
		return err
	}
	if err := stream.Send(msg); err != nil {
		return err
	}
	select {
	case <-d.drained:
		return status.Error(codes.Unavailable, "draining")
	case <-stream.Context().Done():
		return nil
	}
}

func (d *drainingServer) DrainStreams() {
	d.once.Do(func() { close(d.drained) })
}

func startServer(t *testing.T, srv FleetSimulatorServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{Reflection: true}, lis, srv)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerRoutesUnaryMethods(t *testing.T) {
	conn := startServer(t, echoServer{})
	client := NewClient(conn)
	ctx := context.Background()

	var out struct {
		Method string `json:"method"`
		Metric string `json:"metric"`
	}
	_, err := client.Call(ctx, MethodGetHistoricalTrend, TrendRequest{Metric: "cpu"}, &out)
	require.NoError(t, err)
	assert.Equal(t, MethodGetHistoricalTrend, out.Method)
	assert.Equal(t, "cpu", out.Metric)

	_, err = client.Call(ctx, MethodInjectIncident, InjectIncidentRequest{NodeID: "web-01"}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "scenario is required")
}

func TestServerStreamsTicks(t *testing.T) {
	conn := startServer(t, echoServer{ticks: 3})
	stream, err := NewClient(conn).WatchTicks(context.Background(), WatchRequest{})
	require.NoError(t, err)

	var got []float64
	for {
		msg, err := stream.Recv()
		if err != nil {
			break
		}
		got = append(got, msg.GetFields()["tick"].GetNumberValue())
	}
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestServerHealth(t *testing.T) {
	conn := startServer(t, echoServer{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestStructRoundTrip(t *testing.T) {
	in := InjectIncidentRequest{NodeID: "db-01", Scenario: "db_slowdown", Duration: "5m", Severity: "high"}
	s, err := ToStruct(in)
	require.NoError(t, err)

	var out InjectIncidentRequest
	require.NoError(t, DecodeRequest(s, &out))
	assert.Equal(t, in, out)

	opts, err := out.Options()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, opts.Duration)

	bad := InjectIncidentRequest{NodeID: "db-01", Scenario: "x", Severity: "extreme"}
	s, err = ToStruct(bad)
	require.NoError(t, err)
	require.Error(t, DecodeRequest(s, &out))

	_, err = ParseWindow("-1m", 0)
	require.Error(t, err)
	d, err := ParseWindow("", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)
}

func TestShutdownDrainsOpenStreams(t *testing.T) {
	srv := &drainingServer{drained: make(chan struct{})}
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{}, lis, srv)
	go func() { _ = server.Start() }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	stream, err := NewClient(conn).WatchTicks(context.Background(), WatchRequest{})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	server.Shutdown(ctx)
	assert.Less(t, time.Since(start), 5*time.Second, "shutdown waited on an open stream")
	assert.NoError(t, ctx.Err())

	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
