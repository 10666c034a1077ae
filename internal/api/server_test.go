package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/config"
)

type pingOnly struct {
	UnimplementedHotspotsServer
}

func (pingOnly) Ping(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"service": "test"})
}

func (pingOnly) GetParameters(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"echo": FromStructJobName(req)})
}

func (pingOnly) SetParameters(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	panic("boom")
}

func startBufServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, nil, lis, pingOnly{})
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientServerRoundTrip(t *testing.T) {
	conn := startBufServer(t)
	client := NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := client.Ping(ctx)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if out.GetFields()["service"].GetStringValue() != "test" {
		t.Fatalf("unexpected ping response: %v", out)
	}

	req, _ := structpb.NewStruct(map[string]any{"job": "bytes_in"})
	out, err = client.GetParameters(ctx, req)
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if out.GetFields()["echo"].GetStringValue() != "bytes_in" {
		t.Fatalf("request not delivered: %v", out)
	}
}

func TestUnimplementedMethodsReportCode(t *testing.T) {
	conn := startBufServer(t)
	client := NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Detect(ctx, nil); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}

func TestHealthServiceServes(t *testing.T) {
	conn := startBufServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestHandlerPanicReportsInternal(t *testing.T) {
	conn := startBufServer(t)
	client := NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.SetParameters(ctx, nil); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal, got %v", err)
	}
	if _, err := client.Ping(ctx); err != nil {
		t.Fatalf("server should keep serving after a panic: %v", err)
	}
}
