package nasd

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// startGRPC serves a SearchGRPCServer over an in-memory listener
func startGRPC(t *testing.T, e *Executor) *SearchClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	gs := NewSearchGRPCServer(e)
	gs.WatchInterval = 20 * time.Millisecond
	RegisterSearchServiceServer(srv, gs)
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("grpc serve: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSearchClient(conn)
}

func searchField(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	s, ok := resp["search"].(map[string]any)
	if !ok {
		t.Fatalf("response has no search: %v", resp)
	}
	return s
}

func TestGRPCCreateWatchFrontLifecycle(t *testing.T) {
	e := newTestExecutor(nil)
	client := startGRPC(t, e)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created, err := client.CreateSearch(ctx, "", basicYAML, false)
	if err != nil {
		t.Fatalf("CreateSearch error: %v", err)
	}
	search := searchField(t, created)
	id, _ := search["id"].(string)
	if id == "" || search["status"] != "pending" {
		t.Fatalf("unexpected created search %v", search)
	}

	// no front before the search ran
	if _, err := client.GetFront(ctx, id); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	started, err := client.StartSearch(ctx, id)
	if err != nil {
		t.Fatalf("StartSearch error: %v", err)
	}
	if st := searchField(t, started)["status"]; st != "running" && st != "completed" {
		t.Fatalf("unexpected status after start: %v", st)
	}

	var last map[string]any
	err = client.WatchSearch(ctx, id, func(msg map[string]any) error {
		last = searchField(t, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("WatchSearch error: %v", err)
	}
	if last["status"] != "completed" {
		t.Fatalf("expected the last snapshot to be completed, got %v", last["status"])
	}

	waitTerminal(t, e, id)
	front, err := client.GetFront(ctx, id)
	if err != nil {
		t.Fatalf("GetFront error: %v", err)
	}
	members, _ := front["front"].([]any)
	if len(members) == 0 {
		t.Fatalf("expected front members, got %v", front)
	}
	first := members[0].(map[string]any)
	if _, ok := first["metrics"].(map[string]any)["acc"]; !ok {
		t.Fatalf("expected acc on front member, got %v", first)
	}

	got, err := client.GetSearch(ctx, id)
	if err != nil {
		t.Fatalf("GetSearch error: %v", err)
	}
	summary, _ := searchField(t, got)["summary"].(map[string]any)
	if summary["evaluated"] != float64(2) {
		t.Fatalf("expected 2 evaluated in summary, got %v", summary["evaluated"])
	}

	list, err := client.ListSearches(ctx, 10, "completed")
	if err != nil {
		t.Fatalf("ListSearches error: %v", err)
	}
	if searches, _ := list["searches"].([]any); len(searches) != 1 {
		t.Fatalf("expected 1 completed search, got %v", list)
	}
}

func TestGRPCCreateAndStartTogether(t *testing.T) {
	e := newTestExecutor(instantSearcher())
	client := startGRPC(t, e)
	ctx := context.Background()

	resp, err := client.CreateSearch(ctx, "both", basicYAML, true)
	if err != nil {
		t.Fatalf("CreateSearch error: %v", err)
	}
	if st := searchField(t, resp)["status"]; st != "running" && st != "completed" {
		t.Fatalf("expected the search to be started, got %v", st)
	}
	waitTerminal(t, e, "both")

	if _, err := client.CreateSearch(ctx, "both", basicYAML, false); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
	if _, err := client.StartSearch(ctx, "both"); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition for a terminal search, got %v", err)
	}
}

func TestGRPCStopSearch(t *testing.T) {
	started := make(chan string, 1)
	e := newTestExecutor(blockingSearcher(started))
	client := startGRPC(t, e)
	ctx := context.Background()

	if _, err := client.CreateSearch(ctx, "long", basicYAML, true); err != nil {
		t.Fatalf("CreateSearch error: %v", err)
	}
	<-started
	resp, err := client.StopSearch(ctx, "long")
	if err != nil {
		t.Fatalf("StopSearch error: %v", err)
	}
	if st := searchField(t, resp)["status"]; st != "cancelled" {
		t.Fatalf("expected cancelled, got %v", st)
	}
	waitTerminal(t, e, "long")
}

func TestGRPCErrorCodes(t *testing.T) {
	client := startGRPC(t, newTestExecutor(instantSearcher()))
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"invalid config", func() error { _, err := client.CreateSearch(ctx, "", "nas: [", false); return err }, codes.InvalidArgument},
		{"missing id", func() error { _, err := client.GetSearch(ctx, ""); return err }, codes.InvalidArgument},
		{"unknown search", func() error { _, err := client.GetSearch(ctx, "nope"); return err }, codes.NotFound},
		{"start unknown", func() error { _, err := client.StartSearch(ctx, "nope"); return err }, codes.NotFound},
		{"stop unknown", func() error { _, err := client.StopSearch(ctx, "nope"); return err }, codes.NotFound},
		{"front unknown", func() error { _, err := client.GetFront(ctx, "nope"); return err }, codes.NotFound},
		{"bad status filter", func() error { _, err := client.ListSearches(ctx, 5, "done"); return err }, codes.InvalidArgument},
		{"watch unknown", func() error {
			return client.WatchSearch(ctx, "nope", func(map[string]any) error { return nil })
		}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.code {
				t.Fatalf("expected %v, got %v", tt.code, got)
			}
		})
	}
}
