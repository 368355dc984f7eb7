package nasd

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nasopt/dynas/pkg/logger"
)

// SearchServiceName is the fully qualified gRPC service name
const SearchServiceName = "dynas.v1.SearchService"

// SearchServiceServer is the gRPC search API. Messages are structpb.Struct
// values shaped like the HTTP API's JSON bodies.
type SearchServiceServer interface {
	CreateSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSearches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFront(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchSearch(*structpb.Struct, grpc.ServerStream) error
}

func unaryHandler(method string, call func(SearchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SearchServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SearchServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SearchServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SearchServiceDesc describes the search service for grpc.Server.RegisterService
var SearchServiceDesc = grpc.ServiceDesc{
	ServiceName: SearchServiceName,
	HandlerType: (*SearchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateSearch", SearchServiceServer.CreateSearch),
		unaryHandler("StartSearch", SearchServiceServer.StartSearch),
		unaryHandler("StopSearch", SearchServiceServer.StopSearch),
		unaryHandler("GetSearch", SearchServiceServer.GetSearch),
		unaryHandler("ListSearches", SearchServiceServer.ListSearches),
		unaryHandler("GetFront", SearchServiceServer.GetFront),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchSearch",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SearchServiceServer).WatchSearch(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "dynas/v1/search.proto",
}

// RegisterSearchServiceServer registers srv on s
func RegisterSearchServiceServer(s grpc.ServiceRegistrar, srv SearchServiceServer) {
	s.RegisterService(&SearchServiceDesc, srv)
}

// SearchGRPCServer implements SearchServiceServer on top of an Executor
type SearchGRPCServer struct {
	store    *SearchStore
	Executor *Executor
	// WatchInterval bounds how long WatchSearch waits between snapshots
	WatchInterval time.Duration
}

func NewSearchGRPCServer(executor *Executor) *SearchGRPCServer {
	return &SearchGRPCServer{
		store:         executor.Store(),
		Executor:      executor,
		WatchInterval: time.Second,
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(req *structpb.Struct, name string) float64 {
	if req == nil {
		return 0
	}
	if v, ok := req.GetFields()[name]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func boolField(req *structpb.Struct, name string) bool {
	if req == nil {
		return false
	}
	if v, ok := req.GetFields()[name]; ok {
		return v.GetBoolValue()
	}
	return false
}

// grpcError maps executor errors onto status codes
func grpcError(err error) error {
	var invalid *InvalidInputError
	switch {
	case errors.As(err, &invalid), errors.Is(err, ErrSearchIDMissing):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrSearchNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrSearchTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *SearchGRPCServer) searchID(req *structpb.Struct) (string, error) {
	id := stringField(req, "search_id")
	if id == "" {
		return "", status.Error(codes.InvalidArgument, ErrSearchIDMissing.Error())
	}
	return id, nil
}

// CreateSearch registers a search from config_yaml, starting it when start is true
func (s *SearchGRPCServer) CreateSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	input := SearchInput{
		ConfigYAML:     stringField(req, "config_yaml"),
		CallbackURL:    stringField(req, "callback_url"),
		CallbackSecret: stringField(req, "callback_secret"),
	}
	rec, err := s.Executor.Create(stringField(req, "search_id"), input)
	if err != nil {
		var invalid *InvalidInputError
		if errors.As(err, &invalid) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.AlreadyExists, err.Error())
	}
	logger.Info("search created", "search_id", rec.ID)

	if boolField(req, "start") {
		if rec, err = s.Executor.Start(rec.ID); err != nil {
			return nil, grpcError(err)
		}
	}
	return toStruct(map[string]any{"search": searchToMap(rec)})
}

func (s *SearchGRPCServer) StartSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.searchID(req)
	if err != nil {
		return nil, err
	}
	rec, err := s.Executor.Start(id)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("search started", "search_id", id)
	return toStruct(map[string]any{"search": searchToMap(rec)})
}

func (s *SearchGRPCServer) StopSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.searchID(req)
	if err != nil {
		return nil, err
	}
	rec, err := s.Executor.Stop(id)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("search cancelled", "search_id", id)
	return toStruct(map[string]any{"search": searchToMap(rec)})
}

func (s *SearchGRPCServer) GetSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.searchID(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, "search not found")
	}
	return toStruct(map[string]any{"search": searchToMap(rec)})
}

func (s *SearchGRPCServer) ListSearches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var filter Status
	if name := stringField(req, "status"); name != "" {
		st, ok := ParseStatus(name)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", name)
		}
		filter = st
	}
	recs := s.store.List(int(numberField(req, "limit")), filter)
	list := make([]any, len(recs))
	for i, rec := range recs {
		list[i] = searchToMap(rec)
	}
	return toStruct(map[string]any{"searches": list})
}

// GetFront returns the Pareto front of a finished search
func (s *SearchGRPCServer) GetFront(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.searchID(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, "search not found")
	}
	if rec.Outcome == nil {
		return nil, status.Error(codes.FailedPrecondition, "front not available")
	}
	return toStruct(frontToMap(rec))
}

// WatchSearch streams a snapshot of the search after every change until it
// reaches a terminal status
func (s *SearchGRPCServer) WatchSearch(req *structpb.Struct, stream grpc.ServerStream) error {
	id, err := s.searchID(req)
	if err != nil {
		return err
	}
	if _, ok := s.store.Get(id); !ok {
		return status.Error(codes.NotFound, "search not found")
	}

	changed, stop := s.store.Watch(id)
	defer stop()

	interval := s.WatchInterval
	if ms := numberField(req, "interval_ms"); ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := -1
	var last Status
	for {
		rec, ok := s.store.Get(id)
		if !ok {
			return status.Error(codes.NotFound, "search not found")
		}
		if rec.Status != last || len(rec.Progress) != sent {
			msg, err := toStruct(map[string]any{
				"at_unix_ms": time.Now().UTC().UnixMilli(),
				"search":     searchToMap(rec),
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			last, sent = rec.Status, len(rec.Progress)
		}
		if rec.Status.Terminal() {
			return nil
		}

		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}
