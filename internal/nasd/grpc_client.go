package nasd

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SearchClient calls a SearchService over a client connection
type SearchClient struct {
	cc grpc.ClientConnInterface
}

func NewSearchClient(cc grpc.ClientConnInterface) *SearchClient {
	return &SearchClient{cc: cc}
}

func (c *SearchClient) call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+SearchServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// CreateSearch submits config YAML and optionally starts the search
func (c *SearchClient) CreateSearch(ctx context.Context, id, configYAML string, start bool, opts ...grpc.CallOption) (map[string]any, error) {
	req := map[string]any{"config_yaml": configYAML, "start": start}
	if id != "" {
		req["search_id"] = id
	}
	return c.call(ctx, "CreateSearch", req, opts...)
}

func (c *SearchClient) StartSearch(ctx context.Context, id string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, "StartSearch", map[string]any{"search_id": id}, opts...)
}

func (c *SearchClient) StopSearch(ctx context.Context, id string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, "StopSearch", map[string]any{"search_id": id}, opts...)
}

func (c *SearchClient) GetSearch(ctx context.Context, id string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, "GetSearch", map[string]any{"search_id": id}, opts...)
}

func (c *SearchClient) ListSearches(ctx context.Context, limit int, status string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, "ListSearches", map[string]any{"limit": limit, "status": status}, opts...)
}

func (c *SearchClient) GetFront(ctx context.Context, id string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, "GetFront", map[string]any{"search_id": id}, opts...)
}

// WatchSearch calls fn with every snapshot the server streams until the
// search is terminal, fn returns an error or ctx ends
func (c *SearchClient) WatchSearch(ctx context.Context, id string, fn func(map[string]any) error, opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &SearchServiceDesc.Streams[0], "/"+SearchServiceName+"/WatchSearch", opts...)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"search_id": id})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(msg.AsMap()); err != nil {
			return err
		}
	}
}
