package pipeline

import (
	"context"

	"github.com/acesanderson/conduit/internal/request"
	"github.com/acesanderson/conduit/internal/streamparser"
)

// StreamHandle wraps a chunk stream an adapter's Execute returned when
// req.Params.Stream was set, so the caller iterates chunks directly instead
// of waiting on Normalize (§4.9 step 4). No adapter shipped with conduit
// returns a streaming reply today; the duck-typed streamparser.Stream
// assertion in Pipeline.Execute is a forward-compatible hook for one that
// does.
type StreamHandle struct {
	stream streamparser.Stream
	Req    *request.Request
}

// Next delegates to the underlying stream.
func (h *StreamHandle) Next(ctx context.Context) (streamparser.Chunk, bool, error) {
	return h.stream.Next(ctx)
}

// ParseJSON extracts the first complete JSON object or array from the
// remaining stream, per C6.
func (h *StreamHandle) ParseJSON(ctx context.Context, opts streamparser.Options) (streamparser.Result, error) {
	return streamparser.ParseJSON(ctx, h.stream, opts)
}

// ParseXML extracts the first complete <tagName> element from the remaining
// stream, per C6.
func (h *StreamHandle) ParseXML(ctx context.Context, tagName string, opts streamparser.Options) (streamparser.Result, error) {
	return streamparser.ParseXML(ctx, h.stream, tagName, opts)
}
