package client

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/api/apistruct"
)

// NewChannelsRPC creates a new http jsonrpc client of a channel node.
func NewChannelsRPC(ctx context.Context, addr string, requestHeader http.Header) (api.Channels, jsonrpc.ClientCloser, error) {
	var res apistruct.ChannelsStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "AAChan",
		[]interface{}{
			&res.CommonStruct.Internal,
			&res.Internal,
		}, requestHeader, jsonrpc.WithErrors(api.RPCErrors))

	return &res, closer, err
}
