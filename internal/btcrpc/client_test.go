package btcrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
			resp["result"] = nil
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetBlockCountAndHash(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		switch method {
		case "getblockcount":
			return 840000, nil
		case "getblockhash":
			require.JSONEq(t, `840000`, string(params[0]))
			return "deadbeef", nil
		default:
			t.Errorf("unexpected method %s", method)
			return nil, &rpcError{Code: -1, Message: "unexpected"}
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	height, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(840000), height)

	hash, err := c.GetBlockHash(context.Background(), height)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", hash)
}

func TestGetBlockDecodesPrevouts(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "getblock", method)
		require.JSONEq(t, `"deadbeef"`, string(params[0]))
		require.JSONEq(t, `2`, string(params[1]))

		return map[string]interface{}{
			"height": 840000,
			"time":   1700000000,
			"tx": []map[string]interface{}{
				{
					"txid": "tx1",
					"vin": []map[string]interface{}{
						{"coinbase": "0402"},
					},
					"vout": []map[string]interface{}{
						{"value": 6.25, "scriptPubKey": map[string]interface{}{"address": "bc1miner"}},
					},
				},
				{
					"txid": "tx2",
					"vin": []map[string]interface{}{
						{
							"prevout": map[string]interface{}{
								"value":        1.5,
								"scriptPubKey": map[string]interface{}{"addresses": []string{"bc1sender"}},
							},
						},
						{"prevout": map[string]interface{}{}}, // missing value, skipped
					},
					"vout": []map[string]interface{}{
						{"value": 1.0, "scriptPubKey": map[string]interface{}{"address": "bc1dest"}},
						{"scriptPubKey": map[string]interface{}{"address": "bc1odd"}}, // missing value, skipped
					},
				},
			},
		}, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	block, err := c.GetBlock(context.Background(), "deadbeef")
	require.NoError(t, err)

	require.Equal(t, int64(840000), block.Height)
	require.Equal(t, int64(1700000000_000), block.TimestampMs)
	require.Len(t, block.Txs, 2)

	coinbase := block.Txs[0]
	require.Len(t, coinbase.Vins, 1)
	require.True(t, coinbase.Vins[0].Coinbase)
	require.Equal(t, []string{"bc1miner"}, coinbase.Outs[0].Addresses)

	spend := block.Txs[1]
	require.Len(t, spend.Vins, 1)
	require.Equal(t, 1, spend.SkippedVins)
	require.Equal(t, 1.5, spend.Vins[0].Value)
	require.Equal(t, []string{"bc1sender"}, spend.Vins[0].Addresses)
	require.Len(t, spend.Outs, 1)
	require.Equal(t, 1, spend.SkippedOuts)
}

func TestCallRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":1,"result":7}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryDelay(time.Millisecond))
	height, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), height)
}

func TestCallDoesNotRetryRPCError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// Bitcoin Core reports RPC errors with HTTP 500
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"id":1,"result":null,"error":{"code":-8,"message":"Block height out of range"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryDelay(time.Millisecond))
	_, err := c.GetBlockHash(context.Background(), 1<<40)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
