package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/observability"
)

func rpcResult(id uint64, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func TestHTTPClient_ReadAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"lamports": uint64(2039280),
				"owner":    "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"data":     []string{base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}), "base64"},
			},
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	acc, err := client.ReadAccount(context.Background(), "testpubkey")
	if err != nil {
		t.Fatalf("ReadAccount: %v", err)
	}

	if acc.Lamports != 2039280 {
		t.Errorf("expected lamports 2039280, got %d", acc.Lamports)
	}
	if acc.Owner != "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" {
		t.Errorf("unexpected owner: %s", acc.Owner)
	}
	if len(acc.Data) != 4 || acc.Data[0] != 1 {
		t.Errorf("unexpected data: %v", acc.Data)
	}
}

func TestHTTPClient_ReadAccount_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := rpcResult(req.ID, map[string]interface{}{"value": nil})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.ReadAccount(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_ReadAccounts_MissingEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getMultipleAccounts" {
			t.Errorf("expected method getMultipleAccounts, got %s", req.Method)
		}

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": []interface{}{
				map[string]interface{}{
					"lamports": uint64(100),
					"owner":    "11111111111111111111111111111111",
					"data":     []string{"", "base64"},
				},
				nil,
			},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	accounts, err := client.ReadAccounts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("ReadAccounts: %v", err)
	}

	if len(accounts) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(accounts))
	}
	if accounts[0] == nil || accounts[0].Lamports != 100 {
		t.Errorf("unexpected first account: %+v", accounts[0])
	}
	if accounts[1] != nil {
		t.Errorf("expected nil for missing account, got %+v", accounts[1])
	}
}

func TestHTTPClient_ScanAccounts_Filters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getProgramAccounts" {
			t.Errorf("expected method getProgramAccounts, got %s", req.Method)
		}

		config, ok := req.Params[1].(map[string]interface{})
		if !ok {
			t.Fatalf("expected config object, got %T", req.Params[1])
		}
		filters, ok := config["filters"].([]interface{})
		if !ok || len(filters) != 2 {
			t.Fatalf("expected 2 filters, got %v", config["filters"])
		}

		resp := rpcResult(req.ID, []interface{}{
			map[string]interface{}{
				"pubkey": "poolAddr1",
				"account": map[string]interface{}{
					"lamports": uint64(1),
					"owner":    "prog",
					"data":     []string{base64.StdEncoding.EncodeToString([]byte{9}), "base64"},
				},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	accounts, err := client.ScanAccounts(context.Background(), "prog", &ScanFilter{
		DataSize: 300,
		Memcmp:   []MemcmpFilter{{Offset: 0, Bytes: []byte{0x50}}},
	})
	if err != nil {
		t.Fatalf("ScanAccounts: %v", err)
	}

	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].Pubkey != "poolAddr1" {
		t.Errorf("unexpected pubkey: %s", accounts[0].Pubkey)
	}
	if len(accounts[0].Account.Data) != 1 || accounts[0].Account.Data[0] != 9 {
		t.Errorf("unexpected data: %v", accounts[0].Account.Data)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"blockhash":            "testhash",
				"lastValidBlockHeight": uint64(5000),
			},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	bh, err := client.LatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockhash: %v", err)
	}

	if bh.Blockhash != "testhash" {
		t.Errorf("expected testhash, got %s", bh.Blockhash)
	}
	if bh.LastValidBlockHeight != 5000 {
		t.Errorf("expected height 5000, got %d", bh.LastValidBlockHeight)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_TransportExhaustion(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.LatestBlockhash(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))

	_, err := client.SubmitTransaction(context.Background(), []byte{1, 2, 3})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("RPC error must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_SubmitTransaction(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "sendTransaction" {
			t.Errorf("expected method sendTransaction, got %s", req.Method)
		}
		if got := req.Params[0].(string); got != base64.StdEncoding.EncodeToString(payload) {
			t.Errorf("unexpected transaction payload: %s", got)
		}

		resp := rpcResult(req.ID, "txsignature123")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	sig, err := client.SubmitTransaction(context.Background(), payload)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if sig != "txsignature123" {
		t.Errorf("expected txsignature123, got %s", sig)
	}
}

func TestHTTPClient_GetSignatureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getSignatureStatuses" {
			t.Errorf("expected method getSignatureStatuses, got %s", req.Method)
		}

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": []interface{}{
				map[string]interface{}{
					"slot":               int64(5555),
					"confirmations":      uint64(10),
					"confirmationStatus": "confirmed",
					"err":                nil,
				},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	status, err := client.GetSignatureStatus(context.Background(), "somesig")
	if err != nil {
		t.Fatalf("GetSignatureStatus: %v", err)
	}
	if status == nil {
		t.Fatal("expected status, got nil")
	}
	if status.Slot != 5555 {
		t.Errorf("expected slot 5555, got %d", status.Slot)
	}
	if status.ConfirmationStatus != "confirmed" {
		t.Errorf("unexpected confirmation status: %s", status.ConfirmationStatus)
	}
	if status.Err != nil {
		t.Errorf("expected nil err, got %v", status.Err)
	}
}

func TestHTTPClient_GetSignatureStatus_Unknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": []interface{}{nil},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	status, err := client.GetSignatureStatus(context.Background(), "unknownsig")
	if err != nil {
		t.Fatalf("GetSignatureStatus: %v", err)
	}
	if status != nil {
		t.Errorf("expected nil status for unknown signature, got %+v", status)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.LatestBlockhash(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestHTTPClient_RecordsCallLatency(t *testing.T) {
	observability.DefaultMetrics.RPCCallLatency.DeleteLabelValues("getLatestBlockhash")
	before := testutil.CollectAndCount(observability.DefaultMetrics.RPCCallLatency)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := rpcResult(req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"blockhash":            "testhash",
				"lastValidBlockHeight": uint64(5000),
			},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if _, err := client.LatestBlockhash(context.Background()); err != nil {
		t.Fatalf("LatestBlockhash: %v", err)
	}

	after := testutil.CollectAndCount(observability.DefaultMetrics.RPCCallLatency)
	if after != before+1 {
		t.Errorf("expected one new latency series, before=%d after=%d", before, after)
	}
}
