package webhook

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeliver_SignsAndReturnsReceiptID(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, Verify("s3cret", body, r.Header.Get(SignatureHeader)))
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, got.DeliveryID, r.Header.Get(DeliveryHeader))
		w.Write([]byte(`{"id":"ext-42"}`))
	}))
	defer srv.Close()

	tr, err := New(Config{URL: srv.URL, Secret: "s3cret"}, zap.NewNop())
	require.NoError(t, err)

	id, err := tr.Deliver(context.Background(), "chan-1", "hello", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", id)
	assert.Equal(t, "chan-1", got.ChannelRef)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, []string{"m1", "m2"}, got.ReplyTo)
	assert.False(t, got.SentAt.IsZero())
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)
	id, err := tr.Deliver(context.Background(), "chan-1", "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id, "falls back to the delivery id")
}

func TestDeliver_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			tr, err := New(Config{URL: srv.URL}, nil)
			require.NoError(t, err)
			_, err = tr.Deliver(context.Background(), "chan-1", "hello", nil)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, int32(1), calls.Load(), "retries belong to the caller")
		})
	}
}

func TestDeliver_DoesNotFollowRedirects(t *testing.T) {
	var followed atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followed.Add(1)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	tr, err := New(Config{URL: srv.URL, Secret: "s3cret"}, nil)
	require.NoError(t, err)
	_, err = tr.Deliver(context.Background(), "chan-1", "hello", nil)
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
	assert.Zero(t, followed.Load(), "signed body must not be replayed to another host")
}

func TestDeliver_PrivateCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"tls-1"}`))
	}))
	defer srv.Close()

	// 未配置 CA 时自签证书校验失败
	plain, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = plain.Deliver(context.Background(), "chan-1", "hello", nil)
	require.Error(t, err)

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}), 0o600))
	tr, err := New(Config{URL: srv.URL, CAFile: caFile}, nil)
	require.NoError(t, err)
	id, err := tr.Deliver(context.Background(), "chan-1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "tls-1", id)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	_, err = New(Config{URL: "https://hooks.internal", CAFile: filepath.Join(t.TempDir(), "missing.pem")}, nil)
	assert.Error(t, err)
}

func TestVerify_RejectsTampering(t *testing.T) {
	sig := Sign("k", []byte("body"))
	assert.True(t, Verify("k", []byte("body"), sig))
	assert.False(t, Verify("k", []byte("b0dy"), sig))
	assert.False(t, Verify("other", []byte("body"), sig))
}
