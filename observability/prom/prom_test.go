package prom

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/floegence/lantun/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTunnelObserverExportsMetrics(t *testing.T) {
	reg := NewRegistry()
	o := NewTunnelObserver(reg)

	o.ConnCount(3)
	o.QueueDepth(2)
	o.Dial(observability.DialResultOK)
	o.FrameSent(observability.FrameKindData, 48)
	o.FrameSent(observability.FrameKindKeepalive, 32)
	o.FrameReceived(observability.RecvResultDecryptionFailed, 32)
	o.SendLatency(5 * time.Millisecond)
	o.Close(observability.CloseReasonPeerClosed)
	o.Dropped()

	require.Equal(t, 3.0, testutil.ToFloat64(o.connGauge))
	require.Equal(t, 2.0, testutil.ToFloat64(o.queueGauge))
	require.Equal(t, 1.0, testutil.ToFloat64(o.sentTotal.WithLabelValues("data")))
	require.Equal(t, 80.0, testutil.ToFloat64(o.sentBytes))
	require.Equal(t, 1.0, testutil.ToFloat64(o.recvTotal.WithLabelValues("decryption_failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.droppedTotal))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "lantun_connections 3")
	require.Contains(t, string(body), `lantun_close_total{reason="peer_closed"} 1`)
}
