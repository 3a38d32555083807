package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_Recorder_Counts(t *testing.T) {
	req := require.New(t)
	m := New()

	m.PresenceBroadcast(3)
	m.PresenceBroadcast(2)
	m.MessageDispatched(relay.ModeRoom, 2)
	m.MessageDispatched(relay.ModeDirect, 0)
	m.MessageDispatched(relay.ModeDirect, 1)
	m.PersistFailed()

	req.InDelta(2, testutil.ToFloat64(m.PresenceBroadcasts), 0)
	req.InDelta(5, testutil.ToFloat64(m.PresenceRecipients), 0)
	req.InDelta(1, testutil.ToFloat64(m.MessagesDispatched.WithLabelValues("room")), 0)
	req.InDelta(2, testutil.ToFloat64(m.MessagesDispatched.WithLabelValues("direct")), 0)
	req.InDelta(1, testutil.ToFloat64(m.PersistFailures), 0)
}

func Test_Instances_Are_Independent(t *testing.T) {
	req := require.New(t)
	a, b := New(), New()

	a.Connections.Set(4)

	req.InDelta(4, testutil.ToFloat64(a.Connections), 0)
	req.InDelta(0, testutil.ToFloat64(b.Connections), 0)
}

func Test_Handler_Exposes_Metrics(t *testing.T) {
	req := require.New(t)
	m := New()
	m.OnlineUsers.Set(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "chatrelay_online_users 2")
}
