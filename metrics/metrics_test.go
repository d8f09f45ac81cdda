package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghettovoice/sipua/metrics"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New("sipua")
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(m); err != nil {
		t.Fatalf("reg.Register() error = %v, want nil", err)
	}

	m.SessionStarted("outgoing")
	m.SessionStarted("outgoing")
	m.SessionEnded("outgoing", "Terminated")
	m.SessionConfirmed("outgoing", 30*time.Millisecond)
	m.TransactionCreated("client_invite")
	m.Retransmitted("2xx")
	m.TimerExpired("no_answer")
	m.MessageDiscarded("no_dialog")

	want := `
# HELP sipua_sessions_active Number of live INVITE sessions.
# TYPE sipua_sessions_active gauge
sipua_sessions_active{direction="outgoing"} 1
# HELP sipua_sessions_ended_total Total number of INVITE sessions ended by cause.
# TYPE sipua_sessions_ended_total counter
sipua_sessions_ended_total{cause="Terminated",direction="outgoing"} 1
# HELP sipua_sessions_started_total Total number of INVITE sessions started.
# TYPE sipua_sessions_started_total counter
sipua_sessions_started_total{direction="outgoing"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"sipua_sessions_active", "sipua_sessions_ended_total", "sipua_sessions_started_total",
	); err != nil {
		t.Errorf("GatherAndCompare() error = %v, want nil", err)
	}
	if got := testutil.CollectAndCount(m, "sipua_session_setup_seconds"); got != 1 {
		t.Errorf("CollectAndCount(session_setup_seconds) = %d, want 1", got)
	}
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	m.SessionStarted("incoming")
	m.SessionEnded("incoming", "Canceled")
	m.SessionConfirmed("incoming", time.Second)
	m.TransactionCreated("server_invite")
	m.Retransmitted("reliable_1xx")
	m.TimerExpired("ack")
	m.MessageDiscarded("stray")
}
