package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveAsset("app-agent", "ok")
	m.ObserveAsset("app-agent", "ok")
	m.ObserveAsset("nft-token", "failed")
	m.ObserveProbe("cdn", "unreachable", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.AssetsTotal.WithLabelValues("app-agent", "ok")); got != 2 {
		t.Fatalf("assets ok=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ProbesTotal.WithLabelValues("cdn", "unreachable")); got != 1 {
		t.Fatalf("probes unreachable=%v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.ProbeDuration); n != 1 {
		t.Fatalf("probe histograms=%d, want 1", n)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRun(time.Unix(1700000000, 0), 3*time.Second, 2, false)

	path := filepath.Join(t.TempDir(), "assetcheck.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() err=%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{
		"assetcheck_discrepancies 2",
		"assetcheck_last_run_success 0",
		"assetcheck_last_run_timestamp_seconds ",
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("textfile missing %q:\n%s", want, data)
		}
	}
	if err := m.WriteTextfile(""); err == nil {
		t.Fatalf("WriteTextfile(\"\") expected error")
	}
}
