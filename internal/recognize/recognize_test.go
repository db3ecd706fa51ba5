package recognize

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lalavoice/lala/internal/netcheck"
	"github.com/lalavoice/lala/internal/observe"
	audiomock "github.com/lalavoice/lala/pkg/audio/mock"
	"github.com/lalavoice/lala/pkg/provider/stt"
	sttmock "github.com/lalavoice/lala/pkg/provider/stt/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeConn satisfies net.Conn for dial stubs.
type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func checkerUp(t *testing.T) *netcheck.Checker {
	t.Helper()
	return netcheck.New(testLogger(), netcheck.WithDialFunc(
		func(ctx context.Context, network, addr string) (net.Conn, error) {
			return fakeConn{}, nil
		}))
}

func checkerDown(t *testing.T) *netcheck.Checker {
	t.Helper()
	return netcheck.New(testLogger(), netcheck.WithDialFunc(
		func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("no route to host")
		}))
}

func TestCaptureUsesOnlineWhenNetworkUp(t *testing.T) {
	t.Parallel()

	onlineSession := sttmock.NewSession()
	onlineSession.EmitFinal("enciende la luz", 0.92)
	online := &sttmock.Provider{ProviderID: "deepgram", Session: onlineSession}
	offline := &sttmock.Provider{ProviderID: "whisper"}

	r := New(&audiomock.Device{}, offline, online, checkerUp(t), testLogger())
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "enciende la luz" {
		t.Errorf("Text = %q, want %q", res.Text, "enciende la luz")
	}
	if offline.CallCount() != 0 {
		t.Errorf("offline provider used %d times, want 0", offline.CallCount())
	}
	if online.CallCount() != 1 {
		t.Errorf("online provider used %d times, want 1", online.CallCount())
	}
}

func TestCaptureHonorsPreferOffline(t *testing.T) {
	t.Parallel()

	offlineSession := sttmock.NewSession()
	offlineSession.EmitFinal("qué hora es", 0.88)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: offlineSession}
	online := &sttmock.Provider{ProviderID: "deepgram"}

	r := New(&audiomock.Device{}, offline, online, checkerUp(t), testLogger(),
		WithPreferOffline(true))
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "qué hora es" {
		t.Errorf("Text = %q, want %q", res.Text, "qué hora es")
	}
	if online.CallCount() != 0 {
		t.Errorf("online provider used despite offline preference")
	}
}

func TestCaptureFallsBackOfflineWhenNetworkDown(t *testing.T) {
	t.Parallel()

	offlineSession := sttmock.NewSession()
	offlineSession.EmitFinal("apaga la luz", 0.9)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: offlineSession}
	online := &sttmock.Provider{ProviderID: "deepgram"}

	r := New(&audiomock.Device{}, offline, online, checkerDown(t), testLogger())
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "apaga la luz" {
		t.Errorf("Text = %q, want %q", res.Text, "apaga la luz")
	}
	if online.CallCount() != 0 {
		t.Errorf("online provider used while network down")
	}
}

func TestCaptureOnlineFailureFallsBackOffline(t *testing.T) {
	t.Parallel()

	online := &sttmock.Provider{ProviderID: "deepgram", StartStreamErr: errors.New("dial tcp: connection reset")}
	offlineSession := sttmock.NewSession()
	offlineSession.EmitFinal("pon música", 0.85)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: offlineSession}

	r := New(&audiomock.Device{}, offline, online, checkerUp(t), testLogger())
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "pon música" {
		t.Errorf("Text = %q, want fallback transcript", res.Text)
	}
	if offline.CallCount() != 1 {
		t.Errorf("offline provider used %d times, want 1", offline.CallCount())
	}
}

func TestCaptureOfflineModelUnavailable(t *testing.T) {
	t.Parallel()

	offline := &sttmock.Provider{
		ProviderID:     "whisper",
		StartStreamErr: stt.ErrModelUnavailable,
	}
	online := &sttmock.Provider{ProviderID: "deepgram"}

	r := New(&audiomock.Device{}, offline, online, checkerUp(t), testLogger(),
		WithPreferOffline(true))
	_, err := r.Capture(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// An offline preference must never be silently escalated online.
	if online.CallCount() != 0 {
		t.Errorf("online provider used after offline model failure")
	}
}

func TestCaptureTimeoutReleasesResources(t *testing.T) {
	t.Parallel()

	session := sttmock.NewSession() // never emits a final
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}
	device := &audiomock.Device{}

	r := New(device, offline, nil, checkerDown(t), testLogger(),
		WithDeadline(50*time.Millisecond))
	_, err := r.Capture(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if device.Leaked() {
		t.Error("audio capture leaked after timeout")
	}
	if !session.Closed() {
		t.Error("provider session left open after timeout")
	}
}

func TestCaptureCancellationReleasesResources(t *testing.T) {
	t.Parallel()

	session := sttmock.NewSession()
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}
	device := &audiomock.Device{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := New(device, offline, nil, checkerDown(t), testLogger())
	go func() {
		_, err := r.Capture(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if device.Leaked() {
		t.Error("audio capture leaked after cancellation")
	}
}

func TestCaptureEmptyTerminalProducesEmptyText(t *testing.T) {
	t.Parallel()

	session := sttmock.NewSession()
	session.Close() // stream ends with no final
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}

	r := New(&audiomock.Device{}, offline, nil, checkerDown(t), testLogger())
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
	if res.ProviderID != "whisper" {
		t.Errorf("ProviderID = %q, want %q", res.ProviderID, "whisper")
	}
}

func TestCaptureSkipsSilenceFinals(t *testing.T) {
	t.Parallel()

	session := sttmock.NewSession()
	session.EmitFinal("", 0) // silence before the utterance
	session.EmitFinal("qué hora es", 0.9)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}

	r := New(&audiomock.Device{}, offline, nil, checkerDown(t), testLogger())
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "qué hora es" {
		t.Errorf("Text = %q, want the utterance after the silence final", res.Text)
	}
}

func TestCaptureDeviceUnavailable(t *testing.T) {
	t.Parallel()

	device := &audiomock.Device{OpenErr: errors.New("mic busy")}
	offline := &sttmock.Provider{ProviderID: "whisper"}

	r := New(device, offline, nil, checkerDown(t), testLogger())
	_, err := r.Capture(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestCaptureForwardsPartials(t *testing.T) {
	t.Parallel()

	session := sttmock.NewSession()
	session.EmitPartial("qué")
	session.EmitPartial("qué hora")
	session.EmitFinal("qué hora es", 0.9)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}

	var partials []string
	r := New(&audiomock.Device{}, offline, nil, checkerDown(t), testLogger(),
		WithPartialHandler(func(t stt.Transcript) { partials = append(partials, t.Text) }))
	res, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Text != "qué hora es" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(partials) != 2 || partials[0] != "qué" || partials[1] != "qué hora" {
		t.Errorf("partials = %v", partials)
	}
}

// counterTotal sums all data points of a named Int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data is %T, want Sum[int64]", name, met.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestCaptureRecordsProviderCounters(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	session := sttmock.NewSession()
	session.EmitFinal("qué hora es", 0.9)
	offline := &sttmock.Provider{ProviderID: "whisper", Session: session}

	r := New(&audiomock.Device{}, offline, nil, checkerDown(t), testLogger(),
		WithMetrics(metrics))
	if _, err := r.Capture(context.Background()); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if n := counterTotal(t, reader, "lala.provider.requests"); n != 1 {
		t.Errorf("provider-request counter = %d, want 1", n)
	}
	if n := counterTotal(t, reader, "lala.provider.errors"); n != 0 {
		t.Errorf("provider-error counter = %d, want 0", n)
	}
}

func TestCaptureFailureRecordsProviderError(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	offline := &sttmock.Provider{ProviderID: "whisper", StartStreamErr: stt.ErrModelUnavailable}
	r := New(&audiomock.Device{}, offline, nil, checkerDown(t), testLogger(),
		WithMetrics(metrics))
	if _, err := r.Capture(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if n := counterTotal(t, reader, "lala.provider.errors"); n != 1 {
		t.Errorf("provider-error counter = %d, want 1", n)
	}
}
