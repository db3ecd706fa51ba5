package speaker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lalavoice/lala/internal/observe"
	audiomock "github.com/lalavoice/lala/pkg/audio/mock"
	ttsmock "github.com/lalavoice/lala/pkg/provider/tts/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// eventRecorder collects utterance events thread-safely.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestSayPlaysToCompletion(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{PCM: []byte{1, 2, 3, 4}, Chunks: 2}
	sink := &audiomock.Sink{}
	var rec eventRecorder
	s := New(provider, sink, testLogger(), WithEventHandler(rec.record))

	u, err := s.Say(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if u.ID == "" {
		t.Error("empty utterance ID")
	}
	<-u.Done

	got := bytes.Join(sink.Played, nil)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("played %v, want all PCM", got)
	}
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.UtteranceID != u.ID || ev.Err != nil || ev.Interrupted {
		t.Errorf("event = %+v, want clean completion for %s", ev, u.ID)
	}
}

func TestSayFlushesPriorUtterance(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	provider := &ttsmock.Provider{PCM: []byte{9, 9}, BlockUntil: block}
	sink := &audiomock.Sink{}
	var rec eventRecorder
	s := New(provider, sink, testLogger(), WithEventHandler(rec.record))

	first, err := s.Say(context.Background(), "primero")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}

	// The second Say must cut the blocked first utterance off.
	provider.BlockUntil = nil
	second, err := s.Say(context.Background(), "segundo")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	<-second.Done

	select {
	case <-first.Done:
	default:
		t.Fatal("first utterance still running after flush")
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].Interrupted || events[0].UtteranceID != first.ID {
		t.Errorf("first event = %+v, want interruption of %s", events[0], first.ID)
	}
	if events[1].Interrupted || events[1].Err != nil {
		t.Errorf("second event = %+v, want clean completion", events[1])
	}
	spoken := provider.SpokenTexts()
	if len(spoken) != 2 || spoken[1] != "segundo" {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestStopInterrupts(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	provider := &ttsmock.Provider{PCM: []byte{1}, BlockUntil: block}
	var rec eventRecorder
	s := New(provider, &audiomock.Sink{}, testLogger(), WithEventHandler(rec.record))

	u, err := s.Say(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if !s.Speaking() {
		t.Error("Speaking() = false during playback")
	}

	s.Stop()
	<-u.Done
	if s.Speaking() {
		t.Error("Speaking() = true after Stop")
	}
	events := rec.all()
	if len(events) != 1 || !events[0].Interrupted {
		t.Errorf("events = %+v, want one interruption", events)
	}
}

func TestStopIdleIsNoop(t *testing.T) {
	t.Parallel()

	s := New(&ttsmock.Provider{}, &audiomock.Sink{}, testLogger())
	s.Stop() // must not block or panic
}

func TestSaySynthesisFailure(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{SynthesizeErr: errors.New("server unreachable")}
	var rec eventRecorder
	s := New(provider, &audiomock.Sink{}, testLogger(), WithEventHandler(rec.record))

	u, err := s.Say(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	<-u.Done

	events := rec.all()
	if len(events) != 1 || events[0].Err == nil {
		t.Fatalf("events = %+v, want one failure", events)
	}
}

func TestSayAfterClose(t *testing.T) {
	t.Parallel()

	s := New(&ttsmock.Provider{}, &audiomock.Sink{}, testLogger())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Say(context.Background(), "hola"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestUtteranceIDsAreUnique(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{PCM: []byte{1}}
	s := New(provider, &audiomock.Sink{}, testLogger())

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		u, err := s.Say(context.Background(), "hola")
		if err != nil {
			t.Fatalf("Say: %v", err)
		}
		if seen[u.ID] {
			t.Fatalf("duplicate utterance ID %s", u.ID)
		}
		seen[u.ID] = true
		select {
		case <-u.Done:
		case <-time.After(time.Second):
			t.Fatal("utterance did not finish")
		}
	}
}

func TestSayRecordsSynthesisCounters(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	provider := &ttsmock.Provider{SynthesizeErr: errors.New("server overloaded")}
	s := New(provider, &audiomock.Sink{}, testLogger(), WithMetrics(metrics))

	u, err := s.Say(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	<-u.Done

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var requests, failures int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch met.Name {
				case "lala.provider.requests":
					requests += dp.Value
				case "lala.provider.errors":
					failures += dp.Value
				}
			}
		}
	}
	if requests != 1 {
		t.Errorf("provider-request counter = %d, want 1", requests)
	}
	if failures != 1 {
		t.Errorf("provider-error counter = %d, want 1", failures)
	}
}
