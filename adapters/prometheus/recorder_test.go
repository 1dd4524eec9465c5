package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/goliatone/go-authflow/core"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"authflow.route_event.total": "authflow_route_event_total",
		" authflow..start-popup. ":   "authflow_start_popup",
		"9lives":                     "lives",
		"":                           "",
	}
	for input, want := range cases {
		if got := SanitizeName(input); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRecorder_CounterLabelsFillAndDrop(t *testing.T) {
	reg := prom.NewRegistry()
	recorder := NewRecorder(reg)
	ctx := context.Background()

	recorder.IncCounter(ctx, "authflow.route_event.total", 1, map[string]string{
		"event_type":  "signInViaPopup",
		"disposition": core.DispositionTaskSucceeded,
		"secret":      "dropped",
	})
	recorder.IncCounter(ctx, "authflow.route_event.total", 2, map[string]string{
		"event_type":  "signInViaPopup",
		"disposition": core.DispositionTaskSucceeded,
	})
	recorder.IncCounter(ctx, "authflow.route_event.total", -1, nil)

	counter := recorder.Counter("authflow.route_event.total")
	if counter == nil {
		t.Fatalf("expected counter to be registered")
	}
	got := testutil.ToFloat64(counter.With(prom.Labels{
		"operation":   "",
		"status":      "",
		"provider_id": "",
		"event_type":  "signInViaPopup",
		"tenant_id":   "",
		"disposition": core.DispositionTaskSucceeded,
	}))
	if got != 3 {
		t.Fatalf("expected counter value 3, got %v", got)
	}
	if n := testutil.CollectAndCount(counter); n != 1 {
		t.Fatalf("expected a single series, got %d", n)
	}
}

func TestRecorder_HistogramAndNamespace(t *testing.T) {
	reg := prom.NewRegistry()
	recorder := NewRecorder(reg, WithNamespace("idp"), WithLabels("operation"), WithBuckets(1, 10))
	recorder.ObserveHistogram(context.Background(), "authflow.on_event.duration_ms", 4, map[string]string{"operation": "on_event"})
	recorder.ObserveHistogram(context.Background(), "", 4, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, candidate := range families {
		if candidate.GetName() == "idp_authflow_on_event_duration_ms" {
			family = candidate
		}
	}
	if family == nil {
		t.Fatalf("expected namespaced histogram, got %d families", len(families))
	}
	metric := family.GetMetric()[0]
	if metric.GetHistogram().GetSampleCount() != 1 || metric.GetHistogram().GetSampleSum() != 4 {
		t.Fatalf("unexpected histogram: %v", metric.GetHistogram())
	}
	if len(metric.GetLabel()) != 1 || metric.GetLabel()[0].GetName() != "operation" {
		t.Fatalf("expected only the operation label, got %v", metric.GetLabel())
	}
	if len(families) != 1 {
		t.Fatalf("expected empty metric name to be skipped, got %d families", len(families))
	}
}

type readyInitiator struct{}

func (readyInitiator) OpenPopup(_ context.Context, _ core.AuthContext, _ core.Provider, _ core.AuthEventType, eventID string) (core.PopupHandle, error) {
	return core.PopupHandle{EventID: eventID}, nil
}

func (readyInitiator) ProcessRedirect(context.Context, core.AuthContext, core.Provider, core.AuthEventType, string) error {
	return nil
}

func (readyInitiator) InitializeAndWait(context.Context, core.AuthContext) error { return nil }

func (readyInitiator) IsInitialized() bool { return true }

func TestRecorder_WiredIntoService(t *testing.T) {
	reg := prom.NewRegistry()
	recorder := NewRecorder(reg)
	svc, err := core.NewService(core.DefaultConfig(),
		core.WithMetricsRecorder(recorder),
		core.WithInitiator(readyInitiator{}),
		core.WithIdpTasks(core.IdpTasks{SignIn: func(context.Context, core.IdpTaskParams) (*core.UserCredential, error) {
			return &core.UserCredential{ProviderID: "example", OperationType: core.OperationSignIn}, nil
		}}),
		core.WithEventIDGenerator(func() string { return "evt-metrics" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	op, err := svc.StartPopup(context.Background(), core.PopupRequest{Operation: core.OperationSignIn, Provider: core.Provider{ID: "example"}})
	if err != nil {
		t.Fatalf("start popup: %v", err)
	}
	if _, err := svc.OnEvent(context.Background(), core.AuthEvent{Type: core.AuthEventSignInViaPopup, EventID: "evt-metrics"}); err != nil {
		t.Fatalf("on event: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	routed := recorder.Counter("authflow.route_event.total")
	if routed == nil || testutil.CollectAndCount(routed) == 0 {
		t.Fatalf("expected route counter to be recorded")
	}
	if recorder.Counter("authflow.start_popup.total") == nil {
		t.Fatalf("expected start_popup counter")
	}
	if recorder.Histogram("authflow.start_popup.duration_ms") == nil {
		t.Fatalf("expected start_popup histogram")
	}
}
