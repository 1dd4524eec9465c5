package core

import (
	"context"
	"fmt"
	"sync"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) counter(name string) (capturedCounter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.counters {
		if item.name == name {
			return item, true
		}
	}
	return capturedCounter{}, false
}

func (m *captureMetricsRecorder) histogram(name string) (capturedHistogram, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.histograms {
		if item.name == name {
			return item, true
		}
	}
	return capturedHistogram{}, false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func (l *captureLogger) find(level string, msg string) (capturedLog, bool) {
	for _, record := range l.snapshot() {
		if record.level == level && record.msg == msg {
			return record, true
		}
	}
	return capturedLog{}, false
}

type openedPopup struct {
	provider string
	authType AuthEventType
	eventID  string
}

type stubInitiator struct {
	mu          sync.Mutex
	initialized bool
	initCalls   int
	initErr     error
	popupErr    error
	redirectErr error
	popups      []openedPopup
	redirects   []openedPopup
}

func (s *stubInitiator) OpenPopup(
	_ context.Context,
	_ AuthContext,
	provider Provider,
	authType AuthEventType,
	eventID string,
) (PopupHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popupErr != nil {
		return PopupHandle{}, s.popupErr
	}
	s.popups = append(s.popups, openedPopup{provider: provider.ID, authType: authType, eventID: eventID})
	return PopupHandle{EventID: eventID, URL: "https://idp.example/authorize?event=" + eventID}, nil
}

func (s *stubInitiator) ProcessRedirect(
	_ context.Context,
	_ AuthContext,
	provider Provider,
	authType AuthEventType,
	eventID string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redirectErr != nil {
		return s.redirectErr
	}
	s.redirects = append(s.redirects, openedPopup{provider: provider.ID, authType: authType, eventID: eventID})
	return nil
}

func (s *stubInitiator) InitializeAndWait(context.Context, AuthContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	if s.initErr != nil {
		return s.initErr
	}
	s.initialized = true
	return nil
}

func (s *stubInitiator) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *stubInitiator) initCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCalls
}

type taskCall struct {
	op     OperationType
	params IdpTaskParams
}

// recordingTasks builds IdpTasks that record every call and answer with a
// credential derived from the params, or with err when set.
type recordingTasks struct {
	mu    sync.Mutex
	calls []taskCall
	err   error
}

func (r *recordingTasks) tasks() IdpTasks {
	return IdpTasks{
		SignIn:         r.task(OperationSignIn),
		Link:           r.task(OperationLink),
		Reauthenticate: r.task(OperationReauthenticate),
	}
}

func (r *recordingTasks) task(op OperationType) IdpTask {
	return func(_ context.Context, params IdpTaskParams) (*UserCredential, error) {
		r.mu.Lock()
		r.calls = append(r.calls, taskCall{op: op, params: params})
		err := r.err
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		cred := &UserCredential{
			OperationType: op,
			ProviderID:    "idp",
			Token:         TokenSet{AccessToken: fmt.Sprintf("%s|%s", params.RequestURI, params.SessionID)},
		}
		if params.User != nil {
			cred.User = params.User
		} else {
			cred.User = &UserSession{UID: "signed-in"}
		}
		return cred, nil
	}
}

func (r *recordingTasks) snapshot() []taskCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]taskCall, len(r.calls))
	copy(out, r.calls)
	return out
}

type memoryEventRecorder struct {
	mu      sync.Mutex
	records []EventRecord
	err     error
}

func (r *memoryEventRecorder) Record(_ context.Context, record EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

func (r *memoryEventRecorder) last() (EventRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return EventRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

type failingSessionHost struct {
	err error
}

func (h failingSessionHost) PendingSessions(context.Context) ([]UserSession, error) {
	return nil, h.err
}

func (h failingSessionHost) SetRedirectEventID(context.Context, string, string) error {
	return h.err
}
