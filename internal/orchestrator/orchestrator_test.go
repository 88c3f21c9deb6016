package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"docparse-tracker/internal/audit"
	"docparse-tracker/internal/docparse"
	"docparse-tracker/internal/ledger"
	"docparse-tracker/internal/models"
	"docparse-tracker/internal/objectstore"
	"docparse-tracker/internal/signature"
)

const (
	testAppID  = "app-1"
	testSecret = "secret-1"
)

type fakeTransport struct {
	mu          sync.Mutex
	parseCalls  []map[string]any
	statusCalls []map[string]any
	parse       func(map[string]any) (docparse.ParseResult, error)
	status      func(map[string]any) (docparse.StatusResult, error)
}

func (f *fakeTransport) Parse(_ context.Context, params map[string]any) (docparse.ParseResult, error) {
	f.mu.Lock()
	f.parseCalls = append(f.parseCalls, params)
	fn := f.parse
	f.mu.Unlock()
	if fn == nil {
		return docparse.ParseResult{TaskID: "T1"}, nil
	}
	return fn(params)
}

func (f *fakeTransport) Status(_ context.Context, params map[string]any) (docparse.StatusResult, error) {
	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, params)
	fn := f.status
	f.mu.Unlock()
	if fn == nil {
		return docparse.StatusResult{RawStatus: 2}, nil
	}
	return fn(params)
}

func (f *fakeTransport) parseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.parseCalls)
}

type fixture struct {
	orch      *Orchestrator
	store     *objectstore.Local
	transport *fakeTransport
	trail     *audit.Memory
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	opts := Options{
		AppID:         testAppID,
		Bucket:        "docs",
		SourceScheme:  "oss",
		StoragePrefix: "uploads",
		CallbackURL:   "http://tracker.local/api/callback/document-parse",
	}
	if mutate != nil {
		mutate(&opts)
	}
	f := &fixture{
		store:     objectstore.NewLocal(t.TempDir()),
		transport: &fakeTransport{},
		trail:     audit.NewMemory(0),
	}
	f.orch = New(Deps{
		Ledger:      ledger.New(),
		Credentials: signature.NewRegistry(models.Credential{ID: testAppID, Secret: testSecret}),
		Store:       f.store,
		Transport:   f.transport,
		Trail:       f.trail,
		Logger:      zerolog.Nop(),
	}, opts)
	return f
}

func (f *fixture) ingest(t *testing.T, name string, size int) models.Artifact {
	t.Helper()
	a, err := f.orch.Ingest(context.Background(), make([]byte, size), name, "application/octet-stream")
	if err != nil {
		t.Fatalf("ingest %s: %v", name, err)
	}
	return a
}

func TestIngestThenCallbackCompletes(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 1024)

	if a.State != models.StateProcessing {
		t.Fatalf("expected processing, got %s", a.State)
	}
	if a.TaskID == nil || *a.TaskID != "T1" {
		t.Fatalf("expected task T1, got %v", a.TaskID)
	}
	if a.SizeBytes != 1024 {
		t.Fatalf("expected size 1024, got %d", a.SizeBytes)
	}

	params := f.transport.parseCalls[0]
	if params["taskType"] != TaskTypePDF {
		t.Fatalf("expected task type %d, got %v", TaskTypePDF, params["taskType"])
	}
	if want := "oss://docs/" + a.StorageKey; params["sourcePath"] != want {
		t.Fatalf("expected source %s, got %v", want, params["sourcePath"])
	}
	if params["validTime"] != int64(300) {
		t.Fatalf("expected validTime 300, got %v", params["validTime"])
	}
	if params["callbackUrl"] != "http://tracker.local/api/callback/document-parse" {
		t.Fatalf("unexpected callback url %v", params["callbackUrl"])
	}
	if !signature.Verify(params, testSecret) {
		t.Fatalf("outbound request signature does not verify")
	}

	out, err := f.orch.ApplyUpdate(context.Background(), models.Update{
		TaskID:    "T1",
		RawStatus: 3,
		Payload:   map[string]any{"targetPath": "oss://b/p"},
	}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.Applied || out.State != models.StateCompleted {
		t.Fatalf("expected applied completion, got %+v", out)
	}

	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
	if got.ResultLocation == nil || *got.ResultLocation != "oss://b/p" {
		t.Fatalf("expected result location oss://b/p, got %v", got.ResultLocation)
	}

	events, _ := f.trail.History(context.Background(), a.ID, 0)
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
}

func TestRequestProcessingUnsupportedTypeNeverCallsTransport(t *testing.T) {
	f := newFixture(t, nil)
	a, err := f.orch.Submit(context.Background(), []byte("MZ"), "setup.exe", "application/octet-stream")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.orch.RequestProcessing(context.Background(), a.ID, "")
	if !errors.Is(err, models.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if n := f.transport.parseCount(); n != 0 {
		t.Fatalf("expected no transport calls, got %d", n)
	}
	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateRegistered {
		t.Fatalf("expected registered, got %s", got.State)
	}
}

func TestIngestRefusesUnsupportedBeforeStoring(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Ingest(context.Background(), []byte("x"), "notes.txt", "text/plain")
	if !errors.Is(err, models.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if st := f.orch.Ledger().Stats(); st.Total != 0 {
		t.Fatalf("expected nothing registered, got %d", st.Total)
	}
}

func TestIngestTransportFailureMarksFailedAndDeletesObject(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.parse = func(map[string]any) (docparse.ParseResult, error) {
		return docparse.ParseResult{}, errors.New("connection refused")
	}

	a, err := f.orch.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "application/pdf")
	if !errors.Is(err, models.ErrRemoteTransport) {
		t.Fatalf("expected remote transport error, got %v", err)
	}
	if a.State != models.StateFailed {
		t.Fatalf("expected failed, got %s", a.State)
	}
	if a.TaskID != nil {
		t.Fatalf("expected no task link, got %v", *a.TaskID)
	}
	if a.FailureReason == nil || !strings.Contains(*a.FailureReason, "connection refused") {
		t.Fatalf("expected failure reason, got %v", a.FailureReason)
	}
	if a.StorageKey != "" {
		t.Fatalf("expected storage key to be released, got %q", a.StorageKey)
	}
	key := strings.TrimPrefix(f.transport.parseCalls[0]["sourcePath"].(string), "oss://docs/")
	if err := f.store.Delete(context.Background(), key); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected stored object to be gone, got %v", err)
	}
}

func TestRetryAfterIngestFailureIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.parse = func(map[string]any) (docparse.ParseResult, error) {
		return docparse.ParseResult{Code: 500, Message: "busy"}, nil
	}
	a, err := f.orch.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "application/pdf")
	if !errors.Is(err, models.ErrRemoteRejected) {
		t.Fatalf("expected remote rejected, got %v", err)
	}

	f.transport.parse = nil
	if _, err := f.orch.RequestProcessing(context.Background(), a.ID, ""); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if n := f.transport.parseCount(); n != 1 {
		t.Fatalf("expected no second transport call, got %d calls", n)
	}
	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateFailed || got.FailureReason == nil {
		t.Fatalf("expected artifact to stay failed, got %s reason=%v", got.State, got.FailureReason)
	}
}

func TestResubmitCompletedKeepsResult(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 16)
	if _, err := f.orch.ApplyUpdate(context.Background(), models.Update{
		TaskID:    "T1",
		RawStatus: 3,
		Payload:   map[string]any{"targetPath": "oss://b/p"},
	}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.transport.parse = func(map[string]any) (docparse.ParseResult, error) {
		return docparse.ParseResult{Code: 500}, nil
	}
	if _, err := f.orch.RequestProcessing(context.Background(), a.ID, ""); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if n := f.transport.parseCount(); n != 1 {
		t.Fatalf("expected no resubmission, got %d calls", n)
	}
	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
	if got.TaskID == nil || *got.TaskID != "T1" {
		t.Fatalf("expected link to T1, got %v", got.TaskID)
	}
	if got.ResultLocation == nil || *got.ResultLocation != "oss://b/p" {
		t.Fatalf("expected result kept, got %v", got.ResultLocation)
	}
}

func TestIngestRejectedCodeMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.parse = func(map[string]any) (docparse.ParseResult, error) {
		return docparse.ParseResult{Code: 1001, Message: "bad signature"}, nil
	}

	a, err := f.orch.Ingest(context.Background(), []byte("doc"), "memo.docx", "")
	if !errors.Is(err, models.ErrRemoteRejected) {
		t.Fatalf("expected remote rejected, got %v", err)
	}
	if a.State != models.StateFailed {
		t.Fatalf("expected failed, got %s", a.State)
	}
	if a.FailureReason == nil || !strings.Contains(*a.FailureReason, "bad signature") {
		t.Fatalf("expected vendor message in reason, got %v", a.FailureReason)
	}
}

func TestResubmitAfterFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.parse = func(map[string]any) (docparse.ParseResult, error) {
		return docparse.ParseResult{Code: 500}, nil
	}
	a, err := f.orch.Submit(context.Background(), []byte("ppt"), "deck.pptx", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.RequestProcessing(context.Background(), a.ID, ""); err == nil {
		t.Fatalf("expected first attempt to fail")
	}

	f.transport.parse = func(p map[string]any) (docparse.ParseResult, error) {
		if p["taskType"] != TaskTypePPT {
			t.Errorf("expected ppt task type, got %v", p["taskType"])
		}
		return docparse.ParseResult{TaskID: "T2"}, nil
	}
	taskID, err := f.orch.RequestProcessing(context.Background(), a.ID, "http://other/cb")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if taskID != "T2" {
		t.Fatalf("expected T2, got %s", taskID)
	}
	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateProcessing || got.FailureReason != nil {
		t.Fatalf("expected clean processing state, got %s reason=%v", got.State, got.FailureReason)
	}
}

func TestConcurrentFailedAndProcessingConvergeToFailed(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)

	var wg sync.WaitGroup
	for _, raw := range []any{4, 2, 2, 4, 2} {
		wg.Add(1)
		go func(raw any) {
			defer wg.Done()
			if _, err := f.orch.ApplyUpdate(context.Background(), models.Update{TaskID: "T1", RawStatus: raw, Error: "boom"}, nil); err != nil {
				t.Errorf("apply: %v", err)
			}
		}(raw)
	}
	wg.Wait()

	got, _ := f.orch.Ledger().Get(a.ID)
	if got.State != models.StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
}

func TestApplyUpdateUnknownTaskIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.orch.ApplyUpdate(context.Background(), models.Update{TaskID: "nope", RawStatus: "completed"}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !out.Ignored {
		t.Fatalf("expected ignored outcome, got %+v", out)
	}
}

func TestApplyUpdateRequiresTaskID(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.orch.ApplyUpdate(context.Background(), models.Update{RawStatus: 3}, nil); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestApplyUpdateAuthentication(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RequireCallbackAuth = true })
	a := f.ingest(t, "report.pdf", 10)
	update := models.Update{TaskID: "T1", RawStatus: "SUCCESS"}

	if _, err := f.orch.ApplyUpdate(context.Background(), update, nil); !errors.Is(err, models.ErrAuthFailure) {
		t.Fatalf("expected auth failure without credential, got %v", err)
	}
	if _, err := f.orch.ApplyUpdate(context.Background(), update, &CallbackAuth{CredentialID: "stranger"}); !errors.Is(err, models.ErrAuthFailure) {
		t.Fatalf("expected auth failure for unknown credential, got %v", err)
	}
	forged := map[string]any{"appId": testAppID, "taskId": "T1", signature.FieldSignature: "DEADBEEF"}
	if _, err := f.orch.ApplyUpdate(context.Background(), update, &CallbackAuth{CredentialID: testAppID, Params: forged}); !errors.Is(err, models.ErrAuthFailure) {
		t.Fatalf("expected auth failure for bad signature, got %v", err)
	}
	if got, _ := f.orch.Ledger().Get(a.ID); got.State != models.StateProcessing {
		t.Fatalf("rejected callbacks must not change state, got %s", got.State)
	}

	signed := map[string]any{"appId": testAppID, "taskId": "T1"}
	signed[signature.FieldSignature] = signature.Sign(signed, testSecret)
	out, err := f.orch.ApplyUpdate(context.Background(), update, &CallbackAuth{CredentialID: testAppID, Params: signed})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.State != models.StateCompleted {
		t.Fatalf("expected completed, got %s", out.State)
	}
}

func TestDuplicateReportCountsAsCompleted(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)

	out, err := f.orch.ApplyUpdate(context.Background(), models.Update{TaskID: "T1", RawStatus: "REPEAT"}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.State != models.StateCompleted {
		t.Fatalf("expected completed, got %s", out.State)
	}
	events, _ := f.trail.History(context.Background(), a.ID, 0)
	found := false
	for _, e := range events {
		if e.Event == audit.EventDuplicate {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate audit event, got %+v", events)
	}
}

func TestTerminalStateAbsorbsLaterReports(t *testing.T) {
	f := newFixture(t, nil)
	f.ingest(t, "report.pdf", 10)
	ctx := context.Background()

	if _, err := f.orch.ApplyUpdate(ctx, models.Update{TaskID: "T1", RawStatus: 100}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	out, err := f.orch.ApplyUpdate(ctx, models.Update{TaskID: "T1", RawStatus: 0}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Applied || out.State != models.StateCompleted {
		t.Fatalf("expected stale report to be absorbed, got %+v", out)
	}
}

func TestOverrideAcceptsLifecycleNames(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)
	ctx := context.Background()

	if _, err := f.orch.ApplyUpdate(ctx, models.Update{TaskID: "T1", RawStatus: "failed", Error: "timeout"}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	task, err := f.orch.Override(ctx, "T1", "Completed", map[string]any{"targetPath": "oss://docs/out"}, "")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if task.State != models.StateCompleted {
		t.Fatalf("expected completed, got %s", task.State)
	}
	got, _ := f.orch.Ledger().Get(a.ID)
	if got.FailureReason != nil {
		t.Fatalf("expected failure reason cleared, got %v", *got.FailureReason)
	}
	if _, err := f.orch.Override(ctx, "missing", "completed", nil, ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultURL(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)
	ctx := context.Background()

	if _, err := f.orch.ResultURL(ctx, a.ID, "page1.png"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request before completion, got %v", err)
	}
	if _, err := f.orch.ResultURL(ctx, "missing", "page1.png"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.store.Put(ctx, "results/abc/page1.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("put result: %v", err)
	}
	if _, err := f.orch.ApplyUpdate(ctx, models.Update{TaskID: "T1", RawStatus: 3, Payload: map[string]any{"targetPath": "oss://docs/results/abc"}}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	url, err := f.orch.ResultURL(ctx, a.ID, "page1.png")
	if err != nil {
		t.Fatalf("result url: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.Contains(url, "results/abc/page1.png") {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := f.orch.ResultURL(ctx, a.ID, ""); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for empty suffix, got %v", err)
	}
}

func TestRemoveDeletesObjectAndRecords(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)
	ctx := context.Background()

	if _, err := f.orch.Remove(ctx, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := f.orch.Ledger().Get(a.ID); ok {
		t.Fatalf("artifact still present")
	}
	if _, ok := f.orch.Ledger().GetTask("T1"); ok {
		t.Fatalf("task still present")
	}
	if err := f.store.Delete(ctx, a.StorageKey); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected object gone, got %v", err)
	}
	if _, err := f.orch.Remove(ctx, a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestExpireRemovesOldArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	a := f.ingest(t, "report.pdf", 10)

	if n := f.orch.Expire(context.Background(), time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("expected nothing expired, got %d", n)
	}
	if n := f.orch.Expire(context.Background(), time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expected one expired, got %d", n)
	}
	if _, ok := f.orch.Ledger().Get(a.ID); ok {
		t.Fatalf("expired artifact still present")
	}
}

func TestTaskType(t *testing.T) {
	cases := map[string]int{
		"a.pdf":     TaskTypePDF,
		"B.PDF":     TaskTypePDF,
		"c.doc":     TaskTypeDoc,
		"d.docx":    TaskTypeDoc,
		"e.ppt":     TaskTypePPT,
		"f.pptx":    TaskTypePPT,
		"g.tar.pdf": TaskTypePDF,
	}
	for name, want := range cases {
		got, err := TaskType(name)
		if err != nil || got != want {
			t.Fatalf("%s: expected %d, got %d (%v)", name, want, got, err)
		}
	}
	for _, name := range []string{"x.exe", "noext", "y.xlsx"} {
		if _, err := TaskType(name); !errors.Is(err, models.ErrUnsupportedType) {
			t.Fatalf("%s: expected unsupported, got %v", name, err)
		}
	}
}
