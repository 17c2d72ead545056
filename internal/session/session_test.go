package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"folio/internal/assembly"
	"folio/internal/book"
	"folio/internal/pagestore"
	"folio/internal/scanner"
	"folio/internal/services"
	"folio/internal/testsupport"
)

type fixture struct {
	fake  *scanner.Fake
	ctrl  *Controller
	store *pagestore.Store
	book  *book.Book

	mu          sync.Mutex
	transitions []State
	progress    []Progress
}

func newFixture(t *testing.T, opts scanner.FakeOptions) *fixture {
	t.Helper()
	b := testsupport.MustOpenBook(t, t.TempDir())
	f := &fixture{fake: scanner.NewFake(opts), store: pagestore.New(), book: b}
	f.ctrl = New(scanner.NewCatalog(f.fake), assembly.New(b, f.store, nil), Options{
		OnTransition: func(tr Transition) {
			f.mu.Lock()
			f.transitions = append(f.transitions, tr.To)
			f.mu.Unlock()
		},
		OnProgress: func(p Progress) {
			f.mu.Lock()
			f.progress = append(f.progress, p)
			f.mu.Unlock()
		},
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

func (f *fixture) configure(t *testing.T) {
	t.Helper()
	if _, err := f.ctrl.SelectDevice(context.Background(), scanner.FakeDeviceID); err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}
	if err := f.ctrl.Configure(scanner.ScanRequest{Resolution: 200, Mode: scanner.ModeGrayscale, Area: scanner.MaximisedArea()}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

func (f *fixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.transitions)
}

func waitBusy(t *testing.T, c *Controller, op string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().Busy == op {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("controller never became busy with %s", op)
}

func TestScanWorkflowCommitsPages(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{})
	ctx := context.Background()
	f.configure(t)

	preview, err := f.ctrl.Preview(ctx)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if w := preview.Bounds().Dx(); w < 80 || w > 90 {
		t.Fatalf("preview width %d, want the 100 dpi rendering", w)
	}
	if f.store.Len() != 0 {
		t.Fatal("preview reached the page store")
	}

	job, err := f.ctrl.Scan(ctx, 3)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if job.Captured != 3 || job.State != JobPending || job.ID == "" {
		t.Fatalf("job = %+v", job)
	}
	if f.store.Len() != 0 {
		t.Fatal("pages stored before commit")
	}
	result, err := f.ctrl.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(result.Added) != 3 || f.store.Len() != 3 {
		t.Fatalf("result = %+v, store = %d", result, f.store.Len())
	}
	var roles []pagestore.Role
	for _, p := range f.store.Snapshot() {
		roles = append(roles, p.Role)
	}
	if !slices.Equal(roles, []pagestore.Role{pagestore.Recto, pagestore.Verso, pagestore.Recto}) {
		t.Fatalf("roles = %v", roles)
	}

	want := []State{StateDeviceSelected, StateConfiguring, StatePreviewing, StateScanning, StateCommitted}
	if got := f.states(); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	st := f.ctrl.Status()
	if st.State != StateCommitted || st.Job == nil || st.Job.State != JobCommitted {
		t.Fatalf("status = %+v", st)
	}
	if len(f.progress) != 3 || f.progress[2].Captured != 3 {
		t.Fatalf("progress = %+v", f.progress)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{})
	ctx := context.Background()

	if err := f.ctrl.Configure(scanner.ScanRequest{Resolution: 100, Mode: scanner.ModeColor, Area: scanner.MaximisedArea()}); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Configure from idle = %v", err)
	}
	if _, err := f.ctrl.Scan(ctx, 1); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Scan from idle = %v", err)
	}
	if _, err := f.ctrl.Commit(ctx); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Commit from idle = %v", err)
	}
	if _, err := f.ctrl.Rescan(ctx, 1, 1); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Rescan from idle = %v", err)
	}
	if err := f.ctrl.Cancel(); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Cancel from idle = %v", err)
	}
	if _, err := f.ctrl.SelectDevice(ctx, scanner.FakeDeviceID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Preview(ctx); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Preview before configure = %v", err)
	}
	if err := f.ctrl.Reset(); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Reset from device_selected = %v", err)
	}
	if f.ctrl.State() != StateDeviceSelected {
		t.Fatalf("state = %s", f.ctrl.State())
	}
}

func TestSelectUnknownDevice(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{Absent: true})
	_, err := f.ctrl.SelectDevice(context.Background(), scanner.FakeDeviceID)
	if !errors.Is(err, services.ErrDeviceUnavailable) {
		t.Fatalf("expected DeviceUnavailable, got %v", err)
	}
	if f.ctrl.State() != StateIdle {
		t.Fatalf("state = %s", f.ctrl.State())
	}

	// plugging the device in is noticed without an explicit refresh
	f.fake.SetOptions(scanner.FakeOptions{})
	if _, err := f.ctrl.SelectDevice(context.Background(), scanner.FakeDeviceID); err != nil {
		t.Fatalf("SelectDevice after plug-in: %v", err)
	}
}

func TestConfigureRejectsUnsupportedValues(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{})
	if _, err := f.ctrl.SelectDevice(context.Background(), scanner.FakeDeviceID); err != nil {
		t.Fatal(err)
	}
	for _, req := range []scanner.ScanRequest{
		{Resolution: 300, Mode: scanner.ModeColor, Area: scanner.MaximisedArea()},
		{Resolution: 200, Mode: scanner.ModeLineart, Area: scanner.MaximisedArea()},
		{Resolution: 200, Mode: scanner.ModeColor, Area: scanner.CustomArea(scanner.RectMM(0, 0, 500, 100))},
	} {
		err := f.ctrl.Configure(req)
		if !errors.Is(err, services.ErrInvalidParameters) {
			t.Fatalf("Configure(%+v) = %v", req, err)
		}
		if details, ok := services.Details(err); !ok || details.Device != scanner.FakeDeviceID {
			t.Fatalf("error does not name the device: %v", err)
		}
	}
	if f.ctrl.State() != StateDeviceSelected {
		t.Fatalf("state = %s", f.ctrl.State())
	}
	if _, _, ok := f.ctrl.Configuration(); ok {
		t.Fatal("rejected request was kept")
	}
}

func TestScanWhileScanningIsBusyAndCancelDiscards(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{Delay: 20 * time.Millisecond})
	f.configure(t)

	type outcome struct {
		job Job
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		job, err := f.ctrl.Scan(context.Background(), 50)
		done <- outcome{job, err}
	}()
	waitBusy(t, f.ctrl, opScan)

	if _, err := f.ctrl.Scan(context.Background(), 1); !errors.Is(err, services.ErrSessionBusy) {
		t.Fatalf("second Scan = %v", err)
	}
	if _, err := f.ctrl.Preview(context.Background()); !errors.Is(err, services.ErrSessionBusy) {
		t.Fatalf("Preview during scan = %v", err)
	}
	if _, err := f.ctrl.Rescan(context.Background(), 1, 1); !errors.Is(err, services.ErrSessionBusy) {
		t.Fatalf("Rescan during scan = %v", err)
	}
	if err := f.ctrl.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	var res outcome
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not stop after cancel")
	}
	var scanErr *ScanError
	if !errors.As(res.err, &scanErr) || !errors.Is(res.err, context.Canceled) {
		t.Fatalf("scan error = %v", res.err)
	}
	if scanErr.Target != 50 || scanErr.Captured >= 50 {
		t.Fatalf("scan error counts = %+v", scanErr)
	}
	if f.ctrl.State() != StateFailed || f.store.Len() != 0 {
		t.Fatalf("state %s with %d pages", f.ctrl.State(), f.store.Len())
	}
	if _, err := f.ctrl.Commit(context.Background()); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Commit after cancel = %v", err)
	}
	if err := f.ctrl.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f.ctrl.State() != StateIdle {
		t.Fatalf("state after reset = %s", f.ctrl.State())
	}
}

func TestDeviceFailureReportsCapturedLeaves(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{FailAt: 3})
	f.configure(t)

	_, err := f.ctrl.Scan(context.Background(), 5)
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected ScanError, got %v", err)
	}
	if scanErr.Captured != 2 || scanErr.Target != 5 {
		t.Fatalf("counts = %+v", scanErr)
	}
	if !errors.Is(err, services.ErrDeviceDisconnected) || services.KindName(err) != "DeviceDisconnected" {
		t.Fatalf("kind = %s (%v)", services.KindName(err), err)
	}
	if f.ctrl.State() != StateFailed {
		t.Fatalf("state = %s", f.ctrl.State())
	}
	if f.store.Len() != 0 {
		t.Fatal("failed scan left pages")
	}
	files, err := f.book.Pages()
	if err != nil || len(files) != 0 {
		t.Fatalf("failed scan wrote files: %v %v", files, err)
	}
}

func TestCancelDropsLeavesAwaitingCommit(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{})
	f.configure(t)
	if _, err := f.ctrl.Scan(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Cancel(); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.State() != StateFailed {
		t.Fatalf("state = %s", f.ctrl.State())
	}
	if _, err := f.ctrl.Commit(context.Background()); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Commit after cancel = %v", err)
	}
}

func TestRescanRequiresConflictResolution(t *testing.T) {
	f := newFixture(t, scanner.FakeOptions{})
	ctx := context.Background()
	f.configure(t)
	if _, err := f.ctrl.Scan(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := f.store.At(1)

	if _, err := f.ctrl.Rescan(ctx, 2, 1); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	_, err := f.ctrl.Commit(ctx)
	if !errors.Is(err, services.ErrOverwriteConflict) {
		t.Fatalf("expected OverwriteConflict, got %v", err)
	}
	conflicts := f.ctrl.Conflicts()
	if !slices.Equal(conflicts, []string{second.Source.Path}) {
		t.Fatalf("conflicts = %v, want %s", conflicts, second.Source.Path)
	}
	if f.ctrl.State() != StateScanning {
		t.Fatalf("state = %s", f.ctrl.State())
	}
	if _, err := f.ctrl.Scan(ctx, 1); !errors.Is(err, services.ErrSessionBusy) {
		t.Fatalf("Scan with pending commit = %v", err)
	}
	if err := f.ctrl.Resolve(f.book.Join("page.009.r.png"), assembly.Overwrite); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("Resolve of unknown path = %v", err)
	}
	if err := f.ctrl.Resolve(second.Source.Path, assembly.Resolution("merge")); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("Resolve with bad resolution = %v", err)
	}
	if err := f.ctrl.Resolve(second.Source.Path, assembly.Overwrite); err != nil {
		t.Fatal(err)
	}
	result, err := f.ctrl.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit after resolve: %v", err)
	}
	if !slices.Equal(result.Replaced, []int64{second.ID}) || f.store.Len() != 3 {
		t.Fatalf("result = %+v", result)
	}
	replaced, _ := f.store.Get(second.ID)
	if replaced.Revision != second.Revision+1 || replaced.Role != pagestore.Verso {
		t.Fatalf("replaced = %+v", replaced)
	}
	if f.ctrl.State() != StateCommitted {
		t.Fatalf("state = %s", f.ctrl.State())
	}
}

func TestEstimateUsesRunningJob(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Second)
		return now
	}
	b := testsupport.MustOpenBook(t, t.TempDir())
	ctrl := New(scanner.NewCatalog(scanner.NewFake(scanner.FakeOptions{})), assembly.New(b, pagestore.New(), nil), Options{Now: clock})
	defer ctrl.Close()
	if _, ok := ctrl.Estimate(0, 10); ok {
		t.Fatal("estimate without a job")
	}
	if _, err := ctrl.SelectDevice(context.Background(), scanner.FakeDeviceID); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Configure(scanner.ScanRequest{Resolution: 100, Mode: scanner.ModeColor, Area: scanner.MaximisedArea()}); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Scan(context.Background(), 4); err != nil {
		t.Fatal(err)
	}
	eta, ok := ctrl.Estimate(4, 8)
	if !ok || eta.Remaining <= 0 || eta.Percent != 50 {
		t.Fatalf("eta = %+v ok=%v", eta, ok)
	}
}
