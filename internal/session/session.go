package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"folio/internal/assembly"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/scanner"
	"folio/internal/services"
)

// State is a step of the scan workflow.
type State string

const (
	StateIdle           State = "idle"
	StateDeviceSelected State = "device_selected"
	StateConfiguring    State = "configuring"
	StatePreviewing     State = "previewing"
	StateScanning       State = "scanning"
	StateCommitted      State = "committed"
	StateFailed         State = "failed"
)

// JobState is the outcome of a scan job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobPreview   JobState = "preview"
	JobCommitted JobState = "committed"
	JobFailed    JobState = "failed"
)

// Job is one acquisition run. Values returned by the controller are copies.
type Job struct {
	ID         string              `json:"id"`
	Request    scanner.ScanRequest `json:"request"`
	Target     int                 `json:"target"`
	FirstIndex int                 `json:"first_index,omitempty"`
	Rescan     bool                `json:"rescan,omitempty"`
	State      JobState            `json:"state"`
	Captured   int                 `json:"captured"`
	Started    time.Time           `json:"started"`
}

// ScanError reports a scan job that stopped before capturing every leaf.
// Err carries the device failure (or context.Canceled).
type ScanError struct {
	JobID    string
	Captured int
	Target   int
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan job %s stopped after %d of %d leaves: %v", e.JobID, e.Captured, e.Target, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Assembler receives the leaves of a finished job.
type Assembler interface {
	Commit(ctx context.Context, batch assembly.Batch) (assembly.Result, error)
}

// Transition is delivered to the OnTransition hook after every state change.
type Transition struct {
	From  State
	To    State
	JobID string
}

// Progress is delivered to the OnProgress hook after every captured leaf.
type Progress struct {
	JobID    string
	Captured int
	Target   int
	ETA      *ETA
}

// Options tune a Controller.
type Options struct {
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// OnTransition and OnProgress run outside the controller lock.
	OnTransition func(Transition)
	OnProgress   func(Progress)
}

// Status is a snapshot of the controller for display.
type Status struct {
	State     State                     `json:"state"`
	Busy      string                    `json:"busy,omitempty"`
	Device    *scanner.DeviceDescriptor `json:"device,omitempty"`
	Request   *scanner.ScanRequest      `json:"request,omitempty"`
	Job       *Job                      `json:"job,omitempty"`
	Conflicts []string                  `json:"conflicts,omitempty"`
}

const (
	opSelect  = "select device"
	opPreview = "preview"
	opScan    = "scan"
	opCommit  = "commit"
)

// Controller owns the scanner session of one book.
type Controller struct {
	catalog   *scanner.Catalog
	assembler Assembler
	logger    *slog.Logger
	now       func() time.Time
	onTrans   func(Transition)
	onProg    func(Progress)

	mu          sync.Mutex
	state       State
	busy        string
	handle      scanner.Handle
	request     scanner.ScanRequest
	configured  bool
	preview     image.Image
	job         *Job
	leaves      []image.Image
	conflicts   []string
	resolutions map[string]assembly.Resolution
	cancel      context.CancelFunc
	pending     []Transition

	inflight sync.WaitGroup
}

// New returns an Idle controller.
func New(catalog *scanner.Catalog, assembler Assembler, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		catalog:   catalog,
		assembler: assembler,
		logger:    logger,
		now:       now,
		onTrans:   opts.OnTransition,
		onProg:    opts.OnProgress,
		state:     StateIdle,
	}
}

// unlock releases the lock and then delivers queued transitions.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if c.onTrans == nil {
		return
	}
	for _, t := range pending {
		c.onTrans(t)
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	jobID := ""
	if c.job != nil {
		jobID = c.job.ID
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "session_transition"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	}
	if jobID != "" {
		attrs = append(attrs, logging.String(logging.FieldJobID, jobID))
	}
	if c.handle != nil {
		attrs = append(attrs, logging.String(logging.FieldDevice, c.handle.Descriptor().ID))
	}
	c.logger.Info("session transition", logging.Args(attrs...)...)
	c.pending = append(c.pending, Transition{From: from, To: to, JobID: jobID})
}

// check rejects op unless the controller is idle-handed and in one of
// allowed. Overlapping acquisitions fail with SessionBusy.
func (c *Controller) check(op string, allowed ...State) error {
	if c.busy != "" {
		return &services.Error{
			Kind:      services.ErrSessionBusy,
			Component: "session",
			Op:        op,
			Message:   c.busy + " in progress",
			JobState:  c.jobState(),
		}
	}
	if slices.Contains(allowed, c.state) {
		return nil
	}
	if c.state == StateScanning && (op == opScan || op == opPreview || op == "rescan") {
		return &services.Error{
			Kind:      services.ErrSessionBusy,
			Component: "session",
			Op:        op,
			Message:   "a scan job is awaiting commit",
			JobState:  c.jobState(),
		}
	}
	return &services.Error{
		Kind:      services.ErrInvalidTransition,
		Component: "session",
		Op:        op,
		Message:   fmt.Sprintf("not allowed while %s", c.state),
		JobState:  c.jobState(),
	}
}

func (c *Controller) jobState() string {
	if c.job == nil {
		return ""
	}
	return string(c.job.State)
}

func (c *Controller) newJob(state JobState, req scanner.ScanRequest, target int) *Job {
	return &Job{
		ID:      uuid.NewString(),
		Request: req,
		Target:  target,
		State:   state,
		Started: c.now(),
	}
}

// fail discards captured leaves and moves to Failed.
func (c *Controller) fail(err error) {
	if c.job != nil {
		c.job.State = JobFailed
	}
	c.leaves = nil
	c.conflicts = nil
	c.resolutions = nil
	attrs := []logging.Attr{logging.Error(err)}
	if c.job != nil {
		attrs = append(attrs,
			logging.String(logging.FieldJobID, c.job.ID),
			logging.Int("captured", c.job.Captured),
			logging.Int("target", c.job.Target),
		)
	}
	attrs = append(attrs, logging.String(logging.FieldImpact, "captured leaves were discarded"))
	logging.WarnWithContext(c.logger, "scan session failed", "session_failed", attrs...)
	c.setState(StateFailed)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Busy: c.busy, Conflicts: slices.Clone(c.conflicts)}
	if c.handle != nil {
		d := c.handle.Descriptor()
		st.Device = &d
	}
	if c.configured {
		req := c.request
		st.Request = &req
	}
	if c.job != nil {
		job := *c.job
		st.Job = &job
	}
	return st
}

// Configuration returns the device and request of the last successful
// Configure.
func (c *Controller) Configuration() (string, scanner.ScanRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured || c.handle == nil {
		return "", scanner.ScanRequest{}, false
	}
	return c.handle.Descriptor().ID, c.request, true
}

// LastPreview returns the image of the last successful Preview.
func (c *Controller) LastPreview() (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview, c.preview != nil
}

// Conflicts lists the existing files the pending commit would overwrite.
func (c *Controller) Conflicts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.conflicts)
}

// SelectDevice opens device id. It fails with DeviceUnavailable when the
// device is not enumerable; the state is then unchanged.
func (c *Controller) SelectDevice(ctx context.Context, id string) (scanner.DeviceDescriptor, error) {
	c.mu.Lock()
	if err := c.check(opSelect, StateIdle, StateDeviceSelected, StateConfiguring, StatePreviewing, StateCommitted); err != nil {
		c.unlock()
		return scanner.DeviceDescriptor{}, err
	}
	if id == "" {
		c.unlock()
		return scanner.DeviceDescriptor{}, services.Wrap(services.ErrInvalidParameters, "session", opSelect, "no device id given", nil)
	}
	c.busy = opSelect
	c.mu.Unlock()

	handle, err := c.open(ctx, id)

	c.mu.Lock()
	defer c.unlock()
	c.busy = ""
	if err != nil {
		logging.WarnWithContext(c.logger, "scanner not available", "device_unavailable",
			logging.String(logging.FieldDevice, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the scanner is connected and powered on"),
		)
		return scanner.DeviceDescriptor{}, err
	}
	if c.handle != nil {
		_ = c.handle.Close()
	}
	c.handle = handle
	c.configured = false
	c.request = scanner.ScanRequest{}
	c.preview = nil
	c.job = nil
	c.setState(StateDeviceSelected)
	return handle.Descriptor(), nil
}

func (c *Controller) open(ctx context.Context, id string) (scanner.Handle, error) {
	present := func() (bool, error) {
		devices, err := c.catalog.Devices(ctx)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(devices, func(d scanner.DeviceDescriptor) bool { return d.ID == id }), nil
	}
	found, err := present()
	if err == nil && !found {
		// the cached list may predate the device being plugged in
		c.catalog.Invalidate()
		found, err = present()
	}
	if err != nil {
		return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "session", Op: opSelect, Device: id, Message: "enumeration failed", Err: err}
	}
	if !found {
		return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "session", Op: opSelect, Device: id, Message: "device not found"}
	}
	handle, err := c.catalog.Open(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, &services.Error{Kind: services.ErrDeviceUnavailable, Component: "session", Op: opSelect, Device: id, Err: err}
	}
	return handle, nil
}

// Configure sets the acquisition parameters. A request the device cannot
// honour fails with InvalidParameters and is never adjusted.
func (c *Controller) Configure(req scanner.ScanRequest) error {
	c.mu.Lock()
	defer c.unlock()
	if err := c.check("configure", StateDeviceSelected, StateConfiguring, StatePreviewing); err != nil {
		return err
	}
	if err := scanner.Validate(c.handle.Descriptor(), req); err != nil {
		return err
	}
	c.request = req
	c.configured = true
	c.setState(StateConfiguring)
	return nil
}

// Preview acquires the whole bed at the lowest resolution. The Page Store
// is never touched.
func (c *Controller) Preview(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	if err := c.check(opPreview, StateConfiguring, StatePreviewing); err != nil {
		c.unlock()
		return nil, err
	}
	desc := c.handle.Descriptor()
	req := c.request
	req.Resolution = desc.LowestResolution()
	req.Area = scanner.MaximisedArea()
	job := c.newJob(JobPreview, req, 1)
	c.job = job
	ctx, handle := c.startAcquisition(ctx, opPreview)
	c.setState(StatePreviewing)
	c.unlock()
	defer c.inflight.Done()

	img, err := handle.Acquire(ctx, req)

	c.mu.Lock()
	defer c.unlock()
	c.endAcquisition()
	if job.State == JobFailed {
		return nil, &ScanError{JobID: job.ID, Target: 1, Err: context.Canceled}
	}
	if err != nil {
		c.fail(err)
		return nil, err
	}
	job.Captured = 1
	c.preview = img
	return img, nil
}

// Scan acquires target leaves one after another. Any failure aborts the
// job, discards what was captured and returns a *ScanError.
func (c *Controller) Scan(ctx context.Context, target int) (Job, error) {
	c.mu.Lock()
	if err := c.check(opScan, StateConfiguring, StatePreviewing); err != nil {
		c.unlock()
		return Job{}, err
	}
	if target <= 0 {
		c.unlock()
		return Job{}, services.Wrap(services.ErrInvalidParameters, "session", opScan, fmt.Sprintf("page count must be positive, got %d", target), nil)
	}
	job := c.newJob(JobPending, c.request, target)
	return c.run(ctx, job)
}

// Rescan captures count leaves with the last configuration. They target
// existing file indexes from firstIndex on, so committing usually needs
// conflict resolutions.
func (c *Controller) Rescan(ctx context.Context, firstIndex, count int) (Job, error) {
	c.mu.Lock()
	if err := c.check("rescan", StateCommitted, StateFailed); err != nil {
		c.unlock()
		return Job{}, err
	}
	if !c.configured || c.handle == nil {
		c.unlock()
		return Job{}, services.Wrap(services.ErrInvalidTransition, "session", "rescan", "no previous scan configuration", nil)
	}
	if firstIndex < 1 || count < 1 {
		c.unlock()
		return Job{}, services.Wrap(services.ErrInvalidParameters, "session", "rescan",
			fmt.Sprintf("need first index >= 1 and count >= 1, got %d and %d", firstIndex, count), nil)
	}
	job := c.newJob(JobPending, c.request, count)
	job.FirstIndex = firstIndex
	job.Rescan = true
	return c.run(ctx, job)
}

// run is entered with the lock held.
func (c *Controller) run(ctx context.Context, job *Job) (Job, error) {
	c.job = job
	c.leaves = nil
	c.conflicts = nil
	c.resolutions = map[string]assembly.Resolution{}
	ctx, handle := c.startAcquisition(ctx, opScan)
	c.setState(StateScanning)
	c.unlock()
	defer c.inflight.Done()

	jobCtx := services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(jobCtx, c.logger)
	logger.Info("scan started",
		logging.Int("target", job.Target),
		logging.Int("resolution", job.Request.Resolution),
		logging.String("mode", string(job.Request.Mode)),
		logging.String("area", job.Request.Area.String()),
	)

	var acquireErr error
	for range job.Target {
		if acquireErr = ctx.Err(); acquireErr != nil {
			break
		}
		var img image.Image
		img, acquireErr = handle.Acquire(ctx, job.Request)
		if acquireErr != nil {
			break
		}
		c.mu.Lock()
		if job.State == JobFailed {
			c.mu.Unlock()
			break
		}
		c.leaves = append(c.leaves, img)
		job.Captured++
		progress := Progress{JobID: job.ID, Captured: job.Captured, Target: job.Target}
		if eta, ok := Estimate(job.Started, c.now(), job.Captured, job.Captured, job.Target); ok {
			progress.ETA = &eta
		}
		c.mu.Unlock()
		logger.Debug("leaf captured", logging.Int("captured", progress.Captured), logging.Int("target", progress.Target))
		if c.onProg != nil {
			c.onProg(progress)
		}
	}

	c.mu.Lock()
	defer c.unlock()
	c.endAcquisition()
	if job.State == JobFailed {
		return *job, &ScanError{JobID: job.ID, Captured: job.Captured, Target: job.Target, Err: context.Canceled}
	}
	if acquireErr != nil {
		c.fail(acquireErr)
		return *job, &ScanError{JobID: job.ID, Captured: job.Captured, Target: job.Target, Err: acquireErr}
	}
	logger.Info("scan captured", logging.Int("captured", job.Captured))
	return *job, nil
}

// startAcquisition marks the controller busy and returns a cancellable
// context plus the handle to use. Called with the lock held.
func (c *Controller) startAcquisition(ctx context.Context, op string) (context.Context, scanner.Handle) {
	ctx, cancel := context.WithCancel(ctx)
	c.busy = op
	c.cancel = cancel
	c.inflight.Add(1)
	return ctx, c.handle
}

func (c *Controller) endAcquisition() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = ""
}

// Resolve answers the overwrite conflict on path. It is only accepted for
// paths reported by the last Commit.
func (c *Controller) Resolve(path string, resolution assembly.Resolution) error {
	c.mu.Lock()
	defer c.unlock()
	if err := c.check("resolve", StateScanning); err != nil {
		return err
	}
	if !slices.Contains(c.conflicts, path) {
		return &services.Error{Kind: services.ErrInvalidParameters, Component: "session", Op: "resolve", Message: "no pending conflict", Path: path}
	}
	if _, err := assembly.ParseResolution(string(resolution)); err != nil {
		return err
	}
	c.resolutions[path] = resolution
	c.logger.Info("conflict resolved",
		logging.String("path", path),
		logging.String("resolution", string(resolution)),
		logging.String(logging.FieldJobID, c.job.ID),
	)
	return nil
}

// Commit hands the captured leaves to the assembler. Unresolved overwrite
// conflicts keep the session in Scanning and are reported; other failures
// move it to Failed.
func (c *Controller) Commit(ctx context.Context) (assembly.Result, error) {
	c.mu.Lock()
	if err := c.check(opCommit, StateScanning); err != nil {
		c.unlock()
		return assembly.Result{}, err
	}
	job := c.job
	batch := assembly.Batch{
		Leaves:      slices.Clone(c.leaves),
		FirstIndex:  job.FirstIndex,
		StartRole:   pagestore.Recto,
		Resolutions: maps.Clone(c.resolutions),
	}
	c.busy = opCommit
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	result, err := c.assembler.Commit(services.WithJobID(ctx, job.ID), batch)

	c.mu.Lock()
	defer c.unlock()
	c.busy = ""
	var conflict *assembly.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.conflicts = slices.Clone(conflict.Paths)
		c.logger.Info("commit needs conflict resolution",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("conflicts", len(conflict.Paths)),
			logging.String(logging.FieldEventType, "overwrite_conflict"),
		)
		return assembly.Result{}, err
	case err != nil:
		c.fail(err)
		return assembly.Result{}, err
	}
	job.State = JobCommitted
	c.leaves = nil
	c.conflicts = nil
	c.resolutions = nil
	c.setState(StateCommitted)
	return result, nil
}

// Cancel aborts the in-flight acquisition, or drops the captured leaves of
// a job awaiting commit, and moves to Failed.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.unlock()
	switch {
	case c.busy == opScan || c.busy == opPreview:
		c.cancel()
	case c.busy != "":
		return &services.Error{Kind: services.ErrSessionBusy, Component: "session", Op: "cancel", Message: c.busy + " cannot be cancelled"}
	case c.state == StateScanning:
	default:
		return &services.Error{Kind: services.ErrInvalidTransition, Component: "session", Op: "cancel", Message: fmt.Sprintf("nothing to cancel while %s", c.state)}
	}
	c.fail(context.Canceled)
	return nil
}

// Reset returns a Failed or Committed session to Idle, releasing the device.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.unlock()
	if err := c.check("reset", StateFailed, StateCommitted, StateIdle); err != nil {
		return err
	}
	c.release()
	c.setState(StateIdle)
	return nil
}

func (c *Controller) release() {
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Debug("closing scanner failed", logging.Error(err))
		}
	}
	c.handle = nil
	c.configured = false
	c.request = scanner.ScanRequest{}
	c.preview = nil
	c.job = nil
	c.leaves = nil
	c.conflicts = nil
	c.resolutions = nil
}

// Close cancels any acquisition, waits for running acquisitions and commits
// to return and releases the device. The controller is Idle afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.inflight.Wait()

	c.mu.Lock()
	defer c.unlock()
	c.release()
	if c.state != StateIdle {
		c.setState(StateIdle)
	}
}

// Estimate projects the end of the running job when done of total leaves
// are complete.
func (c *Controller) Estimate(done, total int) (ETA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return ETA{}, false
	}
	return Estimate(c.job.Started, c.now(), c.job.Captured, done, total)
}
