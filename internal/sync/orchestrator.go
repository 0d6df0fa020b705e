package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaayshwaah/careiq-sub001/internal/mapping"
	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
	"github.com/jaayshwaah/careiq-sub001/internal/token"
)

const (
	otelScope       = "careiq-calsync/sync"
	spanRun         = "calsync.run"
	metricCreated   = "calsync.sync.events.created"
	metricUpdated   = "calsync.sync.events.updated"
	metricDeleted   = "calsync.sync.events.deleted"
	metricFailed    = "calsync.sync.events.failed"
	metricDuration  = "calsync.sync.run.duration"
	finalizeTimeout = 10 * time.Second

	// RecentRunsLimit is the number of runs reported by Status.
	RecentRunsLimit = 10
)

// ErrIntegrationInactive is returned when a run is requested for an
// integration that is disconnected or switched off.
var ErrIntegrationInactive = errors.New("integration is not active")

// Options configures an Orchestrator.
type Options struct {
	// RunTimeout bounds the wall-clock time of one run.
	RunTimeout time.Duration
	// DefaultCalendarID is used when a request names no calendar.
	DefaultCalendarID string
	// ImportCalendarType classifies events created by pull.
	ImportCalendarType string
	// MaxAttempts bounds the tries of a single provider call.
	MaxAttempts int
}

// Request describes one sync run.
type Request struct {
	IntegrationID uuid.UUID
	RunType       model.RunType
	Direction     model.Direction
	CalendarID    string
}

// Orchestrator drives sync runs. It is safe for concurrent use across
// integrations; runs of the same integration are serialized by the log
// store's single in_progress row.
type Orchestrator struct {
	store     Store
	clients   provider.Factory
	refresher *token.Refresher
	opts      Options
	log       *slog.Logger
	now       func() time.Time
	backoff   func(attempt int) time.Duration

	// OTel instruments, never nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntDeleted   metric.Int64Counter
	cntFailed    metric.Int64Counter
	histDuration metric.Int64Histogram
}

// NewOrchestrator creates an Orchestrator persisting through store and
// talking to providers through clients.
func NewOrchestrator(store Store, clients provider.Factory, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 45 * time.Second
	}
	if opts.DefaultCalendarID == "" {
		opts.DefaultCalendarID = "primary"
	}
	if opts.ImportCalendarType == "" {
		opts.ImportCalendarType = "external"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}
	hist, err := meter.Int64Histogram(metricDuration,
		metric.WithDescription("Wall-clock duration of sync runs"), metric.WithUnit("ms"))
	if err != nil {
		logger.Error("creating OTel histogram", "name", metricDuration, "error", err)
		hist = noop.Int64Histogram{}
	}

	return &Orchestrator{
		store:     store,
		clients:   clients,
		refresher: token.NewRefresher(store, logger),
		opts:      opts,
		log:       logger,
		now:       time.Now,
		backoff:   backoffDelay,

		tracer:       tracer,
		cntCreated:   mustCounter(metricCreated, "Number of events created during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Number of events updated during sync"),
		cntDeleted:   mustCounter(metricDeleted, "Number of events deleted during sync"),
		cntFailed:    mustCounter(metricFailed, "Number of events that failed to sync"),
		histDuration: hist,
	}
}

// run is the state threaded through one sync run.
type run struct {
	integ  *model.CalendarIntegration
	client provider.Client
	calID  string
	counts model.Counts
	log    *slog.Logger

	// pushed holds the remote ids written by this run's push phase.
	pushed map[string]bool
	// remote is the pull window listing, taken before push when the run pulls.
	remote []model.RemoteEvent
}

// Sync executes one run. Requests for an unknown or inactive integration,
// and requests while another run holds the integration
// (model.ErrSyncAlreadyInProgress), are rejected before any side effect.
//
// Otherwise a SyncLog is written and always finalized. When the run itself
// fails, the finalized result is returned together with the error.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (model.SyncRunResult, error) {
	if req.Direction == "" {
		req.Direction = model.DirectionBidirectional
	}
	if req.RunType == "" {
		req.RunType = model.RunManual
	}
	calID := req.CalendarID
	if calID == "" {
		calID = o.opts.DefaultCalendarID
	}

	return o.withRun(ctx, req.IntegrationID, req.RunType, req.Direction, func(ctx context.Context, r *run) error {
		r.calID = calID
		if err := o.connect(ctx, r); err != nil {
			return err
		}
		if req.Direction.Pulls() {
			if err := o.listRemote(ctx, r); err != nil {
				return err
			}
		}
		if req.Direction.Pushes() {
			if err := o.push(ctx, r); err != nil {
				return err
			}
		}
		if req.Direction.Pulls() {
			if err := o.pull(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEvent removes an internal event and its remote counterpart. The
// remote copy is deleted first so that a failure never leaves an orphaned
// remote event behind; a remote copy that is already gone counts as deleted.
// The deletion is recorded as a manual push run.
func (o *Orchestrator) DeleteEvent(ctx context.Context, integrationID, eventID uuid.UUID) (model.SyncRunResult, error) {
	integ, err := o.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return model.SyncRunResult{}, err
	}
	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return model.SyncRunResult{}, err
	}
	if ev.UserID != integ.UserID {
		return model.SyncRunResult{}, fmt.Errorf("event %s: %w", eventID, model.ErrNotFound)
	}
	if ev.ExternalID != "" && ev.ExternalProvider != integ.Provider {
		return model.SyncRunResult{}, fmt.Errorf("event %s is linked to %s, not %s: %w",
			eventID, ev.ExternalProvider, integ.Provider, model.ErrInvalid)
	}

	return o.withRun(ctx, integrationID, model.RunManual, model.DirectionPush, func(ctx context.Context, r *run) error {
		r.calID = o.opts.DefaultCalendarID
		r.counts.Processed = 1
		if ev.LinkedTo(integ.Provider) {
			if err := o.connect(ctx, r); err != nil {
				return err
			}
			err := o.call(ctx, func() error { return r.client.DeleteEvent(ctx, r.calID, ev.ExternalID) })
			switch {
			case errors.Is(err, provider.ErrNotFound):
				r.log.Info("remote event already gone", "event_id", ev.ID, "external_id", ev.ExternalID)
			case err != nil:
				r.counts.Failed = 1
				return fmt.Errorf("deleting remote event: %w", err)
			}
		}
		if err := o.store.DeleteEvent(ctx, ev.ID); err != nil {
			r.counts.Failed = 1
			return fmt.Errorf("deleting local event: %w", err)
		}
		r.counts.Deleted = 1
		r.log.Info("event deleted", "event_id", ev.ID, "external_id", ev.ExternalID)
		return nil
	})
}

// Status returns the integration's sync state and its most recent runs.
func (o *Orchestrator) Status(ctx context.Context, integrationID uuid.UUID) (model.SyncStatus, error) {
	integ, err := o.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return model.SyncStatus{}, err
	}
	runs, err := o.store.RecentRuns(ctx, integrationID, RecentRunsLimit)
	if err != nil {
		return model.SyncStatus{}, fmt.Errorf("loading recent runs: %w", err)
	}
	return model.SyncStatus{
		IntegrationID:  integ.ID,
		Provider:       integ.Provider,
		IsActive:       integ.IsActive,
		SyncEnabled:    integ.SyncEnabled,
		LastSyncAt:     integ.LastSyncAt,
		LastSyncStatus: integ.LastSyncStatus,
		ErrorMessage:   integ.ErrorMessage,
		RecentRuns:     runs,
	}, nil
}

// withRun loads the integration, opens its SyncLog, runs body under the
// per-run timeout and finalizes the log and the integration exactly once.
func (o *Orchestrator) withRun(ctx context.Context, integrationID uuid.UUID, runType model.RunType, dir model.Direction, body func(context.Context, *run) error) (model.SyncRunResult, error) {
	integ, err := o.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return model.SyncRunResult{}, err
	}
	if !integ.IsActive || integ.DeletedAt != nil {
		return model.SyncRunResult{}, fmt.Errorf("integration %s: %w", integrationID, ErrIntegrationInactive)
	}

	entry := &model.SyncLog{
		IntegrationID: integ.ID,
		RunType:       runType,
		Direction:     dir,
		StartedAt:     o.now().UTC(),
	}
	if err := o.store.BeginRun(ctx, entry); err != nil {
		return model.SyncRunResult{}, err
	}

	r := &run{
		integ:  integ,
		pushed: map[string]bool{},
		log: o.log.With(
			"integration_id", integ.ID,
			"provider", integ.Provider,
			"run_id", entry.ID,
			"direction", dir,
		),
	}

	ctx, span := o.tracer.Start(ctx, spanRun, trace.WithAttributes(
		attribute.String("calsync.integration_id", integ.ID.String()),
		attribute.String("calsync.provider", string(integ.Provider)),
		attribute.String("calsync.direction", string(dir)),
		attribute.String("calsync.run_type", string(runType)),
	))
	defer span.End()

	r.log.Info("sync run started", "run_type", runType)
	runErr := o.execute(ctx, r, body)

	result, finErr := o.finalize(ctx, r, entry, runErr)
	o.record(ctx, span, result, runErr)

	if finErr != nil {
		r.log.Error("finalizing sync run", "error", finErr)
		if runErr == nil {
			runErr = finErr
		}
	}
	return result, runErr
}

// execute runs body under the run timeout. A panic in body is converted to a
// run error so the log is still finalized.
func (o *Orchestrator) execute(ctx context.Context, r *run, body func(context.Context, *run) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync run panicked: %v", p)
		}
	}()

	err = body(ctx, r)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("sync run timed out after %s: %w", o.opts.RunTimeout, err)
	}
	return err
}

// connect builds the provider client and makes sure its credential is usable,
// refreshing at most once for the run.
func (o *Orchestrator) connect(ctx context.Context, r *run) error {
	client, err := o.clients(r.integ, r.integ.Credential())
	if err != nil {
		return fmt.Errorf("building %s client: %w", r.integ.Provider, err)
	}
	var cred model.Credential
	var refreshed bool
	err = o.call(ctx, func() error {
		var err error
		cred, refreshed, err = o.refresher.Ensure(ctx, r.integ, client)
		return err
	})
	if err != nil {
		return err
	}
	if refreshed {
		if client, err = o.clients(r.integ, cred); err != nil {
			return fmt.Errorf("building %s client: %w", r.integ.Provider, err)
		}
	}
	r.client = client
	return nil
}

// push sends every pending internal event to the provider. Linked events are
// updated, never re-created. An unlinked event whose tagged remote copy
// already exists (a previous run crashed before recording the link) is
// adopted instead of created. Per-event failures are recorded on the event
// and the loop continues.
func (o *Orchestrator) push(ctx context.Context, r *run) error {
	p := r.integ.Provider
	events, err := o.store.ListPendingPush(ctx, r.integ.UserID, p)
	if err != nil {
		return fmt.Errorf("listing pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	tagged, err := o.taggedRemote(ctx, r, events)
	if err != nil {
		return err
	}
	changed := r.remoteChanges()

	for _, ev := range events {
		if ev.LinkedTo(p) && changed(ev) {
			r.log.Info("remote copy changed since last sync, keeping remote",
				"event_id", ev.ID, "external_id", ev.ExternalID)
			continue
		}
		r.counts.Processed++
		re := mapping.ToRemote(ev)

		var (
			out     model.RemoteEvent
			created bool
		)
		switch existing, ok := tagged[ev.ID.String()]; {
		case ev.LinkedTo(p):
			err = o.call(ctx, func() error {
				var err error
				out, err = r.client.UpdateEvent(ctx, r.calID, ev.ExternalID, re)
				return err
			})
		case ok:
			r.log.Info("adopting existing remote copy", "event_id", ev.ID, "external_id", existing.ID)
			err = o.call(ctx, func() error {
				var err error
				out, err = r.client.UpdateEvent(ctx, r.calID, existing.ID, re)
				return err
			})
		default:
			created = true
			err = o.call(ctx, func() error {
				var err error
				out, err = r.client.CreateEvent(ctx, r.calID, re)
				return err
			})
		}

		if err != nil {
			if fatal(ctx, err) {
				return fmt.Errorf("pushing event %s: %w", ev.ID, err)
			}
			r.counts.Failed++
			r.log.Warn("push failed", "event_id", ev.ID, "error", err)
			if err := o.store.MarkError(ctx, ev.ID, err.Error()); err != nil {
				return fmt.Errorf("recording push failure: %w", err)
			}
			continue
		}
		if out.ID == "" {
			out.ID = ev.ExternalID
		}

		if err := o.store.MarkSynced(ctx, ev.ID, p, out.ID, o.now().UTC()); err != nil {
			return fmt.Errorf("recording push of event %s: %w", ev.ID, err)
		}
		r.pushed[out.ID] = true
		if created {
			r.counts.Created++
		} else {
			r.counts.Updated++
		}
		r.log.Debug("event pushed", "event_id", ev.ID, "external_id", out.ID, "created", created)
	}
	return nil
}

// taggedRemote lists the remote events around the unlinked pending events and
// indexes those carrying an internal event id. A failed lookup only disables
// adoption for this run; auth failures and timeouts still abort it.
func (o *Orchestrator) taggedRemote(ctx context.Context, r *run, events []*model.CalendarEvent) (map[string]model.RemoteEvent, error) {
	var window model.TimeRange
	for _, ev := range events {
		if ev.LinkedTo(r.integ.Provider) {
			continue
		}
		if window.Start.IsZero() || ev.StartTime.Before(window.Start) {
			window.Start = ev.StartTime
		}
		if ev.EndTime.After(window.End) {
			window.End = ev.EndTime
		}
	}
	if window.Start.IsZero() {
		return nil, nil
	}
	// Widen so zero-length and all-day events fall inside provider filters.
	window.Start = window.Start.Add(-24 * time.Hour)
	window.End = window.End.Add(24 * time.Hour)

	var remote []model.RemoteEvent
	err := o.call(ctx, func() error {
		var err error
		remote, err = r.client.ListEvents(ctx, r.calID, window)
		return err
	})
	var skipped *provider.ListError
	if errors.As(err, &skipped) {
		err = nil
	}
	if err != nil {
		if fatal(ctx, err) {
			return nil, fmt.Errorf("listing remote events for adoption: %w", err)
		}
		r.log.Warn("adoption lookup failed, creating without it", "error", err)
		return nil, nil
	}

	tagged := make(map[string]model.RemoteEvent)
	for _, re := range remote {
		if re.SourceID != "" {
			tagged[re.SourceID] = re
		}
	}
	return tagged, nil
}

// listRemote lists the pull window once per run. It runs before push so that
// push can leave conflicting linked events to pull.
func (o *Orchestrator) listRemote(ctx context.Context, r *run) error {
	window := model.PullWindow(o.now())
	err := o.call(ctx, func() error {
		var err error
		r.remote, err = r.client.ListEvents(ctx, r.calID, window)
		return err
	})
	var skipped *provider.ListError
	if errors.As(err, &skipped) {
		for _, s := range skipped.Skipped {
			r.counts.Processed++
			r.counts.Failed++
			r.log.Warn("remote event unreadable, skipped", "external_id", s.ID, "error", s.Err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing remote events: %w", err)
	}
	return nil
}

// remoteChanges reports, for a linked internal event, whether its remote copy
// in the pull listing was modified after the event was last synced. Without
// a listing (push-only runs) nothing counts as changed.
func (r *run) remoteChanges() func(*model.CalendarEvent) bool {
	updated := make(map[string]time.Time, len(r.remote))
	for _, re := range r.remote {
		if !re.UpdatedAt.IsZero() {
			updated[re.ID] = re.UpdatedAt
		}
	}
	return func(ev *model.CalendarEvent) bool {
		at, ok := updated[ev.ExternalID]
		if !ok {
			return false
		}
		return ev.LastSyncedAt == nil || at.After(*ev.LastSyncedAt)
	}
}

// pull imports remote events from the bounded window listed by listRemote.
// Remote wins: a linked internal event is overwritten with the remote
// fields, including local edits still pending push. Events written by this
// run's push phase are skipped.
func (o *Orchestrator) pull(ctx context.Context, r *run) error {
	for _, re := range r.remote {
		if r.pushed[re.ID] {
			continue
		}
		r.counts.Processed++

		ev, err := o.pulledEvent(ctx, r, re)
		if err != nil {
			return err
		}
		created, err := o.store.UpsertFromPull(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("storing pulled event %s: %w", re.ID, err)
			}
			r.counts.Failed++
			r.log.Warn("pull failed", "external_id", re.ID, "error", err)
			continue
		}
		if created {
			r.counts.Created++
		} else {
			r.counts.Updated++
		}
		r.log.Debug("event pulled", "event_id", ev.ID, "external_id", re.ID, "created", created)
	}
	return nil
}

// pulledEvent maps a remote event and decides which internal row it targets:
// the row linked by external id, else the tagged origin row when it belongs
// to the same user, else a new row.
func (o *Orchestrator) pulledEvent(ctx context.Context, r *run, re model.RemoteEvent) (*model.CalendarEvent, error) {
	p := r.integ.Provider
	ev := mapping.ToInternal(re, r.integ.UserID, o.opts.ImportCalendarType)
	ev.ExternalProvider = p

	existing, err := o.store.GetEventByExternalID(ctx, r.integ.UserID, p, re.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up pulled event %s: %w", re.ID, err)
	}
	if existing == nil && ev.ID != uuid.Nil {
		origin, err := o.store.GetEvent(ctx, ev.ID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			ev.ID = uuid.Nil
		case err != nil:
			return nil, fmt.Errorf("looking up origin of pulled event %s: %w", re.ID, err)
		case origin.UserID != r.integ.UserID || (origin.ExternalID != "" && origin.ExternalID != re.ID):
			ev.ID = uuid.Nil
		default:
			existing = origin
		}
	}
	if existing != nil {
		ev.ID = existing.ID
		ev.CalendarTypeID = existing.CalendarTypeID
		if ev.Metadata == nil {
			ev.Metadata = existing.Metadata
		}
	}
	return ev, nil
}

// finalize writes the terminal SyncLog state and the integration's last-run
// fields. It runs on a context detached from the run's deadline.
func (o *Orchestrator) finalize(ctx context.Context, r *run, entry *model.SyncLog, runErr error) (model.SyncRunResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	finished := o.now().UTC()
	entry.Counts = r.counts
	entry.DurationMs = finished.Sub(entry.StartedAt).Milliseconds()
	entry.FinishedAt = &finished
	entry.Status = model.RunSuccess

	var integMsg string
	switch {
	case runErr != nil:
		entry.Status = model.RunError
		entry.ErrorMessage = runErrorMessage(runErr)
		integMsg = entry.ErrorMessage
	case r.counts.AllFailed():
		entry.Status = model.RunError
		entry.ErrorMessage = fmt.Sprintf("all %d events failed to sync", r.counts.Failed)
		integMsg = entry.ErrorMessage
	case r.counts.Failed > 0:
		entry.ErrorMessage = fmt.Sprintf("%d of %d events failed to sync", r.counts.Failed, r.counts.Processed)
	}

	integStatus := model.IntegrationSuccess
	if entry.Status == model.RunError {
		integStatus = model.IntegrationError
	}

	var errs []error
	if err := o.store.FinishRun(ctx, entry); err != nil {
		errs = append(errs, fmt.Errorf("writing sync log: %w", err))
	}
	if err := o.store.UpdateIntegration(ctx, r.integ.ID, model.FinishUpdate(finished, integStatus, integMsg)); err != nil {
		errs = append(errs, fmt.Errorf("updating integration status: %w", err))
	}

	result := model.SyncRunResult{
		LogID:      entry.ID,
		Counts:     entry.Counts,
		DurationMs: entry.DurationMs,
		Status:     entry.Status,
		Error:      entry.ErrorMessage,
	}

	logArgs := []any{
		"status", entry.Status,
		"processed", r.counts.Processed,
		"created", r.counts.Created,
		"updated", r.counts.Updated,
		"deleted", r.counts.Deleted,
		"failed", r.counts.Failed,
		"duration_ms", entry.DurationMs,
	}
	if entry.Status == model.RunError {
		r.log.Warn("sync run failed", append(logArgs, "error", entry.ErrorMessage)...)
	} else {
		r.log.Info("sync run finished", logArgs...)
	}
	return result, errors.Join(errs...)
}

// record emits metrics and span attributes for a finished run.
func (o *Orchestrator) record(ctx context.Context, span trace.Span, res model.SyncRunResult, runErr error) {
	if res.Created > 0 {
		o.cntCreated.Add(ctx, int64(res.Created))
	}
	if res.Updated > 0 {
		o.cntUpdated.Add(ctx, int64(res.Updated))
	}
	if res.Deleted > 0 {
		o.cntDeleted.Add(ctx, int64(res.Deleted))
	}
	if res.Failed > 0 {
		o.cntFailed.Add(ctx, int64(res.Failed))
	}
	o.histDuration.Record(ctx, res.DurationMs, metric.WithAttributes(attribute.String("status", string(res.Status))))

	span.SetAttributes(
		attribute.Int("sync.processed", res.Processed),
		attribute.Int("sync.created", res.Created),
		attribute.Int("sync.updated", res.Updated),
		attribute.Int("sync.deleted", res.Deleted),
		attribute.Int("sync.failed", res.Failed),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, res.Error)
	}
}

// call runs one provider operation under the retry policy.
func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	return retry(ctx, o.opts.MaxAttempts, o.backoff, fn)
}

// fatal reports whether err must abort the whole run rather than one event.
func fatal(ctx context.Context, err error) bool {
	return provider.IsAuth(err) || ctx.Err() != nil
}

func runErrorMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrAuthExpiredNoRefresh):
		return token.ErrAuthExpiredNoRefresh.Error()
	case provider.IsAuth(err):
		return "provider rejected the stored credentials; reconnect the calendar to re-authorize (" + err.Error() + ")"
	}
	return err.Error()
}
