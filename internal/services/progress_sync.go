package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories"
	"github.com/SAP-F-2025/workshop-progress/internal/validator"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// maxAckedHistory bounds how many acknowledged commands stay queryable.
const maxAckedHistory = 1024

// SyncOptions controls delivery of step-completion writes.
type SyncOptions struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	// ServiceToken authenticates commands restored from the outbox, whose
	// learner token is not persisted.
	ServiceToken string
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.InitialWait <= 0 {
		o.InitialWait = 250 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Second
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	return o
}

// ModuleAdvance records a module whose local progress was raised to the
// server's value.
type ModuleAdvance struct {
	ModuleID uint `json:"module_id"`
	From     int  `json:"from"`
	To       int  `json:"to"`
}

// ReconcileReport summarises one reconciliation.
type ReconcileReport struct {
	WorkshopID     uint             `json:"workshop_id"`
	Advanced       []ModuleAdvance  `json:"advanced"`
	Conflicts      []*ConflictError `json:"conflicts"`
	SectionsMarked int              `json:"sections_marked"`
}

// ProgressSyncClient delivers progress to the workshop service. Step
// completions are queued per (user, module) and delivered in order with
// retries; a command that exhausts its retries is kept in the outbox and
// delivered again before the next command of its module, after any later
// successful delivery, or on Flush.
type ProgressSyncClient struct {
	api       client.WorkshopAPI
	outbox    repositories.OutboxRepository
	publisher events.EventPublisher
	validator *validator.Validator
	logger    *slog.Logger
	opts      SyncOptions

	// lifetime context for background delivery; request contexts are never
	// used so navigating away does not cancel writes
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seq      uint64
	queues   map[moduleKey]*commandQueue
	commands map[string]*progressCommand
	acked    []string
	closed   bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewProgressSyncClient(
	api client.WorkshopAPI,
	outbox repositories.OutboxRepository,
	publisher events.EventPublisher,
	validator *validator.Validator,
	logger *slog.Logger,
	opts SyncOptions,
) *ProgressSyncClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressSyncClient{
		api:       api,
		outbox:    outbox,
		publisher: publisher,
		validator: validator,
		logger:    logger.With("component", "progress_sync"),
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[moduleKey]*commandQueue),
		commands:  make(map[string]*progressCommand),
		sleep:     sleepContext,
	}
}

// PersistStepCompletion queues a write of (userID, moduleID, index) and returns
// immediately. A still-queued write of the same position is reused.
func (c *ProgressSyncClient) PersistStepCompletion(ctx context.Context, token, userID string, moduleID uint, index, timeSpent int) CommandSnapshot {
	key := moduleKey{userID, moduleID}
	now := time.Now()

	c.mu.Lock()
	q := c.queue(key)
	if existing := q.find(index); existing != nil {
		if timeSpent > existing.update.TimeSpent {
			existing.update.TimeSpent = timeSpent
		}
		if token != "" {
			existing.token = token
		}
		snap := existing.snapshot()
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Coalesced duplicate progress command",
			"command_id", snap.ID,
			"user_id", userID,
			"module_id", moduleID,
			"position", index)
		return snap
	}

	c.seq++
	cmd := &progressCommand{
		id:  uuid.NewString(),
		seq: c.seq,
		key: key,
		update: models.ProgressUpdate{
			UserID:          userID,
			ModuleID:        moduleID,
			SubstepPosition: index,
			TimeSpent:       timeSpent,
		},
		token:     token,
		status:    CommandPending,
		createdAt: now,
		updatedAt: now,
	}
	q.insert(cmd)
	c.commands[cmd.id] = cmd
	snap := cmd.snapshot()
	c.startLocked(key, q)
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Queued progress command",
		"command_id", snap.ID,
		"user_id", userID,
		"module_id", moduleID,
		"position", index)
	return snap
}

// Status returns the latest snapshot of a command.
func (c *ProgressSyncClient) Status(id string) (CommandSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.commands[id]
	if !ok {
		return CommandSnapshot{}, false
	}
	return cmd.snapshot(), true
}

// Commands returns the known commands of a user, oldest first.
func (c *ProgressSyncClient) Commands(userID string) []CommandSnapshot {
	c.mu.Lock()
	cmds := make([]*progressCommand, 0)
	for _, cmd := range c.commands {
		if cmd.update.UserID == userID {
			cmds = append(cmds, cmd)
		}
	}
	out := make([]CommandSnapshot, len(cmds))
	sortCommands(cmds)
	for i, cmd := range cmds {
		out[i] = cmd.snapshot()
	}
	c.mu.Unlock()
	return out
}

// Pending counts commands that are not yet acknowledged.
func (c *ProgressSyncClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		n += len(q.items)
	}
	return n
}

// Flush restarts delivery of every queue whose head is waiting after a
// failure. It returns the number of queues restarted.
func (c *ProgressSyncClient) Flush(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.kickDeferredLocked(moduleKey{})
	if n > 0 {
		c.logger.InfoContext(ctx, "Flushing deferred progress commands", "queues", n)
	}
	return n
}

// Restore loads commands left in the outbox by a previous process. They are
// delivered on the next Flush or when their module sees new activity.
func (c *ProgressSyncClient) Restore(ctx context.Context) (int, error) {
	stored, err := c.outbox.List(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	restored := 0
	for _, p := range stored {
		if _, known := c.commands[p.ID]; known {
			continue
		}
		var update models.ProgressUpdate
		if err := json.Unmarshal(p.Payload, &update); err != nil {
			c.logger.Error("Skipping unreadable outbox entry", "command_id", p.ID, "error", err)
			continue
		}
		key := moduleKey{p.UserID, p.ModuleID}
		cmd := &progressCommand{
			id:        p.ID,
			seq:       p.Sequence,
			key:       key,
			update:    update,
			status:    CommandFailed,
			attempts:  p.Attempts,
			lastError: p.LastError,
			stored:    true,
			createdAt: p.CreatedAt,
			updatedAt: p.UpdatedAt,
		}
		q := c.queue(key)
		q.insert(cmd)
		q.deferred = true
		c.commands[cmd.id] = cmd
		if p.Sequence > c.seq {
			c.seq = p.Sequence
		}
		restored++
	}
	if restored > 0 {
		c.logger.Info("Restored progress commands from outbox", "count", restored)
	}
	return restored, nil
}

// Close stops accepting work and waits for in-flight deliveries. When ctx
// expires first, pending retries are cancelled and their commands are moved
// to the outbox.
func (c *ProgressSyncClient) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		c.cancel()
		<-done
	}
	c.cancel()

	c.persistQueued()
	return err
}

// persistQueued moves commands that never got a worker into the outbox.
func (c *ProgressSyncClient) persistQueued() {
	c.mu.Lock()
	var pending []*models.PendingProgressCommand
	for _, q := range c.queues {
		for _, cmd := range q.items {
			if cmd.stored {
				continue
			}
			cmd.stored = true
			pending = append(pending, c.pendingRecordLocked(cmd))
		}
	}
	c.mu.Unlock()

	for _, p := range pending {
		if err := c.outbox.Save(context.Background(), p); err != nil {
			c.logger.Error("Failed to save progress command to outbox",
				"command_id", p.ID,
				"error", err)
		}
	}
}

func (c *ProgressSyncClient) queue(key moduleKey) *commandQueue {
	q, ok := c.queues[key]
	if !ok {
		q = &commandQueue{}
		c.queues[key] = q
	}
	return q
}

// startLocked launches a worker for the queue unless one is running.
func (c *ProgressSyncClient) startLocked(key moduleKey, q *commandQueue) bool {
	if q.running || len(q.items) == 0 || c.closed {
		return false
	}
	q.running = true
	q.deferred = false
	c.wg.Add(1)
	go c.drain(key)
	return true
}

// kickDeferredLocked restarts every deferred queue except skip.
func (c *ProgressSyncClient) kickDeferredLocked(skip moduleKey) int {
	n := 0
	for key, q := range c.queues {
		if key == skip || !q.deferred {
			continue
		}
		if c.startLocked(key, q) {
			n++
		}
	}
	return n
}

// drain delivers the queue head by head until it is empty or a head fails.
func (c *ProgressSyncClient) drain(key moduleKey) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		q := c.queues[key]
		cmd := q.head()
		if cmd == nil {
			q.running = false
			delete(c.queues, key)
			c.mu.Unlock()
			return
		}
		update, token := cmd.update, cmd.token
		c.mu.Unlock()

		err := c.deliver(cmd, update, token)

		c.mu.Lock()
		cmd.updatedAt = time.Now()
		switch {
		case err == nil:
			cmd.status = CommandAcked
			cmd.lastError = ""
			q.popHead()
			c.rememberAckedLocked(cmd.id)
			stored := cmd.stored
			c.kickDeferredLocked(key)
			c.mu.Unlock()

			if stored {
				c.forget(cmd.id)
			}

		case isPermanentRejection(err):
			// the service will never accept this write; drop it so later
			// positions of the module are not blocked
			cmd.status = CommandFailed
			cmd.lastError = err.Error()
			q.popHead()
			stored := cmd.stored
			c.mu.Unlock()

			c.logger.Error("Progress command rejected by workshop service",
				"command_id", cmd.id,
				"user_id", update.UserID,
				"module_id", update.ModuleID,
				"position", update.SubstepPosition,
				"error", err)
			if stored {
				c.forget(cmd.id)
			}

		default:
			cmd.status = CommandFailed
			cmd.lastError = err.Error()
			q.running = false
			q.deferred = true
			pending := c.pendingRecordLocked(cmd)
			cmd.stored = true
			c.mu.Unlock()

			c.logger.Warn("Progress command deferred after retries",
				"command_id", cmd.id,
				"user_id", update.UserID,
				"module_id", update.ModuleID,
				"position", update.SubstepPosition,
				"attempts", pending.Attempts,
				"error", err)

			// the outbox write must not depend on the lifetime context, which
			// may already be cancelled during shutdown
			if err := c.outbox.Save(context.Background(), pending); err != nil {
				c.logger.Error("Failed to save progress command to outbox",
					"command_id", cmd.id,
					"error", err)
			}
			return
		}
	}
}

// deliver posts one command with exponential backoff.
func (c *ProgressSyncClient) deliver(cmd *progressCommand, update models.ProgressUpdate, token string) error {
	if token == "" {
		token = c.opts.ServiceToken
	}

	var lastErr error
	for attempt := range c.opts.MaxAttempts {
		c.mu.Lock()
		cmd.attempts++
		cmd.status = CommandPending
		cmd.updatedAt = time.Now()
		c.mu.Unlock()

		err := c.api.PostProgress(c.ctx, token, update)
		if err == nil {
			return nil
		}
		lastErr = err

		c.mu.Lock()
		cmd.lastError = err.Error()
		c.mu.Unlock()

		if isPermanentRejection(err) || c.ctx.Err() != nil {
			return err
		}
		if attempt == c.opts.MaxAttempts-1 {
			break
		}
		if err := c.sleep(c.ctx, c.backoff(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoff computes the wait before the next attempt.
func (c *ProgressSyncClient) backoff(attempt int) time.Duration {
	wait := float64(c.opts.InitialWait) * math.Pow(c.opts.Multiplier, float64(attempt))
	if wait > float64(c.opts.MaxWait) {
		wait = float64(c.opts.MaxWait)
	}

	// Add ±20% jitter.
	wait += wait * 0.2 * (2*rand.Float64() - 1)

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

func (c *ProgressSyncClient) pendingRecordLocked(cmd *progressCommand) *models.PendingProgressCommand {
	payload, _ := json.Marshal(cmd.update)
	return &models.PendingProgressCommand{
		ID:        cmd.id,
		Sequence:  cmd.seq,
		UserID:    cmd.update.UserID,
		ModuleID:  cmd.update.ModuleID,
		Position:  cmd.update.SubstepPosition,
		Attempts:  cmd.attempts,
		LastError: truncate(cmd.lastError, 1000),
		Payload:   datatypes.JSON(payload),
		CreatedAt: cmd.createdAt,
		UpdatedAt: cmd.updatedAt,
	}
}

func (c *ProgressSyncClient) forget(id string) {
	if err := c.outbox.Delete(context.Background(), id); err != nil {
		c.logger.Error("Failed to remove delivered command from outbox", "command_id", id, "error", err)
	}
}

func (c *ProgressSyncClient) rememberAckedLocked(id string) {
	c.acked = append(c.acked, id)
	if len(c.acked) > maxAckedHistory {
		delete(c.commands, c.acked[0])
		c.acked = c.acked[1:]
	}
}

// ===== SYNCHRONOUS CALLS =====

// PersistQuizSubmission sends a quiz submission once. A failure is returned
// as a PersistenceError so the learner can retry.
func (c *ProgressSyncClient) PersistQuizSubmission(ctx context.Context, token, userID string, quizID uint, answers map[uint]string) (*models.QuizScore, error) {
	ctx = context.WithoutCancel(ctx)
	score, err := c.api.SubmitQuiz(ctx, token, quizID, models.QuizSubmission{UserID: userID, Answers: answers})
	if err != nil {
		c.logger.WarnContext(ctx, "Quiz submission failed",
			"user_id", userID,
			"quiz_id", quizID,
			"error", err)
		return nil, NewPersistenceError("submit quiz", err)
	}

	c.publish(ctx, events.NewProgressEvent(events.EventQuizSubmitted, userID, events.QuizSubmittedEvent{
		QuizID: quizID,
		Score:  score.Score,
		Total:  score.Total,
	}))
	return score, nil
}

// SubmitFeedback validates and sends workshop feedback once.
func (c *ProgressSyncClient) SubmitFeedback(ctx context.Context, token string, feedback models.Feedback) error {
	if err := c.validator.ValidateStruct(&feedback); err != nil {
		return err
	}
	if err := c.api.SubmitFeedback(context.WithoutCancel(ctx), token, feedback); err != nil {
		return NewPersistenceError("submit feedback", err)
	}
	return nil
}

// Reconcile merges the server's progress for a workshop into store. Server
// values ahead of local advance the store; server values behind local are
// reported as conflicts, the local value is kept and re-sent.
func (c *ProgressSyncClient) Reconcile(ctx context.Context, token string, store *ProgressStore, userID string, workshop *models.Workshop) (*ReconcileReport, error) {
	progress, err := c.api.GetProgress(ctx, token, userID, workshop.ID)
	if err != nil {
		return nil, NewPersistenceError("fetch progress", err)
	}

	report := &ReconcileReport{WorkshopID: workshop.ID}
	plans := workshop.Plan()
	totals := make(map[uint]int, len(plans))
	for _, p := range plans {
		totals[p.ModuleID] = len(p.Steps)
	}

	for _, mp := range progress.Modules {
		total, known := totals[mp.ModuleID]
		if !known {
			c.logger.DebugContext(ctx, "Ignoring progress for unknown module",
				"workshop_id", workshop.ID,
				"module_id", mp.ModuleID)
			continue
		}
		server := min(mp.HighestCompleted, total-1)

		advanced, local := store.ApplyServerProgress(userID, mp.ModuleID, server)
		switch {
		case advanced:
			report.Advanced = append(report.Advanced, ModuleAdvance{ModuleID: mp.ModuleID, From: local, To: server})
		case server < local:
			conflict := &ConflictError{ModuleID: mp.ModuleID, LocalValue: local, ServerValue: server}
			report.Conflicts = append(report.Conflicts, conflict)
			c.logger.WarnContext(ctx, "Server progress behind local progress, keeping local",
				"user_id", userID,
				"workshop_id", workshop.ID,
				"module_id", mp.ModuleID,
				"local", local,
				"server", server)
			c.PersistStepCompletion(ctx, token, userID, mp.ModuleID, local, 0)
		}
	}

	sectionIDs := make(map[uint]bool, len(workshop.Sections))
	for _, s := range workshop.Sections {
		sectionIDs[s.ID] = true
	}
	for _, sp := range progress.Sections {
		if sp.Completed && sectionIDs[sp.SectionID] && store.ApplyServerSection(ctx, userID, workshop.ID, sp.SectionID) {
			report.SectionsMarked++
		}
	}
	if report.SectionsMarked > 0 && len(workshop.Modules) == 0 {
		if advanced, from, to := store.RestoreSectionPrefix(ctx, userID, workshop); advanced {
			report.Advanced = append(report.Advanced, ModuleAdvance{ModuleID: workshop.ID, From: from, To: to})
		}
	}

	if len(report.Advanced) > 0 || len(report.Conflicts) > 0 || report.SectionsMarked > 0 {
		moduleIDs := make([]uint, 0, len(report.Advanced)+len(report.Conflicts))
		for _, a := range report.Advanced {
			moduleIDs = append(moduleIDs, a.ModuleID)
		}
		for _, cf := range report.Conflicts {
			moduleIDs = append(moduleIDs, cf.ModuleID)
		}
		c.publish(ctx, events.NewProgressEvent(events.EventProgressReconciled, userID, events.ProgressReconciledEvent{
			WorkshopID:    workshop.ID,
			AdvancedCount: len(report.Advanced),
			ConflictCount: len(report.Conflicts),
			ModuleIDs:     moduleIDs,
		}))
	}

	c.logger.InfoContext(ctx, "Reconciled workshop progress",
		"user_id", userID,
		"workshop_id", workshop.ID,
		"advanced", len(report.Advanced),
		"conflicts", len(report.Conflicts),
		"sections_marked", report.SectionsMarked)
	return report, nil
}

func (c *ProgressSyncClient) publish(ctx context.Context, event *events.ProgressEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish progress event",
			"event_type", event.Type,
			"error", err)
	}
}

// isPermanentRejection reports a 4xx answer other than timeouts and rate
// limiting.
func isPermanentRejection(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && !apiErr.Temporary()
}

func sortCommands(cmds []*progressCommand) {
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].seq < cmds[j].seq })
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
