package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/freight/composer"
	"github.com/RealZimboGuy/freightflow/internal/freight/notify"
	"github.com/RealZimboGuy/freightflow/internal/lease"
	"github.com/RealZimboGuy/freightflow/internal/repository"
	"github.com/RealZimboGuy/freightflow/internal/workflows"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDelays struct {
	mu      sync.Mutex
	minutes float64
	calls   int
	hang    bool
}

// GetDelay with hang set waits for its deadline and answers like a client that gave up.
func (f *fakeDelays) GetDelay(ctx context.Context, _, _ string) float64 {
	f.mu.Lock()
	f.calls++
	hang, minutes := f.hang, f.minutes
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return 0
	}
	return minutes
}

type hangingComposer struct{}

func (hangingComposer) Compose(ctx context.Context, _ float64) string {
	<-ctx.Done()
	return composer.FailureMessage
}

type fakeComposer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeComposer) Compose(_ context.Context, _ float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "Your freight is running late."
}

type sentMessage struct {
	to, subject, text string
}

// fakeEmail fails the first failures sends and records the rest.
type fakeEmail struct {
	mu       sync.Mutex
	failures int
	attempts int
	sent     []sentMessage
	block    bool
}

func (f *fakeEmail) SendEmail(ctx context.Context, to, subject, text string) error {
	f.mu.Lock()
	f.attempts++
	block := f.block
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("smtp relay unavailable")
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{to, subject, text})
	f.mu.Unlock()
	return nil
}

func (f *fakeEmail) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeEmail) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type freightHarness struct {
	t        *testing.T
	clock    *core.FakeClock
	repo     *repository.WorkflowRepository
	actions  *repository.WorkflowActionRepository
	manager  *WorkflowManager
	executor *WorkflowExecutor
	delays   *fakeDelays
	composer *fakeComposer
	email    *fakeEmail
}

func newFreightHarness(t *testing.T, delay float64, retry models.RetryConfig, messages workflows.MessageComposer) *freightHarness {
	t.Helper()
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	ctx := context.Background()
	db, err := repository.OpenSqlLite(ctx, filepath.Join(t.TempDir(), "freightflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &freightHarness{
		t:        t,
		clock:    core.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)),
		delays:   &fakeDelays{minutes: delay},
		composer: &fakeComposer{},
		email:    &fakeEmail{},
	}
	if messages == nil {
		messages = h.composer
	}
	h.repo = repository.NewWorkflowRepository(db, h.clock)
	h.actions = repository.NewWorkflowActionRepository(db)
	collaborators := workflows.Collaborators{
		Delays:     h.delays,
		Composer:   messages,
		Dispatcher: notify.NewDispatcher(h.email, nil),
	}
	registry := map[string]func() core.Workflow{
		workflows.WorkflowType: workflows.NewFreightDelayWorkflowFactory(h.clock, collaborators, retry),
	}
	locker := lease.NewLocalLocker()
	h.manager = NewWorkflowManager(h.repo, h.actions, repository.NewExecutorRepository(db),
		repository.NewWorkflowDefinitionRepository(db), registry, h.clock, locker)
	require.NoError(t, h.manager.registerExecutorInstance(ctx))
	h.executor = NewWorkflowExecutor(h.repo, h.actions, locker, h.clock, h.manager.executorID)
	return h
}

func defaultRetry() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: 2 * time.Second,
		RetryIntervalMax: time.Minute,
		StepTimeout:      2 * time.Second,
	}
}

// runPending claims every due execution and runs it to its next stopping point.
func (h *freightHarness) runPending() int {
	ctx := context.Background()
	queue := make(chan core.Workflow, 10)
	h.manager.pollAndRunWorkflows(ctx, queue, "default", 10)
	n := 0
	for {
		select {
		case w := <-queue:
			h.executor.RunWorkflow(ctx, w, "0")
			n++
		default:
			return n
		}
	}
}

func (h *freightHarness) get(executionID string) *domain.Workflow {
	wf, err := h.manager.GetExecution(context.Background(), executionID)
	require.NoError(h.t, err)
	return wf
}

func emailRequest(origin, destination string, threshold float64) models.WorkflowRequest {
	return models.WorkflowRequest{
		Origin:           origin,
		Destination:      destination,
		ThresholdMinutes: threshold,
		Notify:           true,
		RecipientChannel: models.ChannelEmail,
		Recipient:        models.Recipient{Email: "ops@example.com"},
	}
}

func (h *freightHarness) start(executionID string, req models.WorkflowRequest) *domain.Workflow {
	wf, err := h.manager.StartExecution(context.Background(), workflows.WorkflowType,
		models.StartExecutionRequest{ExecutionID: executionID, Request: req})
	require.NoError(h.t, err)
	return wf
}

// seed stores an execution as a crashed run would have left it in phase.
func (h *freightHarness) seed(executionID, phase string, req models.WorkflowRequest, extra map[string]any) {
	reqJSON, err := json.Marshal(req)
	require.NoError(h.t, err)
	vars := map[string]string{models.RequestStateVar: string(reqJSON)}
	for k, v := range extra {
		b, err := json.Marshal(v)
		require.NoError(h.t, err)
		vars[k] = string(b)
	}
	varsJSON, err := json.Marshal(vars)
	require.NoError(h.t, err)
	now := h.clock.Now()
	_, err = h.repo.Save(context.Background(), &domain.Workflow{
		Status:         models.StatusInProgress,
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  "default",
		WorkflowType:   workflows.WorkflowType,
		ExternalID:     executionID,
		State:          phase,
		StateVars:      sql.NullString{String: string(varsJSON), Valid: true},
	})
	require.NoError(h.t, err)
}

func composedVars(delay float64) map[string]any {
	return map[string]any{
		workflows.VarDelay:    workflows.DelayEstimate{Minutes: delay},
		workflows.VarDecision: workflows.Decision{Outcome: workflows.Proceed, Reason: "late"},
		workflows.VarMessage:  workflows.NotificationMessage{Subject: "Freight Delay Notification: Dublin to Limerick", Text: "cached text"},
	}
}

func TestFreightWorkflow_NotifiesOnceAboveThreshold(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), composer.NewComposer(config.OpenAIConfig{}))
	h.start("route-1", emailRequest("Dublin", "Limerick", 20))

	assert.Equal(t, 1, h.runPending())

	wf := h.get("route-1")
	assert.Equal(t, workflows.PhaseNotified, wf.State)
	assert.Equal(t, models.StatusFinished, wf.Status)
	assert.Equal(t, "notified via EMAIL", wf.Reason.String)
	sent := h.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMessage{"ops@example.com", "Freight Delay Notification: Dublin to Limerick", composer.FailureMessage}, sent[0])

	delay, msg := workflows.ReadOutcome(wf.Vars())
	require.NotNil(t, delay)
	require.NotNil(t, msg)
	assert.Equal(t, 30.0, delay.Minutes)
	assert.Equal(t, composer.FailureMessage, msg.Text)

	// starting the same execution again is a no-op
	again := h.start("route-1", emailRequest("Dublin", "Limerick", 20))
	assert.Equal(t, wf.ID, again.ID)
	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.runPending())
	assert.Len(t, h.email.Sent(), 1)

	checkpoints, err := h.actions.CountByType(context.Background(), wf.ID, models.ActionCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, 1, checkpoints)
}

func TestFreightWorkflow_NotifyDisabledSkips(t *testing.T) {
	h := newFreightHarness(t, 90, defaultRetry(), nil)
	req := emailRequest("Dublin", "Limerick", 10)
	req.Notify = false
	h.start("route-2", req)

	h.runPending()

	wf := h.get("route-2")
	assert.Equal(t, workflows.PhaseSkipped, wf.State)
	assert.Equal(t, models.StatusFinished, wf.Status)
	assert.Equal(t, "notifications disabled", wf.Reason.String)
	assert.Equal(t, 0, h.composer.calls)
	assert.Empty(t, h.email.Sent())
}

func TestFreightWorkflow_DelayEqualToThresholdSkips(t *testing.T) {
	h := newFreightHarness(t, 20, defaultRetry(), nil)
	h.start("route-3", emailRequest("Dublin", "Limerick", 20))

	h.runPending()

	wf := h.get("route-3")
	assert.Equal(t, workflows.PhaseSkipped, wf.State)
	assert.Contains(t, wf.Reason.String, "within threshold")
	assert.Equal(t, 0, h.composer.calls)
	assert.Empty(t, h.email.Sent())
}

func TestFreightWorkflow_GeneratedExecutionID(t *testing.T) {
	h := newFreightHarness(t, 5, defaultRetry(), nil)
	wf, err := h.manager.StartExecution(context.Background(), workflows.WorkflowType,
		models.StartExecutionRequest{Request: emailRequest("Cork", "Galway", 10)})
	require.NoError(t, err)
	assert.Regexp(t, `^freight-notification-[0-9a-f-]{36}$`, wf.ExternalID)
	assert.Equal(t, workflows.PhaseStarted, wf.State)
}

func TestFreightWorkflow_InvalidRequestStoredAsFailed(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	req := emailRequest("Dublin", "Limerick", 20)
	req.Recipient.Email = ""

	wf, err := h.manager.StartExecution(context.Background(), workflows.WorkflowType,
		models.StartExecutionRequest{ExecutionID: "route-bad", Request: req})

	require.ErrorIs(t, err, models.ErrValidation)
	require.NotNil(t, wf)
	stored := h.get("route-bad")
	assert.Equal(t, workflows.PhaseFailed, stored.State)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.Reason.String, "recipient.email")
	assert.Equal(t, 0, h.runPending())
	assert.Equal(t, 0, h.delays.calls)
}

func TestFreightWorkflow_ResumeWithIntentDoesNotResend(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	vars := composedVars(30)
	vars[workflows.VarDispatchIntent] = workflows.DispatchIntent{Channel: models.ChannelEmail, Recorded: h.clock.Now()}
	h.seed("route-4", workflows.PhaseMessageComposed, emailRequest("Dublin", "Limerick", 20), vars)

	h.runPending()

	wf := h.get("route-4")
	assert.Equal(t, workflows.PhaseFailed, wf.State)
	assert.Equal(t, models.StatusFailed, wf.Status)
	assert.Equal(t, workflows.ReasonDispatchUnknown, wf.Reason.String)
	assert.Equal(t, 0, h.email.Attempts())
}

func TestFreightWorkflow_ResumeComposedSendsOnce(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	h.seed("route-5", workflows.PhaseMessageComposed, emailRequest("Dublin", "Limerick", 20), composedVars(30))

	h.runPending()

	wf := h.get("route-5")
	assert.Equal(t, workflows.PhaseNotified, wf.State)
	require.Len(t, h.email.Sent(), 1)
	assert.Equal(t, "cached text", h.email.Sent()[0].text)
	assert.Equal(t, 0, h.composer.calls)
	assert.Equal(t, 0, h.delays.calls)
}

func TestFreightWorkflow_TransportErrorRetriesThenSends(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	h.email.failures = 1
	h.start("route-6", emailRequest("Dublin", "Limerick", 20))

	h.runPending()
	wf := h.get("route-6")
	assert.Equal(t, workflows.PhaseMessageComposed, wf.State)
	assert.Equal(t, models.StatusInProgress, wf.Status)
	assert.Equal(t, 1, wf.RetryCount)
	_, hasIntent := wf.Vars()[workflows.VarDispatchIntent]
	assert.False(t, hasIntent, "a failed send must clear its intent")

	// not due before the backoff has passed
	assert.Equal(t, 0, h.runPending())
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, 1, h.runPending())

	wf = h.get("route-6")
	assert.Equal(t, workflows.PhaseNotified, wf.State)
	assert.Equal(t, 2, h.email.Attempts())
	assert.Len(t, h.email.Sent(), 1)
	assert.Equal(t, 1, h.composer.calls)
	assert.Equal(t, 1, h.delays.calls)
}

func TestFreightWorkflow_RetriesExhausted(t *testing.T) {
	retry := defaultRetry()
	retry.MaxRetryCount = 2
	h := newFreightHarness(t, 30, retry, nil)
	h.email.failures = 100
	h.start("route-7", emailRequest("Dublin", "Limerick", 20))

	h.runPending()
	h.clock.Advance(time.Minute)
	h.runPending()

	wf := h.get("route-7")
	assert.Equal(t, workflows.PhaseFailed, wf.State)
	assert.Equal(t, models.StatusFailed, wf.Status)
	assert.Contains(t, wf.Reason.String, "phase MESSAGE_COMPOSED failed after 2 attempts")
	assert.Empty(t, h.email.Sent())
}

func TestFreightWorkflow_SMSWithoutTransportFails(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	req := emailRequest("Dublin", "Limerick", 20)
	req.RecipientChannel = models.ChannelSMS
	req.Recipient = models.Recipient{Phone: "+353871234567"}
	h.start("route-8", req)

	h.runPending()

	wf := h.get("route-8")
	assert.Equal(t, workflows.PhaseFailed, wf.State)
	assert.Equal(t, notify.ErrTransportNotConfigured.Error(), wf.Reason.String)
	assert.Equal(t, 0, h.email.Attempts())
}

func TestFreightWorkflow_DispatchTimeoutIsUnknownOutcome(t *testing.T) {
	retry := defaultRetry()
	retry.StepTimeout = 50 * time.Millisecond
	h := newFreightHarness(t, 30, retry, nil)
	h.email.block = true
	h.start("route-9", emailRequest("Dublin", "Limerick", 20))

	h.runPending()
	h.clock.Advance(time.Minute)
	h.runPending()

	wf := h.get("route-9")
	assert.Equal(t, workflows.PhaseFailed, wf.State)
	assert.Equal(t, workflows.ReasonDispatchUnknown, wf.Reason.String)
	assert.Equal(t, 1, h.email.Attempts())
}

func TestFreightWorkflow_Cancel(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	h.start("route-10", emailRequest("Dublin", "Limerick", 20))
	ctx := context.Background()

	require.NoError(t, h.manager.CancelExecution(ctx, "route-10", "customer request"))
	h.runPending()

	wf := h.get("route-10")
	assert.Equal(t, workflows.PhaseFailed, wf.State)
	assert.Equal(t, "cancelled: customer request", wf.Reason.String)
	assert.Equal(t, 0, h.delays.calls)

	assert.ErrorIs(t, h.manager.CancelExecution(ctx, "route-10", "again"), ErrExecutionTerminal)
	assert.ErrorIs(t, h.manager.CancelExecution(ctx, "missing", ""), ErrExecutionNotFound)

	actions, err := h.manager.ListActions(ctx, "route-10")
	require.NoError(t, err)
	var types []string
	for _, a := range actions {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, models.ActionCancelled)
}

func TestFreightWorkflow_RepairReleasesDeadExecutorClaims(t *testing.T) {
	h := newFreightHarness(t, 30, defaultRetry(), nil)
	wf := h.start("route-11", emailRequest("Dublin", "Limerick", 20))
	ctx := context.Background()
	ok, err := h.repo.MarkWorkflowAsScheduledForExecution(ctx, wf.ID, 999, wf.Version)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 0, h.runPending())
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.manager.RepairStuckWorkflows(ctx))
	assert.Equal(t, 1, h.runPending())
	assert.Equal(t, workflows.PhaseNotified, h.get("route-11").State)
}

func TestFreightWorkflow_HangingDelayServiceFallsBackToZero(t *testing.T) {
	retry := defaultRetry()
	retry.StepTimeout = 200 * time.Millisecond
	retry.MaxRetryCount = 2
	h := newFreightHarness(t, 30, retry, nil)
	h.delays.hang = true
	h.start("route-slow-delay", emailRequest("Dublin", "Limerick", 20))

	h.runPending()

	wf := h.get("route-slow-delay")
	assert.Equal(t, workflows.PhaseSkipped, wf.State)
	assert.Equal(t, models.StatusFinished, wf.Status)
	delay, _ := workflows.ReadOutcome(wf.Vars())
	require.NotNil(t, delay)
	assert.Equal(t, 0.0, delay.Minutes)
	assert.Equal(t, 1, h.delays.calls)
	assert.Empty(t, h.email.Sent())
}

func TestFreightWorkflow_HangingComposerSendsFallback(t *testing.T) {
	retry := defaultRetry()
	retry.StepTimeout = 200 * time.Millisecond
	retry.MaxRetryCount = 2
	h := newFreightHarness(t, 30, retry, hangingComposer{})
	h.start("route-slow-compose", emailRequest("Dublin", "Limerick", 20))

	h.runPending()

	wf := h.get("route-slow-compose")
	assert.Equal(t, workflows.PhaseNotified, wf.State)
	sent := h.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, composer.FailureMessage, sent[0].text)
}
