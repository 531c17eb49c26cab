package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/freight/notify"
	"github.com/RealZimboGuy/freightflow/internal/freight/traffic"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/workflow_helpers"
)

const WorkflowType = "FreightDelayWorkflow"

// Phases
const (
	PhaseStarted         = "STARTED"
	PhaseDelayFetched    = "DELAY_FETCHED"
	PhaseDecided         = "DECIDED"
	PhaseMessageComposed = "MESSAGE_COMPOSED"
	PhaseNotified        = "NOTIFIED"
	PhaseSkipped         = "SKIPPED"
	PhaseFailed          = "FAILED"
)

// State variable keys
const (
	VarRequest        = models.RequestStateVar
	VarDelay          = "delay"
	VarDecision       = "decision"
	VarMessage        = "message"
	VarDispatchIntent = "dispatchIntent"
)

// ReasonDispatchUnknown is recorded when a previous attempt may already have reached the transport.
const ReasonDispatchUnknown = "dispatch outcome unknown: a previous attempt may have delivered the notification"

var ErrValidation = models.ErrValidation

type DelaySource interface {
	GetDelay(ctx context.Context, origin, destination string) float64
}

type MessageComposer interface {
	Compose(ctx context.Context, delayMinutes float64) string
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, channel models.Channel, recipient models.Recipient, subject, text string) error
}

// Collaborators are the external services a FreightDelayWorkflow talks to.
type Collaborators struct {
	Delays     DelaySource
	Composer   MessageComposer
	Dispatcher NotificationDispatcher
}

type DelayEstimate struct {
	Minutes float64 `json:"minutes"`
}

type NotificationMessage struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type Outcome string

const (
	Proceed Outcome = "PROCEED"
	Skip    Outcome = "SKIP"
)

type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

type DispatchIntent struct {
	Channel  models.Channel `json:"channel"`
	Recorded time.Time      `json:"recorded"`
}

// Decide is the pure notification rule. Only a delay strictly above the threshold proceeds, and only
// when notifications are enabled with a real channel.
func Decide(delayMinutes, thresholdMinutes float64, notifyEnabled bool, channel models.Channel) Decision {
	if !notifyEnabled {
		return Decision{Outcome: Skip, Reason: "notifications disabled"}
	}
	if channel != models.ChannelEmail && channel != models.ChannelSMS {
		return Decision{Outcome: Skip, Reason: "no recipient channel"}
	}
	if delayMinutes > thresholdMinutes {
		return Decision{Outcome: Proceed, Reason: fmt.Sprintf("delay %s exceeds threshold %s",
			traffic.FormatMinutes(delayMinutes), traffic.FormatMinutes(thresholdMinutes))}
	}
	return Decision{Outcome: Skip, Reason: fmt.Sprintf("delay %s within threshold %s",
		traffic.FormatMinutes(delayMinutes), traffic.FormatMinutes(thresholdMinutes))}
}

// FreightDelayWorkflow fetches the delay of a route, decides whether the customer must be told and
// sends at most one notification.
type FreightDelayWorkflow struct {
	core.BaseWorkflow
	Clock         core.Clock
	Collaborators Collaborators
	RetryConfig   models.RetryConfig
}

// NewFreightDelayWorkflowFactory returns the constructor registered with the engine.
func NewFreightDelayWorkflowFactory(clock core.Clock, collaborators Collaborators, retry models.RetryConfig) func() core.Workflow {
	return func() core.Workflow {
		return &FreightDelayWorkflow{Clock: clock, Collaborators: collaborators, RetryConfig: retry}
	}
}

func (w *FreightDelayWorkflow) Setup(wf *domain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *FreightDelayWorkflow) InitialState() string {
	return PhaseStarted
}

func (w *FreightDelayWorkflow) Description() string {
	return "Checks the traffic delay of a freight route and notifies the customer once when it exceeds the threshold"
}

func (w *FreightDelayWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		PhaseStarted:         {PhaseDelayFetched, PhaseFailed},
		PhaseDelayFetched:    {PhaseDecided, PhaseFailed},
		PhaseDecided:         {PhaseMessageComposed, PhaseSkipped, PhaseFailed},
		PhaseMessageComposed: {PhaseNotified, PhaseFailed},
	}
}

func (w *FreightDelayWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: PhaseStarted, StateType: models.StateStart},
		{Name: PhaseDelayFetched, StateType: models.StateNormal},
		{Name: PhaseDecided, StateType: models.StateNormal},
		{Name: PhaseMessageComposed, StateType: models.StateNormal},
		{Name: PhaseNotified, StateType: models.StateEnd},
		{Name: PhaseSkipped, StateType: models.StateEnd},
		{Name: PhaseFailed, StateType: models.StateError},
	}
}

func (w *FreightDelayWorkflow) GetRetryConfig() models.RetryConfig {
	return w.RetryConfig
}

func (w *FreightDelayWorkflow) StateHandlers() map[string]core.StateFunc {
	return map[string]core.StateFunc{
		PhaseStarted:         w.FetchDelay,
		PhaseDelayFetched:    w.EvaluateDelay,
		PhaseDecided:         w.ComposeMessage,
		PhaseMessageComposed: w.DispatchNotification,
	}
}

func (w *FreightDelayWorkflow) request() (*models.WorkflowRequest, error) {
	req, err := workflow_helpers.LoadStructFromStateVars[models.WorkflowRequest](w.StateVariables, VarRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: stored request unreadable: %v", ErrValidation, err)
	}
	return req, nil
}

func failed(reason string) *models.NextState {
	return &models.NextState{Name: PhaseFailed, ActionLog: reason, Reason: reason}
}

// FetchDelay validates the request and caches the delay estimate.
func (w *FreightDelayWorkflow) FetchDelay(ctx context.Context) (*models.NextState, error) {
	req, err := w.request()
	if err != nil {
		return failed(err.Error()), nil
	}
	if err := req.Validate(); err != nil {
		return failed(err.Error()), nil
	}

	estimate, err := workflow_helpers.LoadStructFromStateVars[DelayEstimate](w.StateVariables, VarDelay)
	if err != nil {
		callCtx, cancel := context.WithTimeout(ctx, w.RetryConfig.CollaboratorTimeout())
		estimate = &DelayEstimate{Minutes: w.Collaborators.Delays.GetDelay(callCtx, req.Origin, req.Destination)}
		cancel()
		if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarDelay, estimate); err != nil {
			return nil, err
		}
	}
	return &models.NextState{
		Name:      PhaseDelayFetched,
		ActionLog: fmt.Sprintf("Delay %s minutes from %s to %s", traffic.FormatMinutes(estimate.Minutes), req.Origin, req.Destination),
	}, nil
}

func (w *FreightDelayWorkflow) EvaluateDelay(ctx context.Context) (*models.NextState, error) {
	req, err := w.request()
	if err != nil {
		return failed(err.Error()), nil
	}
	estimate, err := workflow_helpers.LoadStructFromStateVars[DelayEstimate](w.StateVariables, VarDelay)
	if err != nil {
		return nil, err
	}
	decision, err := workflow_helpers.LoadStructFromStateVars[Decision](w.StateVariables, VarDecision)
	if err != nil {
		d := Decide(estimate.Minutes, req.ThresholdMinutes, req.Notify, req.Channel())
		decision = &d
		if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarDecision, decision); err != nil {
			return nil, err
		}
	}
	slog.InfoContext(ctx, "Delay evaluated", "execution_id", w.WorkflowState.ExternalID, "outcome", decision.Outcome, "reason", decision.Reason)
	return &models.NextState{Name: PhaseDecided, ActionLog: fmt.Sprintf("%s: %s", decision.Outcome, decision.Reason)}, nil
}

func (w *FreightDelayWorkflow) ComposeMessage(ctx context.Context) (*models.NextState, error) {
	decision, err := workflow_helpers.LoadStructFromStateVars[Decision](w.StateVariables, VarDecision)
	if err != nil {
		return nil, err
	}
	if decision.Outcome != Proceed {
		return &models.NextState{Name: PhaseSkipped, ActionLog: decision.Reason, Reason: decision.Reason}, nil
	}
	if workflow_helpers.HasStateVar(w.StateVariables, VarMessage) {
		return &models.NextState{Name: PhaseMessageComposed, ActionLog: "Message already composed"}, nil
	}
	req, err := w.request()
	if err != nil {
		return failed(err.Error()), nil
	}
	estimate, err := workflow_helpers.LoadStructFromStateVars[DelayEstimate](w.StateVariables, VarDelay)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, w.RetryConfig.CollaboratorTimeout())
	defer cancel()
	msg := NotificationMessage{
		Subject: req.Subject(),
		Text:    w.Collaborators.Composer.Compose(callCtx, estimate.Minutes),
	}
	if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarMessage, msg); err != nil {
		return nil, err
	}
	return &models.NextState{Name: PhaseMessageComposed, ActionLog: "Message composed"}, nil
}

// DispatchNotification sends the cached message. The intent is stored durably before the transport is
// called, so a run that finds it already present cannot know whether the customer was reached and
// stops instead of sending again.
func (w *FreightDelayWorkflow) DispatchNotification(ctx context.Context) (*models.NextState, error) {
	if workflow_helpers.HasStateVar(w.StateVariables, VarDispatchIntent) {
		slog.WarnContext(ctx, "Dispatch intent found from a previous attempt, not sending again", "execution_id", w.WorkflowState.ExternalID)
		return failed(ReasonDispatchUnknown), nil
	}
	req, err := w.request()
	if err != nil {
		return failed(err.Error()), nil
	}
	msg, err := workflow_helpers.LoadStructFromStateVars[NotificationMessage](w.StateVariables, VarMessage)
	if err != nil {
		return nil, err
	}

	intent := DispatchIntent{Channel: req.Channel(), Recorded: w.Clock.Now().UTC()}
	if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarDispatchIntent, intent); err != nil {
		return nil, err
	}
	if err := w.Checkpoint(ctx, fmt.Sprintf("dispatch intent recorded for %s", intent.Channel)); err != nil {
		delete(w.StateVariables, VarDispatchIntent)
		return nil, fmt.Errorf("recording dispatch intent: %w", err)
	}

	err = w.Collaborators.Dispatcher.Dispatch(ctx, req.Channel(), req.Recipient, msg.Subject, msg.Text)
	switch {
	case err == nil:
		return &models.NextState{
			Name:      PhaseNotified,
			ActionLog: fmt.Sprintf("Notification sent via %s", req.Channel()),
			Reason:    fmt.Sprintf("notified via %s", req.Channel()),
		}, nil
	case errors.Is(err, notify.ErrInvalidChannel), errors.Is(err, notify.ErrTransportNotConfigured):
		return failed(err.Error()), nil
	case errors.Is(err, context.DeadlineExceeded):
		// the request may have been delivered after we stopped waiting
		return failed(ReasonDispatchUnknown), nil
	default:
		delete(w.StateVariables, VarDispatchIntent)
		if cpErr := w.Checkpoint(ctx, "dispatch intent cleared after transport error"); cpErr != nil {
			slog.ErrorContext(ctx, "Failed to clear dispatch intent", "execution_id", w.WorkflowState.ExternalID, "error", cpErr)
		}
		return nil, fmt.Errorf("dispatch via %s: %w", req.Channel(), err)
	}
}

// ReadOutcome extracts the cached delay and message of an execution for reporting.
func ReadOutcome(vars map[string]string) (*DelayEstimate, *NotificationMessage) {
	delay, _ := workflow_helpers.LoadStructFromStateVars[DelayEstimate](vars, VarDelay)
	msg, _ := workflow_helpers.LoadStructFromStateVars[NotificationMessage](vars, VarMessage)
	return delay, msg
}
