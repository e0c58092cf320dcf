package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tchat-server/internal/models"

	"go.uber.org/zap"
)

// ConversationTriggers is a conversation together with the active
// triggers of its chatbot, in retrieval order.
type ConversationTriggers struct {
	Conversation models.Conversation
	Triggers     []models.Trigger
}

// Store is the persistence boundary the engine reads from and writes to.
// GetConversationWithActiveTriggers returns (nil, nil) for an unknown id.
type Store interface {
	GetConversationWithActiveTriggers(ctx context.Context, conversationID string) (*ConversationTriggers, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)
	CreateMessage(ctx context.Context, conversationID, content string, sender models.Sender) (*models.Message, error)
	CreateAssignment(ctx context.Context, conversationID, userID string) error
	UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error
}

// RunRecorder stores an audit row for each fired trigger.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.TriggerRun) error
}

// Observer receives evaluation outcomes, e.g. for metrics.
type Observer interface {
	TriggerEvaluated(triggerType string, matched bool)
	TriggerExecuted(triggerType string, success bool)
	EvaluationFailed(stage string)
}

type Engine struct {
	Store    Store
	Recorder RunRecorder
	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
	}
}

// EvaluateAndExecute runs the chatbot's active triggers against a visitor
// message that has already been persisted. Every matching trigger fires,
// in retrieval order. Failures are logged and never reach the caller.
func (e *Engine) EvaluateAndExecute(ctx context.Context, conversationID, messageContent string) {
	log := e.Logger.With(zap.String("conversation_id", conversationID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Trigger evaluation panicked", zap.Any("panic", r))
			e.failed("panic")
		}
	}()

	ct, err := e.Store.GetConversationWithActiveTriggers(ctx, conversationID)
	if err != nil {
		log.Error("Error loading conversation triggers", zap.Error(err))
		e.failed("load")
		return
	}
	if ct == nil {
		log.Info("Conversation not found, skipping triggers")
		return
	}

	rules := e.decodeRules(ct.Triggers, log)
	matched := e.match(ctx, conversationID, messageContent, rules, log)

	for _, rule := range matched {
		e.execute(ctx, conversationID, rule, log)
	}
}

func (e *Engine) decodeRules(triggers []models.Trigger, log *zap.Logger) []Rule {
	rules := make([]Rule, 0, len(triggers))
	for _, t := range triggers {
		rule, err := Decode(t)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnsupportedType):
			log.Debug("Skipping trigger with unsupported type",
				zap.String("trigger_id", t.ID), zap.String("type", t.Type))
		default:
			log.Warn("Malformed trigger payload",
				zap.String("trigger_id", t.ID), zap.Error(err))
		}
		// bad action entries are dropped by Decode; bad conditions drop the rule
		if rule.Conditions == nil {
			e.observeEvaluated(t.Type, false)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// match evaluates every rule against one snapshot of the conversation, so
// side effects of earlier triggers can't change what later ones see.
func (e *Engine) match(ctx context.Context, conversationID, content string, rules []Rule, log *zap.Logger) []Rule {
	ev := Event{
		Content:      content,
		Now:          e.Now(),
		MessageCount: -1,
	}

	for _, r := range rules {
		if r.Type == TypeWelcome {
			count, err := e.Store.CountMessages(ctx, conversationID)
			if err != nil {
				log.Error("Error counting messages", zap.Error(err))
				e.failed("count")
			} else {
				ev.MessageCount = count
			}
			break
		}
	}

	var matched []Rule
	for _, r := range rules {
		ok := r.Matches(ev)
		e.observeEvaluated(string(r.Type), ok)
		if ok {
			log.Info("Trigger matched",
				zap.String("trigger_id", r.ID),
				zap.String("trigger", r.Name),
				zap.String("type", string(r.Type)))
			matched = append(matched, r)
		}
	}
	return matched
}

// execute applies one rule's actions in order. The first failing action
// stops the rest of this rule; nothing already applied is undone.
func (e *Engine) execute(ctx context.Context, conversationID string, rule Rule, log *zap.Logger) {
	taken := make([]string, 0, len(rule.Actions))
	var execErr error

	for _, action := range rule.Actions {
		if err := e.executeSingleAction(ctx, conversationID, action); err != nil {
			execErr = fmt.Errorf("%s: %w", action.Kind(), err)
			break
		}
		taken = append(taken, string(action.Kind()))
	}

	run := &models.TriggerRun{
		TriggerID:      rule.ID,
		ConversationID: conversationID,
		TriggerType:    string(rule.Type),
		ActionsTaken:   strings.Join(taken, ","),
		Success:        execErr == nil,
	}
	if execErr != nil {
		run.ErrorMessage = execErr.Error()
		log.Error("Error executing trigger actions",
			zap.String("trigger_id", rule.ID), zap.Error(execErr))
		e.failed("execute")
	}
	e.observeExecuted(string(rule.Type), execErr == nil)

	if e.Recorder != nil {
		if err := e.Recorder.RecordRun(ctx, run); err != nil {
			log.Warn("Error recording trigger run", zap.String("trigger_id", rule.ID), zap.Error(err))
		}
	}
}

func (e *Engine) executeSingleAction(ctx context.Context, conversationID string, action Action) error {
	switch act := action.(type) {
	case SendMessageAction:
		_, err := e.Store.CreateMessage(ctx, conversationID, act.Message, models.SenderBot)
		return err
	case AssignAction:
		return e.Store.CreateAssignment(ctx, conversationID, act.UserID)
	case UpdateStatusAction:
		return e.Store.UpdateConversationStatus(ctx, conversationID, act.Status)
	default:
		e.Logger.Warn("Unknown action type", zap.String("kind", string(action.Kind())))
	}
	return nil
}

func (e *Engine) observeEvaluated(triggerType string, matched bool) {
	if e.Observer != nil {
		e.Observer.TriggerEvaluated(triggerType, matched)
	}
}

func (e *Engine) observeExecuted(triggerType string, success bool) {
	if e.Observer != nil {
		e.Observer.TriggerExecuted(triggerType, success)
	}
}

func (e *Engine) failed(stage string) {
	if e.Observer != nil {
		e.Observer.EvaluationFailed(stage)
	}
}
