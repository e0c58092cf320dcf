package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tchat-server/internal/models"
)

// TriggerType tags a trigger's condition payload. Unknown values are kept
// as-is and never match.
type TriggerType string

const (
	TypeKeyword   TriggerType = "KEYWORD"
	TypeWelcome   TriggerType = "WELCOME"
	TypeTimeBased TriggerType = "TIME_BASED"
)

// Known reports whether the engine knows how to evaluate t.
func (t TriggerType) Known() bool {
	switch t {
	case TypeKeyword, TypeWelcome, TypeTimeBased:
		return true
	}
	return false
}

var (
	ErrUnsupportedType = errors.New("unsupported trigger type")
	ErrMalformed       = errors.New("malformed trigger payload")
)

// Conditions is the per-type match payload of a trigger.
type Conditions interface {
	Type() TriggerType
	Match(ev Event) bool
}

// KeywordConditions matches when the message contains any keyword.
type KeywordConditions struct {
	Keywords []string `json:"keywords"`
}

func (KeywordConditions) Type() TriggerType { return TypeKeyword }

// WelcomeConditions matches on the conversation's first message.
type WelcomeConditions struct{}

func (WelcomeConditions) Type() TriggerType { return TypeWelcome }

// TimeBasedConditions matches when the local hour is in [StartHour, EndHour).
type TimeBasedConditions struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

func (TimeBasedConditions) Type() TriggerType { return TypeTimeBased }

// ActionKind names one side effect.
type ActionKind string

const (
	KindSendMessage  ActionKind = "send_message"
	KindAssign       ActionKind = "assign"
	KindUpdateStatus ActionKind = "update_status"
)

// execution order inside one trigger
var kindOrder = map[ActionKind]int{
	KindSendMessage:  0,
	KindAssign:       1,
	KindUpdateStatus: 2,
}

// Action is one side effect a matching trigger performs.
type Action interface {
	Kind() ActionKind
}

// SendMessageAction posts a BOT message. An empty Message still posts.
type SendMessageAction struct {
	Message string
}

func (SendMessageAction) Kind() ActionKind { return KindSendMessage }

// AssignAction adds an assignment; it never removes existing ones.
type AssignAction struct {
	UserID string
}

func (AssignAction) Kind() ActionKind { return KindAssign }

// UpdateStatusAction sets the conversation status without checking the
// current one.
type UpdateStatusAction struct {
	Status models.ConversationStatus
}

func (UpdateStatusAction) Kind() ActionKind { return KindUpdateStatus }

// Rule is a trigger with its payloads decoded.
type Rule struct {
	ID         string
	ChatbotID  string
	Name       string
	Type       TriggerType
	Conditions Conditions
	Actions    []Action
}

// ParseConditions decodes raw into the condition shape for t.
func ParseConditions(t TriggerType, raw []byte) (Conditions, error) {
	switch t {
	case TypeKeyword:
		fields, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		v, ok := fields["keywords"]
		if !ok || v == nil {
			return KeywordConditions{}, nil
		}
		list, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: keywords is %T, want list", ErrMalformed, v)
		}
		keywords := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: keyword %v is not a string", ErrMalformed, item)
			}
			keywords = append(keywords, s)
		}
		return KeywordConditions{Keywords: keywords}, nil

	case TypeWelcome:
		return WelcomeConditions{}, nil

	case TypeTimeBased:
		fields, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		start, ok := ToInt(fields["startHour"])
		if !ok {
			return nil, fmt.Errorf("%w: startHour missing or not a number", ErrMalformed)
		}
		end, ok := ToInt(fields["endHour"])
		if !ok {
			return nil, fmt.Errorf("%w: endHour missing or not a number", ErrMalformed)
		}
		return TimeBasedConditions{StartHour: start, EndHour: end}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
}

// wire shape of one canonical action
type actionJSON struct {
	Type    ActionKind `json:"type"`
	Message string     `json:"message,omitempty"`
	UserID  string     `json:"userId,omitempty"`
	Status  string     `json:"status,omitempty"`
}

// ParseActions decodes a canonical action list or a legacy flag-bag object
// ({"sendMessage":true,"message":...,"assignTo":...,"updateStatus":true,
// "status":...}). The result is ordered send, assign, status. A malformed
// entry is left out and reported in the error; the other entries are
// still returned.
func ParseActions(raw []byte) ([]Action, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var actions []Action
	var err error
	if trimmed[0] == '[' {
		actions, err = parseActionList(trimmed)
	} else {
		actions, err = parseFlagBag(trimmed)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return kindOrder[actions[i].Kind()] < kindOrder[actions[j].Kind()]
	})
	return actions, err
}

func parseActionList(raw []byte) ([]Action, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var errs []error
	actions := make([]Action, 0, len(items))
	for i, rawItem := range items {
		action, err := parseActionItem(rawItem)
		if err != nil {
			errs = append(errs, fmt.Errorf("action %d: %w", i, err))
			continue
		}
		actions = append(actions, action)
	}
	return actions, errors.Join(errs...)
}

func parseActionItem(raw json.RawMessage) (Action, error) {
	var item actionJSON
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch item.Type {
	case KindSendMessage:
		return SendMessageAction{Message: item.Message}, nil
	case KindAssign:
		if item.UserID == "" {
			return nil, fmt.Errorf("%w: assign without userId", ErrMalformed)
		}
		return AssignAction{UserID: item.UserID}, nil
	case KindUpdateStatus:
		status := models.ConversationStatus(item.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrMalformed, item.Status)
		}
		return UpdateStatusAction{Status: status}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, item.Type)
}

func parseFlagBag(raw []byte) ([]Action, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	var errs []error
	var actions []Action
	if truthy(fields["sendMessage"]) {
		msg, _ := fields["message"].(string)
		actions = append(actions, SendMessageAction{Message: msg})
	}
	if truthy(fields["assignTo"]) {
		if userID, ok := fields["assignTo"].(string); ok {
			actions = append(actions, AssignAction{UserID: userID})
		} else {
			errs = append(errs, fmt.Errorf("%w: assignTo is %T, want string", ErrMalformed, fields["assignTo"]))
		}
	}
	if truthy(fields["updateStatus"]) {
		s, _ := fields["status"].(string)
		if status := models.ConversationStatus(s); status.Valid() {
			actions = append(actions, UpdateStatusAction{Status: status})
		} else {
			errs = append(errs, fmt.Errorf("%w: unknown status %q", ErrMalformed, s))
		}
	}
	return actions, errors.Join(errs...)
}

// MarshalActions renders actions in the canonical list form.
func MarshalActions(actions []Action) ([]byte, error) {
	items := make([]actionJSON, 0, len(actions))
	for _, a := range actions {
		switch act := a.(type) {
		case SendMessageAction:
			items = append(items, actionJSON{Type: KindSendMessage, Message: act.Message})
		case AssignAction:
			items = append(items, actionJSON{Type: KindAssign, UserID: act.UserID})
		case UpdateStatusAction:
			items = append(items, actionJSON{Type: KindUpdateStatus, Status: string(act.Status)})
		default:
			return nil, fmt.Errorf("unknown action %T", a)
		}
	}
	return json.Marshal(items)
}

// MarshalConditions renders conditions in their stored form.
func MarshalConditions(c Conditions) ([]byte, error) {
	if _, ok := c.(WelcomeConditions); ok {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Normalize validates a trigger's payloads and returns them in stored
// form: canonical action list, and canonical conditions for known types.
// Conditions of unknown types are kept verbatim.
func Normalize(t TriggerType, conditions, actions []byte) ([]byte, []byte, error) {
	storedConditions := []byte("{}")
	if len(bytes.TrimSpace(conditions)) > 0 {
		storedConditions = conditions
	}
	if t.Known() {
		cond, err := ParseConditions(t, conditions)
		if err != nil {
			return nil, nil, fmt.Errorf("conditions: %w", err)
		}
		if storedConditions, err = MarshalConditions(cond); err != nil {
			return nil, nil, err
		}
	}

	parsed, err := ParseActions(actions)
	if err != nil {
		return nil, nil, fmt.Errorf("actions: %w", err)
	}
	storedActions, err := MarshalActions(parsed)
	if err != nil {
		return nil, nil, err
	}
	return storedConditions, storedActions, nil
}

// Decode turns a stored trigger into a Rule. The returned error is
// non-nil when either payload is malformed; the Rule still carries
// whatever decoded cleanly. Conditions is nil when they did not.
func Decode(t models.Trigger) (Rule, error) {
	rule := Rule{
		ID:        t.ID,
		ChatbotID: t.ChatbotID,
		Name:      t.Name,
		Type:      TriggerType(t.Type),
	}

	var errs []error
	cond, err := ParseConditions(rule.Type, t.Conditions)
	if err != nil {
		errs = append(errs, fmt.Errorf("conditions: %w", err))
	}
	rule.Conditions = cond

	actions, err := ParseActions(t.Actions)
	if err != nil {
		errs = append(errs, fmt.Errorf("actions: %w", err))
	}
	rule.Actions = actions

	return rule, errors.Join(errs...)
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]interface{}{}, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fields, nil
}

// truthy follows the loose flag semantics of the dashboard forms.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// Helpers for Interface Conversion

func ToInt(v interface{}) (int, bool) {
	if val, ok := v.(float64); ok { // JSON numbers are float64
		return int(val), true
	}
	if val, ok := v.(string); ok {
		if res, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return res, true
		}
	}
	return 0, false
}
