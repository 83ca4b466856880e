package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventMessageReceived is raised for every processed inbound reply.
const EventMessageReceived = "message.received"

// Workflow is a tenant-owned automation rule.
type Workflow struct {
	Base
	OwnerID      uuid.UUID `json:"owner_id" db:"owner_id"`
	Name         string    `json:"name" db:"name"`
	TriggerEvent string    `json:"trigger_event" db:"trigger_event"`
	IsEnabled    bool      `json:"is_enabled" db:"is_enabled"`
	Conditions   JSONMap   `json:"conditions" db:"conditions"`
	Actions      Actions   `json:"actions" db:"actions"`
}

func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return validationError("name is required")
	}
	if strings.TrimSpace(w.TriggerEvent) == "" {
		return validationError("trigger_event is required")
	}
	for key := range w.Conditions {
		if strings.TrimSpace(key) == "" {
			return validationError("condition keys must not be empty")
		}
	}
	for i, a := range w.Actions {
		if v, ok := a.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("action %d: %w", i, err)
			}
		}
	}
	return nil
}

// WorkflowPatch holds the optional fields of a partial update.
type WorkflowPatch struct {
	Name         *string  `json:"name"`
	TriggerEvent *string  `json:"trigger_event"`
	IsEnabled    *bool    `json:"is_enabled"`
	Conditions   *JSONMap `json:"conditions"`
	Actions      *Actions `json:"actions"`
}

func (p WorkflowPatch) Apply(w *Workflow) {
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.TriggerEvent != nil {
		w.TriggerEvent = *p.TriggerEvent
	}
	if p.IsEnabled != nil {
		w.IsEnabled = *p.IsEnabled
	}
	if p.Conditions != nil {
		w.Conditions = *p.Conditions
	}
	if p.Actions != nil {
		w.Actions = *p.Actions
	}
}

type ActionType string

const (
	ActionSendTemplate ActionType = "send_template"
	ActionSendText     ActionType = "send_text"
	ActionAddTag       ActionType = "add_tag"
	ActionSetStage     ActionType = "set_stage"
	ActionSetFollowUp  ActionType = "set_follow_up"
)

// Action is one step of a workflow. The concrete type selects the behaviour;
// UnknownAction carries types this build does not implement.
type Action interface {
	Type() ActionType
}

type SendTemplateAction struct {
	TemplateName    string                 `json:"template_name,omitempty"`
	Language        string                 `json:"language,omitempty"`
	Channel         Channel                `json:"channel,omitempty"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
	DelayMinutes    int                    `json:"delay_minutes,omitempty"`
	CancelOnInbound bool                   `json:"cancel_on_inbound,omitempty"`
}

func (SendTemplateAction) Type() ActionType { return ActionSendTemplate }

func (a SendTemplateAction) Validate() error {
	if a.Channel != "" && !a.Channel.Valid() {
		return validationError("invalid channel %q", a.Channel)
	}
	if a.DelayMinutes < 0 {
		return validationError("delay_minutes must not be negative")
	}
	return nil
}

type SendTextAction struct {
	Body            string  `json:"body,omitempty"`
	Channel         Channel `json:"channel,omitempty"`
	DelayMinutes    int     `json:"delay_minutes,omitempty"`
	CancelOnInbound bool    `json:"cancel_on_inbound,omitempty"`
}

func (SendTextAction) Type() ActionType { return ActionSendText }

func (a SendTextAction) Validate() error {
	if a.Channel != "" && !a.Channel.Valid() {
		return validationError("invalid channel %q", a.Channel)
	}
	if a.DelayMinutes < 0 {
		return validationError("delay_minutes must not be negative")
	}
	return nil
}

type AddTagAction struct {
	Tag   string `json:"tag"`
	Color string `json:"color,omitempty"`
}

func (AddTagAction) Type() ActionType { return ActionAddTag }

func (a AddTagAction) Validate() error {
	if strings.TrimSpace(a.Tag) == "" {
		return validationError("add_tag requires tag")
	}
	return nil
}

type SetStageAction struct {
	Stage string `json:"stage"`
}

func (SetStageAction) Type() ActionType { return ActionSetStage }

func (a SetStageAction) Validate() error {
	if strings.TrimSpace(a.Stage) == "" {
		return validationError("set_stage requires stage")
	}
	return nil
}

// SetFollowUpAction moves the customer's next follow-up. A nil field is absent;
// an explicit zero schedules the follow-up for now.
type SetFollowUpAction struct {
	Minutes *int `json:"minutes,omitempty"`
	Hours   *int `json:"hours,omitempty"`
}

func (SetFollowUpAction) Type() ActionType { return ActionSetFollowUp }

// Offset is the follow-up delay relative to the time the action runs.
func (a SetFollowUpAction) Offset() time.Duration {
	total := 0
	if a.Hours != nil {
		total += *a.Hours * 60
	}
	if a.Minutes != nil {
		total += *a.Minutes
	}
	return time.Duration(total) * time.Minute
}

// HasOffset reports whether minutes or hours was given at all.
func (a SetFollowUpAction) HasOffset() bool {
	return a.Minutes != nil || a.Hours != nil
}

// UnknownAction preserves an action whose type is not implemented.
type UnknownAction struct {
	Kind string
	Raw  json.RawMessage
}

func (a UnknownAction) Type() ActionType { return ActionType(a.Kind) }

// DecodeAction parses one action object. Unrecognised types decode to UnknownAction;
// a recognised type with malformed parameters is an error.
func DecodeAction(raw json.RawMessage) (Action, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, validationError("action must be an object with a type: %v", err)
	}

	var (
		action Action
		err    error
	)
	switch ActionType(head.Type) {
	case ActionSendTemplate:
		var a SendTemplateAction
		err = json.Unmarshal(raw, &a)
		action = a
	case ActionSendText:
		var a SendTextAction
		err = json.Unmarshal(raw, &a)
		action = a
	case ActionAddTag:
		var a struct {
			Tag     string `json:"tag"`
			TagName string `json:"tag_name"`
			Color   string `json:"color"`
		}
		err = json.Unmarshal(raw, &a)
		tag := a.Tag
		if tag == "" {
			tag = a.TagName
		}
		action = AddTagAction{Tag: tag, Color: a.Color}
	case ActionSetStage:
		var a SetStageAction
		err = json.Unmarshal(raw, &a)
		action = a
	case ActionSetFollowUp:
		var a SetFollowUpAction
		err = json.Unmarshal(raw, &a)
		action = a
	default:
		return UnknownAction{Kind: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, validationError("%s: %v", head.Type, err)
	}
	return action, nil
}

// Actions is the ordered action list of a workflow, stored as a JSON array.
type Actions []Action

func (a Actions) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(a))
	for _, action := range a {
		raw, err := encodeAction(action)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (a *Actions) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*a = Actions{}
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return validationError("actions must be an array: %v", err)
	}
	out := make(Actions, 0, len(raws))
	for _, raw := range raws {
		action, err := DecodeAction(raw)
		if err != nil {
			return err
		}
		out = append(out, action)
	}
	*a = out
	return nil
}

func (a Actions) Value() (driver.Value, error) {
	b, err := a.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Actions) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*a = Actions{}
		return nil
	}
	return a.UnmarshalJSON(b)
}

func encodeAction(action Action) (json.RawMessage, error) {
	if u, ok := action.(UnknownAction); ok {
		return u.Raw, nil
	}
	b, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s action: %w", action.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(string(action.Type()))
	return json.Marshal(fields)
}
