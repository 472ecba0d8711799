package instrument

import (
	"context"
	"encoding/json"
	"fmt"
)

// Command actions accepted on the instrument-commands topic.
const (
	ActionEnable       = "enable"
	ActionDisable      = "disable"
	ActionReload       = "reload"
	ActionUpdateConfig = "update_config"
)

// Command is a control message for a registered instrument.
type Command struct {
	Action       string          `json:"action"`
	InstrumentID string          `json:"instrumentId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// configUpdate is the accepted update_config payload. Absent fields are
// left untouched.
type configUpdate struct {
	Priority        *int             `json:"priority,omitempty"`
	ActionFilter    *[]string        `json:"actionFilter,omitempty"`
	AlertConditions []AlertCondition `json:"alertConditions,omitempty"`
}

// HandleCommand applies a decoded command. Unknown actions are logged
// and ignored; they are not an error. The lifecycle output topic and
// this command input share a topic, so records that are not commands
// (no recognized action) take the same path: logged and ignored.
func (e *Embedder) HandleCommand(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionEnable:
		return e.Enable(cmd.InstrumentID)
	case ActionDisable:
		return e.Disable(cmd.InstrumentID)
	case ActionReload:
		return e.reload(cmd.InstrumentID)
	case ActionUpdateConfig:
		return e.updateConfig(cmd)
	default:
		e.logger.WarnContext(ctx, "ignoring unknown instrument command",
			"action", cmd.Action, "instrument", cmd.InstrumentID)
		return nil
	}
}

// HandleCommandJSON decodes and applies a raw command message.
func (e *Embedder) HandleCommandJSON(ctx context.Context, data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decoding instrument command: %w", err)
	}

	return e.HandleCommand(ctx, cmd)
}

// reload re-enables the probe and discards its cached result so the
// next invocation starts without a previousResult.
func (e *Embedder) reload(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.probes[id]
	if !ok {
		return &UnknownInstrumentError{ID: id}
	}

	p.Enabled = true
	e.lastResults.Delete(id)
	e.emitLifecycle(id, "reloaded")

	return nil
}

func (e *Embedder) updateConfig(cmd Command) error {
	var update configUpdate
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &update); err != nil {
			return fmt.Errorf("decoding update_config payload: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.probes[cmd.InstrumentID]
	if !ok {
		return &UnknownInstrumentError{ID: cmd.InstrumentID}
	}

	if update.Priority != nil {
		p.Priority = *update.Priority
	}
	if update.ActionFilter != nil {
		p.ActionFilter = *update.ActionFilter
	}
	if update.AlertConditions != nil {
		p.AlertConditions = update.AlertConditions
	}

	e.emitLifecycle(cmd.InstrumentID, "config_updated")

	return nil
}
