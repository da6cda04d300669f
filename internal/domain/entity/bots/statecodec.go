package bots

import (
	"strconv"
	"time"
)

// State fields travel through the claim store as strings so that the store
// can compare them byte-for-byte. Timestamps use RFC3339Nano, floats the
// shortest round-trippable form.

// EncodeAction renders an action pointer as a store field value.
func EncodeAction(action *Action) *string {
	if action == nil {
		return nil
	}
	value := string(*action)
	return &value
}

// EncodeTime renders a timestamp pointer as a store field value.
func EncodeTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := t.UTC().Format(time.RFC3339Nano)
	return &value
}

// EncodeFloat renders a float pointer as a store field value.
func EncodeFloat(f *float64) *string {
	if f == nil {
		return nil
	}
	value := strconv.FormatFloat(*f, 'f', -1, 64)
	return &value
}

// DecodeState rebuilds an execution state from raw store fields. Fields
// that fail to parse are treated as absent; a corrupt value must degrade,
// not poison every evaluation of the bot.
func DecodeState(fields map[string]string) *ExecutionState {
	state := &ExecutionState{}
	if raw, ok := fields[FieldLastAction]; ok {
		action := Action(raw)
		if action == ActionBuy || action == ActionSell {
			state.LastAction = &action
		}
	}
	if raw, ok := fields[FieldBuyCooldownUntil]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.BuyCooldownUntil = &t
		}
	}
	if raw, ok := fields[FieldSellCooldownUntil]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.SellCooldownUntil = &t
		}
	}
	if raw, ok := fields[FieldEntryPrice]; ok {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			state.EntryPrice = &f
		}
	}
	return state
}
