// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

// EventName identifies one of the lifecycle notifications a FieldSet can
// raise. Listeners are plain functions; the args passed to them are
// documented per event below.
type EventName string

// Event names. The field-set driver itself raises only
// EventFieldReplaced and EventFieldInserted (from ReplaceField); nothing
// in this package raises EventFieldValueChanged, EventFieldResized or
// EventSetFieldValue.
const (
	// EventFieldValueChanged fires after a mutator sets a new value.
	// Listener signature: func(field Field)
	EventFieldValueChanged EventName = "field-value-changed"

	// EventFieldResized fires after a field's size changes.
	// Listener signature: func(field Field)
	EventFieldResized EventName = "field-resized"

	// EventFieldInserted fires during ReplaceField when extra fields are
	// added after the first replacement.
	// Listener signature: func(index int, field Field)
	EventFieldInserted EventName = "field-insered"

	// EventFieldReplaced fires during ReplaceField for the primary swap.
	// Listener signature: func(oldField, newField Field)
	EventFieldReplaced EventName = "field-replaced"

	// EventSetFieldValue requests a mutation; listeners perform the change.
	// Listener signature: func(field Field, newValue interface{})
	EventSetFieldValue EventName = "set-field-value"
)

// EventHandler is a named-event multi-listener registry. A FieldSet owns
// an optional local handler; its root additionally owns an optional
// global handler that every raise also reaches.
type EventHandler struct {
	listeners map[EventName][]func(args ...interface{})
}

// NewEventHandler returns an empty handler.
func NewEventHandler() *EventHandler {
	return &EventHandler{listeners: make(map[EventName][]func(args ...interface{}))}
}

// Connect registers handler to be called every time name is raised.
func (h *EventHandler) Connect(name EventName, handler func(args ...interface{})) {
	h.listeners[name] = append(h.listeners[name], handler)
}

// Raise calls every listener registered for name, in registration order.
func (h *EventHandler) Raise(name EventName, args ...interface{}) {
	if h == nil {
		return
	}
	for _, l := range h.listeners[name] {
		l(args...)
	}
}
