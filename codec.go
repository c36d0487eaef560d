package connectoragents

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// encodedPayload is the self-describing wire shape for a snapshotted
// payload, grounded on original_source/util/SerializeHelper.py's
// encode_payload tag scheme ({"_pydantic": true, "_class": "...", "data": ...}).
// Go cannot dynamically import a class by dotted path the way
// importlib.import_module can, so the class-path lookup is replaced with an
// explicit registry populated by RegisterSchema at program start, requiring
// every payload type to implement encode/decode; the opaque pickle-fallback
// the Python source falls back to for non-record payloads is deliberately
// not carried over.
type encodedPayload struct {
	Type string          `json:"_type"`
	Data json.RawMessage `json:"data"`
}

var schemaRegistry = struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
}{byName: make(map[string]reflect.Type)}

// RegisterSchema associates a stable schema name with a payload type so the
// snapshot codec can encode its exact runtime type and reconstruct it on
// load. zero is any value of the payload type (its own contents are
// ignored — only its reflect.Type is recorded). Call once per payload type,
// typically from an init func, before any Snapshot Save/Load.
func RegisterSchema(name string, zero any) {
	schemaRegistry.mu.Lock()
	defer schemaRegistry.mu.Unlock()
	schemaRegistry.byName[name] = reflect.TypeOf(zero)
}

// SchemaName returns the registered name for v's runtime type, if any.
func SchemaName(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	t := reflect.TypeOf(v)
	schemaRegistry.mu.RLock()
	defer schemaRegistry.mu.RUnlock()
	for name, rt := range schemaRegistry.byName {
		if rt == t {
			return name, true
		}
	}
	return "", false
}

// EncodePayload converts a registered payload value into its self-describing
// JSON form, preserving the exact runtime type of every record.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.Marshal(nil)
	}
	name, ok := SchemaName(v)
	if !ok {
		return nil, &SnapshotError{Cause: fmt.Errorf("payload type %T is not registered via RegisterSchema", v)}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SnapshotError{PortKey: name, Cause: err}
	}
	out, err := json.Marshal(encodedPayload{Type: name, Data: data})
	if err != nil {
		return nil, &SnapshotError{PortKey: name, Cause: err}
	}
	return out, nil
}

// DecodePayload reconstructs a payload value from its self-describing JSON
// form, looking up the schema type by the recorded name. An unknown schema
// name returns a SnapshotError; callers (the port-level snapshot loader)
// treat that as "leave this port empty, warn, continue."
func DecodePayload(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wrapped encodedPayload
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &SnapshotError{Cause: err}
	}
	schemaRegistry.mu.RLock()
	t, ok := schemaRegistry.byName[wrapped.Type]
	schemaRegistry.mu.RUnlock()
	if !ok {
		return nil, &SnapshotError{PortKey: wrapped.Type, Cause: fmt.Errorf("unknown payload schema %q", wrapped.Type)}
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(wrapped.Data, ptr.Interface()); err != nil {
		return nil, &SnapshotError{PortKey: wrapped.Type, Cause: err}
	}
	return ptr.Elem().Interface(), nil
}
