package connectoragents

import "testing"

type codecTestPayload struct {
	Name string
	N    int
}

func init() {
	RegisterSchema("codecTestPayload", codecTestPayload{})
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	p := codecTestPayload{Name: "alpha", N: 7}
	raw, err := EncodePayload(p)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	decoded, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	got, ok := decoded.(codecTestPayload)
	if !ok {
		t.Fatalf("expected codecTestPayload, got %T", decoded)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestEncodePayloadUnregisteredType(t *testing.T) {
	type unregistered struct{ X int }
	if _, err := EncodePayload(unregistered{X: 1}); err == nil {
		t.Fatalf("expected error for unregistered payload type")
	}
}

func TestDecodePayloadUnknownSchemaName(t *testing.T) {
	raw := []byte(`{"_type":"does-not-exist","data":{}}`)
	if _, err := DecodePayload(raw); err == nil {
		t.Fatalf("expected error for unknown schema name")
	}
}

func TestEncodeDecodePayloadListModelRoundTripPreservesElementTypes(t *testing.T) {
	batch := ListModel{Data: []any{
		codecTestPayload{Name: "a", N: 1},
		codecTestPayload{Name: "b", N: 2},
	}}

	raw, err := EncodePayload(batch)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	decoded, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	got, ok := decoded.(ListModel)
	if !ok {
		t.Fatalf("expected ListModel, got %T", decoded)
	}
	if len(got.Data) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(got.Data))
	}
	first, ok := got.Data[0].(codecTestPayload)
	if !ok {
		t.Fatalf("expected element 0 to decode back to codecTestPayload, got %T", got.Data[0])
	}
	if first != (codecTestPayload{Name: "a", N: 1}) {
		t.Fatalf("unexpected element 0: %+v", first)
	}
	second, ok := got.Data[1].(codecTestPayload)
	if !ok || second != (codecTestPayload{Name: "b", N: 2}) {
		t.Fatalf("unexpected element 1: %+v (ok=%v)", got.Data[1], ok)
	}
}

func TestEncodePayloadNil(t *testing.T) {
	raw, err := EncodePayload(nil)
	if err != nil {
		t.Fatalf("EncodePayload(nil): %v", err)
	}
	decoded, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded != nil {
		t.Fatalf("expected nil round trip, got %v", decoded)
	}
}
