package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseSerial(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"04:ab:cd:ef", "04:AB:CD:EF", false},
		{"04ABCDEF", "04:AB:CD:EF", false},
		{"04 AB CD EF", "04:AB:CD:EF", false},
		{"04-AB-CD-EF", "04:AB:CD:EF", false},
		{"", "", true},
		{"04:AB:C", "", true},
		{"virtual-tag", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSerial(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSerial(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSerial(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeSerial(t *testing.T) {
	if got := NormalizeSerial("04a1b2"); got != "04:A1:B2" {
		t.Errorf("NormalizeSerial(hex) = %q, want %q", got, "04:A1:B2")
	}
	if got := NormalizeSerial("virtual-tag"); got != "virtual-tag" {
		t.Errorf("NormalizeSerial(opaque) = %q, want it unchanged", got)
	}
}

func TestEnvelope(t *testing.T) {
	env, err := NewEnvelope("req-1", TypeWrite, WritePayload{
		Message: MessagePayload{Records: []RecordPayload{{RecordType: "text", Data: "hi", Lang: "en"}}},
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.ID != "req-1" || decoded.Type != TypeWrite {
		t.Errorf("decoded envelope = %+v", decoded)
	}

	var payload WritePayload
	if err := decoded.Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(payload.Message.Records) != 1 || payload.Message.Records[0].Data != "hi" {
		t.Errorf("decoded payload = %+v", payload)
	}
}

func TestEnvelope_NoPayload(t *testing.T) {
	env, err := NewEnvelope("req-2", TypeScan, nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	data, _ := json.Marshal(env)
	if string(data) != `{"id":"req-2","type":"scan"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var payload ResponsePayload
	if err := env.Decode(&payload); err == nil {
		t.Error("Decode() of an empty payload should fail")
	}
}
