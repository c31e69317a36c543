package hl7v2

import "testing"

func TestValue_FieldAndComponent(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if got := msg.Value("MSH-3"); got != "SendApp" {
		t.Errorf("MSH-3: expected 'SendApp', got %q", got)
	}
	if got := msg.Value("MSH-10"); got != "MSG001" {
		t.Errorf("MSH-10: expected 'MSG001', got %q", got)
	}
	if got := msg.Value("PID-3.1"); got != "12345" {
		t.Errorf("PID-3.1: expected '12345', got %q", got)
	}
	if got := msg.Value("PID-5.2"); got != "John" {
		t.Errorf("PID-5.2: expected 'John', got %q", got)
	}
}

func TestValue_Missing(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if got := msg.Value("ZZZ-1"); got != "" {
		t.Errorf("expected empty value for missing segment, got %q", got)
	}
	if got := msg.Value("PID-99"); got != "" {
		t.Errorf("expected empty value for missing field, got %q", got)
	}
	if got := msg.Value("not a path"); got != "" {
		t.Errorf("expected empty value for malformed path, got %q", got)
	}
}

func TestSetValue_Field(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if err := msg.SetValue("PID-3", "99999"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if got := msg.Value("PID-3"); got != "99999" {
		t.Errorf("expected '99999', got %q", got)
	}
}

func TestSetValue_Component(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if err := msg.SetValue("PID-5.2", "Jane"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if got := msg.Value("PID-5.1"); got != "Smith" {
		t.Errorf("expected family name to survive, got %q", got)
	}
	if got := msg.Value("PID-5.2"); got != "Jane" {
		t.Errorf("expected 'Jane', got %q", got)
	}
}

func TestSetValue_GrowsFields(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if err := msg.SetValue("PID-20", "grown"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if got := msg.Value("PID-20"); got != "grown" {
		t.Errorf("expected 'grown', got %q", got)
	}
}

func TestSetValue_MissingSegment(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if err := msg.SetValue("OBX-1", "x"); err == nil {
		t.Error("expected error for missing segment")
	}
}

func TestSetValue_SurvivesSerialization(t *testing.T) {
	msg := parseTestMessage(t, testADT)

	if err := msg.SetValue("PID-3.1", "REPLACED"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	reparsed, err := Parse(SerializeMessage(msg))
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if got := reparsed.PatientID(); got != "REPLACED" {
		t.Errorf("expected 'REPLACED' after round trip, got %q", got)
	}
}
