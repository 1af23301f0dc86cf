package functions

import (
	"encoding/json"
	"testing"
)

func TestStrictBool(t *testing.T) {
	var b StrictBool
	if err := json.Unmarshal([]byte(`true`), &b); err != nil {
		t.Fatal(err)
	}
	if !bool(b) {
		t.Fatal("want true")
	}
	for _, bad := range []string{`1`, `0`, `"true"`} {
		if err := json.Unmarshal([]byte(bad), &b); err == nil {
			t.Fatalf("%s should be rejected", bad)
		}
	}
}

func TestStrictFloat(t *testing.T) {
	var f StrictFloat
	if err := json.Unmarshal([]byte(`12.5`), &f); err != nil {
		t.Fatal(err)
	}
	if float64(f) != 12.5 {
		t.Fatalf("got %v", float64(f))
	}
	for _, bad := range []string{`"5"`, `true`} {
		if err := json.Unmarshal([]byte(bad), &f); err == nil {
			t.Fatalf("%s should be rejected", bad)
		}
	}
}

func TestExecutionResultDecoding(t *testing.T) {
	raw := `{
		"execution_id": "exec-1",
		"function_name": "send_email",
		"success": true,
		"logs": ["started", "done"],
		"execution_time_ms": 42.7,
		"delivery_id": "d-1"
	}`
	var res ExecutionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatal(err)
	}
	if res.FunctionName != "send_email" || !bool(res.Success) {
		t.Fatalf("decoded %+v", res)
	}
	if len(res.Logs) != 2 || res.DeliveryID == nil || *res.DeliveryID != "d-1" {
		t.Fatalf("decoded %+v", res)
	}

	if err := json.Unmarshal([]byte(`{"success": 1}`), &res); err == nil {
		t.Fatal("numeric success should be rejected")
	}
	if err := json.Unmarshal([]byte(`{"success": true, "execution_time_ms": "9"}`), &res); err == nil {
		t.Fatal("string execution time should be rejected")
	}
}
