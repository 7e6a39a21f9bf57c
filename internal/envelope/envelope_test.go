package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/version"
)

func TestEnvelopeContract(t *testing.T) {
	e := New("plan").Succeed(map[string]any{"changes": []string{}})

	if e.SchemaVersion != 1 {
		t.Errorf("schema_version = %d", e.SchemaVersion)
	}
	if e.Version != version.Version {
		t.Errorf("version = %s, want %s", e.Version, version.Version)
	}
	if !e.OK || len(e.Errors) != 0 {
		t.Errorf("ok=%v errors=%v, want ok with no errors", e.OK, e.Errors)
	}
	if e.CommandID == "" {
		t.Error("command_id empty")
	}
}

func TestEnvelopeOKIffNoErrors(t *testing.T) {
	e := New("deploy").Fail(apperr.New(apperr.CodeConfirmRequired, "refusing"))
	if e.OK {
		t.Error("ok = true with errors present")
	}
	if len(e.Errors) != 1 || e.Errors[0].Code != "E_CONFIRM_REQUIRED" {
		t.Errorf("errors = %+v", e.Errors)
	}
}

func TestEnvelopeUnclassifiedError(t *testing.T) {
	e := New("plan").Fail(errors.New("boom"))
	if e.Errors[0].Code != "E_UNEXPECTED" {
		t.Errorf("code = %s, want E_UNEXPECTED", e.Errors[0].Code)
	}
}

func TestMarshalPrettyShape(t *testing.T) {
	out, err := New("status").MarshalPretty()
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.HasSuffix(text, "\n") {
		t.Error("missing trailing newline")
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if _, ok := decoded["data"].(map[string]any); !ok {
		t.Errorf("data is %T, want object", decoded["data"])
	}
	if _, ok := decoded["warnings"].([]any); !ok {
		t.Errorf("warnings is %T, want array", decoded["warnings"])
	}
	if _, ok := decoded["errors"].([]any); !ok {
		t.Errorf("errors is %T, want array", decoded["errors"])
	}
}
