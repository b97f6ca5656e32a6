// ABOUTME: Tests for the exec pack handler.
// ABOUTME: Runs real /bin/sh commands inside a temp sandbox.

package builtins

import (
	"strings"
	"testing"
)

func TestExecTool(t *testing.T) {
	sb := newTestSandbox(t)
	h := findHandler(ExecPack(sb), "exec")

	out := call(t, h, `{"command":"echo $GREETING","env":{"GREETING":"hi","N":3,"B":true}}`)
	if out["summary"] != "stdout:\nhi" {
		t.Errorf("unexpected summary: %q", out["summary"])
	}
	if out["exitCode"].(float64) != 0 || out["cwd"] != "." {
		t.Errorf("unexpected result: %v", out)
	}

	err := callErr(t, h, `{"command":"echo oops >&2; exit 3"}`)
	if !strings.Contains(err.Error(), "exit code 3") || !strings.Contains(err.Error(), "stderr:\noops") {
		t.Errorf("unexpected error: %v", err)
	}

	callErr(t, h, `{"command":""}`)
	callErr(t, h, `{"command":"true","timeoutMs":5}`)
	callErr(t, h, `{"command":"true","env":{"X":{"nested":1}}}`)
	callErr(t, h, `{"command":"true","cwd":"/"}`)
}
