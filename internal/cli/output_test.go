package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

func newTestWriter(format types.OutputFormat, quiet bool) (*OutputWriter, *bytes.Buffer, *bytes.Buffer) {
	w := NewOutputWriter(format, quiet, false)
	var stdout, stderr bytes.Buffer
	w.out = &stdout
	w.errOut = &stderr
	return w, &stdout, &stderr
}

func init() {
	color.NoColor = true
}

func TestOutputWriter_JSONEnvelope(t *testing.T) {
	w, stdout, _ := newTestWriter(types.OutputFormatJSON, false)
	w.AddWarning("SYNC_PARTIAL_FAILURE", "1 item(s) failed", "warning")

	report := &types.SyncReport{Created: 2, Failures: []types.SyncFailure{}}
	if err := w.WriteSuccess("sync", report); err != nil {
		t.Fatalf("WriteSuccess() error = %v", err)
	}

	var envelope struct {
		SchemaVersion string             `json:"schemaVersion"`
		TraceID       string             `json:"traceId"`
		Command       string             `json:"command"`
		Data          types.SyncReport   `json:"data"`
		Warnings      []types.CLIWarning `json:"warnings"`
		Errors        []types.CLIError   `json:"errors"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &envelope); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	if envelope.Command != "sync" || envelope.SchemaVersion != utils.SchemaVersion || envelope.TraceID == "" {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.Data.Created != 2 {
		t.Errorf("data.created = %d", envelope.Data.Created)
	}
	if len(envelope.Warnings) != 1 || len(envelope.Errors) != 0 {
		t.Errorf("warnings = %v, errors = %v", envelope.Warnings, envelope.Errors)
	}
}

func TestOutputWriter_WriteErrorExitCodes(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{utils.ErrCodeAuthRequired, utils.ExitAuthRequired},
		{utils.ErrCodeInvalidArgument, utils.ExitInvalidArgument},
		{utils.ErrCodeCorruptState, utils.ExitCorruptState},
		{utils.ErrCodeCancelled, utils.ExitSyncInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w, _, stderr := newTestWriter(types.OutputFormatTable, false)
			err := w.WriteError("sync", utils.NewCLIError(tt.code, "boom").Build())

			var exitErr *exitError
			if !errors.As(err, &exitErr) || exitErr.code != tt.want {
				t.Errorf("WriteError() = %v, want exit code %d", err, tt.want)
			}
			if !strings.Contains(stderr.String(), "Error ["+tt.code+"]: boom") {
				t.Errorf("stderr = %q", stderr.String())
			}
		})
	}
}

func TestOutputWriter_FailUsesAppErrorCode(t *testing.T) {
	w, stdout, _ := newTestWriter(types.OutputFormatJSON, false)
	appErr := utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired, "token expired").Build())

	err := w.Fail("sync", appErr)
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != utils.ExitAuthExpired {
		t.Errorf("Fail() = %v", err)
	}
	if !strings.Contains(stdout.String(), `"code": "AUTH_EXPIRED"`) {
		t.Errorf("stdout = %s", stdout.String())
	}

	w, _, _ = newTestWriter(types.OutputFormatTable, true)
	err = w.Fail("sync", errors.New("plain"))
	if !errors.As(err, &exitErr) || exitErr.code != utils.ExitUnknown {
		t.Errorf("Fail(plain) = %v, want exit %d", err, utils.ExitUnknown)
	}
}

func TestOutputWriter_Tables(t *testing.T) {
	w, stdout, _ := newTestWriter(types.OutputFormatTable, false)
	failures := types.FailureTable{
		{NodeID: "f1", Name: "a.pdf", Path: "Math/a.pdf", Stage: types.SyncStageDownload, Code: utils.ErrCodeNetworkError, Cause: "reset", Attempts: 3},
	}
	if err := w.WriteSuccess("sync", failures); err != nil {
		t.Fatal(err)
	}
	got := stdout.String()
	for _, want := range []string{"STAGE", "Math/a.pdf", "reset (after 3 attempts)"} {
		if !strings.Contains(got, want) {
			t.Errorf("table lacks %q:\n%s", want, got)
		}
	}

	stdout.Reset()
	if err := w.WriteSuccess("config.path", map[string]string{"path": "/tmp/config.json"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "/tmp/config.json") {
		t.Errorf("key/value table = %q", stdout.String())
	}

	stdout.Reset()
	if err := w.WriteSuccess("auth.profiles", types.ProfileList{}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(stdout.String()) != "No stored profiles" {
		t.Errorf("empty table = %q", stdout.String())
	}
}

func TestOutputWriter_Banner(t *testing.T) {
	tests := []struct {
		name   string
		report types.SyncReport
		want   string
	}{
		{"clean", types.SyncReport{}, "Sync complete"},
		{"failures", types.SyncReport{Failed: 2}, "Sync complete with 2 failure(s)"},
		{"dry run", types.SyncReport{DryRun: true, Pending: 4}, "Dry run: 4 file(s) would be downloaded"},
		{"interrupted", types.SyncReport{Interrupted: true, Failed: 1}, "Synchronization interrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, stdout, _ := newTestWriter(types.OutputFormatTable, false)
			w.Banner(&tt.report)
			if !strings.HasPrefix(stdout.String(), tt.want) {
				t.Errorf("banner = %q, want prefix %q", stdout.String(), tt.want)
			}
		})
	}

	w, stdout, _ := newTestWriter(types.OutputFormatJSON, false)
	w.Banner(&types.SyncReport{})
	if stdout.Len() != 0 {
		t.Errorf("JSON mode printed a banner: %q", stdout.String())
	}
}

func TestOutputWriter_QuietSuppressesWarnings(t *testing.T) {
	w, _, stderr := newTestWriter(types.OutputFormatTable, true)
	w.AddWarning("X", "hidden", "warning")
	w.Log("also hidden")
	if err := w.WriteSuccess("cmd", map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q", stderr.String())
	}
}
