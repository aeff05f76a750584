package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"botmaster/internal/store"

	"github.com/google/uuid"
)

func TestWorkerScopeRules(t *testing.T) {
	folder := uuid.NewString()
	tests := []struct {
		name        string
		input       WorkerInput
		wantStatus  int
		wantMessage string
	}{
		{
			name:       "public without ref",
			input:      WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScopePublic)},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "folder with ref",
			input:      WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScopeFolder), ScopeRef: &folder},
			wantStatus: http.StatusCreated,
		},
		{
			name:        "public with ref",
			input:       WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScopePublic), ScopeRef: &folder},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Public workers must not have a scopeRef",
		},
		{
			name:        "tenant without ref",
			input:       WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScopeTenant)},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Workers with tenant scope require a scopeRef",
		},
		{
			name:        "unknown scope",
			input:       WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScope("galaxy")), ScopeRef: &folder},
			wantStatus:  http.StatusBadRequest,
			wantMessage: `Invalid worker scope "galaxy"`,
		},
		{
			name:        "missing scope",
			input:       WorkerInput{Name: ptr("mailer")},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Worker name and scope are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewWorkerService(newFakeWorkerStore(), testLogger())
			resp := svc.Create(context.Background(), testTenant(t), tt.input, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d (%q), want %d", resp.StatusCode, resp.Message, tt.wantStatus)
			}
			if tt.wantMessage != "" && resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
		})
	}
}

func TestUpdateWorkerScope(t *testing.T) {
	fs := newFakeWorkerStore()
	svc := NewWorkerService(fs, testLogger())
	ctx := context.Background()
	tc := testTenant(t)
	ref := tc.FolderKey.String()
	w := svc.Create(ctx, tc, WorkerInput{Name: ptr("w"), Scope: ptr(store.WorkerScopeFolder), ScopeRef: &ref}, "").ResponseObject

	resp := svc.Update(ctx, tc, w.Key, WorkerInput{Scope: ptr(store.WorkerScopePublic)}, "")
	if !resp.Success || resp.ResponseObject.Scope != store.WorkerScopePublic || resp.ResponseObject.ScopeRef != nil {
		t.Errorf("resp = %+v", resp.ResponseObject)
	}

	r := svc.Update(ctx, tc, w.Key, WorkerInput{ScopeRef: &ref}, "")
	if r.StatusCode != http.StatusBadRequest || r.Message != "scopeRef can only be changed together with scope" {
		t.Errorf("ref without scope = %d %q", r.StatusCode, r.Message)
	}
}

func TestInstallWorker(t *testing.T) {
	fs := newFakeWorkerStore()
	workers := NewWorkerService(fs, testLogger())
	installs := NewWorkerInstallationService(fs, testLogger())
	ctx := context.Background()
	tc := testTenant(t)
	w := workers.Create(ctx, tc, WorkerInput{Name: ptr("mailer"), Scope: ptr(store.WorkerScopePublic)}, "").ResponseObject

	resp := installs.Install(ctx, tc, InstallationInput{WorkerKey: &w.Key}, "erin")
	if !resp.Success || resp.StatusCode != http.StatusCreated {
		t.Fatalf("install = %+v", resp)
	}
	inst := resp.ResponseObject
	if inst.WorkerID != w.ID || inst.FolderKey != tc.FolderKey || inst.Priority != 5 {
		t.Errorf("installation = %+v", inst)
	}
	if inst.Settings == nil || inst.Parameters == nil || inst.Options == nil {
		t.Error("property bags default to empty objects")
	}

	again := installs.Install(ctx, tc, InstallationInput{WorkerKey: &w.Key}, "")
	if again.StatusCode != http.StatusConflict || again.Message != "Worker is already installed in this folder" {
		t.Errorf("duplicate install = %d %q", again.StatusCode, again.Message)
	}
}

func TestInstallWorkerFailures(t *testing.T) {
	unknown := uuid.New()
	tests := []struct {
		name        string
		input       InstallationInput
		storeErr    error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "missing worker key",
			input:       InstallationInput{},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "workerKey is required",
		},
		{
			name:        "invisible worker",
			input:       InstallationInput{WorkerKey: &unknown},
			wantStatus:  http.StatusNotFound,
			wantMessage: "Worker not found",
		},
		{
			name:        "worker deleted concurrently",
			input:       InstallationInput{WorkerKey: &unknown},
			storeErr:    fkViolation("worker_installations_worker_id_fkey"),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Worker does not exist",
		},
		{
			name:        "unexpected failure",
			input:       InstallationInput{WorkerKey: &unknown},
			storeErr:    errors.New("tls: handshake failure"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: GenericErrorMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeWorkerStore()
			fs.installErr = tt.storeErr
			svc := NewWorkerInstallationService(fs, testLogger())
			resp := svc.Install(context.Background(), testTenant(t), tt.input, "")
			if resp.StatusCode != tt.wantStatus || resp.Message != tt.wantMessage {
				t.Errorf("resp = %d %q, want %d %q", resp.StatusCode, resp.Message, tt.wantStatus, tt.wantMessage)
			}
		})
	}
}

func TestUpdateInstallation(t *testing.T) {
	fs := newFakeWorkerStore()
	workers := NewWorkerService(fs, testLogger())
	svc := NewWorkerInstallationService(fs, testLogger())
	ctx := context.Background()
	tc := testTenant(t)
	w := workers.Create(ctx, tc, WorkerInput{Name: ptr("w"), Scope: ptr(store.WorkerScopePublic)}, "").ResponseObject
	inst := svc.Install(ctx, tc, InstallationInput{WorkerKey: &w.Key}, "").ResponseObject

	if r := svc.Update(ctx, tc, inst.ID, InstallationInput{Priority: ptr(9)}, ""); !r.Success || r.ResponseObject.Priority != 9 {
		t.Errorf("update = %+v", r)
	}
	if r := svc.Update(ctx, tc, inst.ID, InstallationInput{WorkerKey: &w.Key}, ""); r.StatusCode != http.StatusBadRequest {
		t.Errorf("worker change = %d", r.StatusCode)
	}
	if r := svc.Update(ctx, tc, 999, InstallationInput{Priority: ptr(1)}, ""); r.StatusCode != http.StatusNotFound || r.Message != "Worker installation not found" {
		t.Errorf("missing = %d %q", r.StatusCode, r.Message)
	}

	list := svc.GetAll(ctx, tc, store.Page{})
	if list.ResponseObject.Total != 1 || len(list.ResponseObject.Items) != 1 {
		t.Errorf("list = %+v", list.ResponseObject)
	}
	if r := svc.Uninstall(ctx, tc, inst.ID); !r.Success {
		t.Errorf("uninstall = %+v", r)
	}
}
