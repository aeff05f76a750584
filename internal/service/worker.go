package service

import (
	"context"
	"log/slog"
	"strings"

	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
)

var workerConstraints = ConstraintTable{
	"workers_key_key":        "A worker with this key already exists",
	"workers_scope_name_key": "A worker with this name already exists in this scope",
}

var installationConstraints = ConstraintTable{
	"worker_installations_worker_id_folder_key_key": "Worker is already installed in this folder",
	"worker_installations_worker_id_fkey":           "Worker does not exist",
}

// WorkerInput creates or partially updates a worker. ScopeRef is only read
// together with Scope.
type WorkerInput struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Scope       *store.WorkerScope `json:"scope"`
	ScopeRef    *string            `json:"scopeRef"`
}

func (in WorkerInput) validate() error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ruleErrorf("Worker name cannot be empty")
	}
	if in.Scope == nil {
		if in.ScopeRef != nil {
			return ruleErrorf("scopeRef can only be changed together with scope")
		}
		return nil
	}
	if !in.Scope.Valid() {
		return ruleErrorf("Invalid worker scope %q", *in.Scope)
	}
	if *in.Scope == store.WorkerScopePublic && in.ScopeRef != nil {
		return ruleErrorf("Public workers must not have a scopeRef")
	}
	if *in.Scope != store.WorkerScopePublic && !present(in.ScopeRef) {
		return ruleErrorf("Workers with %s scope require a scopeRef", *in.Scope)
	}
	return nil
}

// WorkerService manages the worker catalogue.
type WorkerService struct {
	store store.WorkerStore
	log   *slog.Logger
	tr    translator
}

func NewWorkerService(s store.WorkerStore, log *slog.Logger) *WorkerService {
	log = log.With("service", "worker")
	return &WorkerService{
		store: s,
		log:   log,
		tr:    newTranslator(log, workerConstraints, "Worker not found"),
	}
}

func (s *WorkerService) Create(ctx context.Context, tc tenant.Context, in WorkerInput, user string) Response[*store.Worker] {
	if !present(in.Name) || in.Scope == nil {
		return fail[*store.Worker](ctx, s.tr, "worker.create", ruleErrorf("Worker name and scope are required"))
	}
	if err := in.validate(); err != nil {
		return fail[*store.Worker](ctx, s.tr, "worker.create", err)
	}

	worker := &store.Worker{
		Key:       uuid.New(),
		Name:      strings.TrimSpace(*in.Name),
		Scope:     *in.Scope,
		ScopeRef:  in.ScopeRef,
		CreatedBy: actor(user),
		UpdatedBy: actor(user),
	}
	if in.Description != nil {
		worker.Description = *in.Description
	}

	saved, err := s.store.CreateWorker(ctx, tc, worker)
	if err != nil {
		return fail[*store.Worker](ctx, s.tr, "worker.create", err)
	}
	s.log.InfoContext(ctx, "worker created", "key", saved.Key, "scope", saved.Scope)
	return created("Worker created successfully", saved)
}

func (s *WorkerService) GetByKey(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[*store.Worker] {
	worker, err := s.store.GetWorkerByKey(ctx, tc, key)
	if err != nil {
		return fail[*store.Worker](ctx, s.tr, "worker.get", err)
	}
	if worker == nil {
		return notFound[*store.Worker](ctx, s.tr, "worker.get")
	}
	return ok("Worker retrieved successfully", worker)
}

func (s *WorkerService) GetAll(ctx context.Context, tc tenant.Context, filter store.WorkerFilter) Response[Paged[*store.Worker]] {
	if filter.Scope != nil && !filter.Scope.Valid() {
		return fail[Paged[*store.Worker]](ctx, s.tr, "worker.list", ruleErrorf("Invalid worker scope %q", *filter.Scope))
	}
	workers, total, err := s.store.ListWorkers(ctx, tc, filter)
	if err != nil {
		return fail[Paged[*store.Worker]](ctx, s.tr, "worker.list", err)
	}
	return ok("Workers retrieved successfully", newPaged(workers, total, filter.Page))
}

func (s *WorkerService) Update(ctx context.Context, tc tenant.Context, key uuid.UUID, in WorkerInput, user string) Response[*store.Worker] {
	if err := in.validate(); err != nil {
		return fail[*store.Worker](ctx, s.tr, "worker.update", err)
	}
	patch := store.WorkerPatch{
		Name:        in.Name,
		Description: in.Description,
		Scope:       in.Scope,
		ScopeRef:    in.ScopeRef,
		UpdatedBy:   actor(user),
	}

	worker, err := s.store.UpdateWorker(ctx, tc, key, func(*store.Worker) (store.WorkerPatch, error) {
		return patch, nil
	})
	if err != nil {
		return fail[*store.Worker](ctx, s.tr, "worker.update", err)
	}
	if worker == nil {
		return notFound[*store.Worker](ctx, s.tr, "worker.update")
	}
	return ok("Worker updated successfully", worker)
}

func (s *WorkerService) Delete(ctx context.Context, tc tenant.Context, key uuid.UUID) Response[bool] {
	deleted, err := s.store.DeleteWorker(ctx, tc, key)
	if err != nil {
		return fail[bool](ctx, s.tr, "worker.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "worker.delete")
	}
	return ok("Worker deleted successfully", true)
}

// InstallationInput installs a worker or partially updates an installation.
type InstallationInput struct {
	WorkerKey      *uuid.UUID     `json:"workerKey"`
	Priority       *int           `json:"priority"`
	DefaultVersion *string        `json:"defaultVersion"`
	Settings       map[string]any `json:"settings"`
	Parameters     map[string]any `json:"parameters"`
	Options        map[string]any `json:"options"`
}

// WorkerInstallationService binds workers to folders.
type WorkerInstallationService struct {
	store store.WorkerStore
	log   *slog.Logger
	tr    translator
}

func NewWorkerInstallationService(s store.WorkerStore, log *slog.Logger) *WorkerInstallationService {
	log = log.With("service", "worker_installation")
	return &WorkerInstallationService{
		store: s,
		log:   log,
		tr:    newTranslator(log, installationConstraints, "Worker installation not found"),
	}
}

// Install adds the worker to the current folder. A worker outside the
// caller's visibility reads as missing.
func (s *WorkerInstallationService) Install(ctx context.Context, tc tenant.Context, in InstallationInput, user string) Response[*store.WorkerInstallation] {
	if in.WorkerKey == nil {
		return fail[*store.WorkerInstallation](ctx, s.tr, "installation.create", ruleErrorf("workerKey is required"))
	}
	if in.Priority != nil && (*in.Priority < 0 || *in.Priority > 10) {
		return fail[*store.WorkerInstallation](ctx, s.tr, "installation.create", ruleErrorf("Priority must be between 0 and 10"))
	}

	inst := &store.WorkerInstallation{
		Priority:       5,
		DefaultVersion: in.DefaultVersion,
		Settings:       orEmpty(in.Settings),
		Parameters:     orEmpty(in.Parameters),
		Options:        orEmpty(in.Options),
		CreatedBy:      actor(user),
		UpdatedBy:      actor(user),
	}
	if in.Priority != nil {
		inst.Priority = *in.Priority
	}

	saved, err := s.store.CreateWorkerInstallation(ctx, tc, *in.WorkerKey, inst)
	if err != nil {
		return fail[*store.WorkerInstallation](ctx, s.tr.withNotFound("Worker not found"), "installation.create", err)
	}
	s.log.InfoContext(ctx, "worker installed", "worker_key", *in.WorkerKey, "folder_key", tc.FolderKey)
	return created("Worker installed successfully", saved)
}

func (s *WorkerInstallationService) GetAll(ctx context.Context, tc tenant.Context, page store.Page) Response[Paged[*store.WorkerInstallation]] {
	installs, total, err := s.store.ListWorkerInstallations(ctx, tc, page)
	if err != nil {
		return fail[Paged[*store.WorkerInstallation]](ctx, s.tr, "installation.list", err)
	}
	return ok("Worker installations retrieved successfully", newPaged(installs, total, page))
}

func (s *WorkerInstallationService) Update(ctx context.Context, tc tenant.Context, id int64, in InstallationInput, user string) Response[*store.WorkerInstallation] {
	if in.WorkerKey != nil {
		return fail[*store.WorkerInstallation](ctx, s.tr, "installation.update", ruleErrorf("The installed worker cannot be changed"))
	}
	if in.Priority != nil && (*in.Priority < 0 || *in.Priority > 10) {
		return fail[*store.WorkerInstallation](ctx, s.tr, "installation.update", ruleErrorf("Priority must be between 0 and 10"))
	}
	patch := store.WorkerInstallationPatch{
		Priority:       in.Priority,
		DefaultVersion: in.DefaultVersion,
		Settings:       in.Settings,
		Parameters:     in.Parameters,
		Options:        in.Options,
		UpdatedBy:      actor(user),
	}

	inst, err := s.store.UpdateWorkerInstallation(ctx, tc, id, func(*store.WorkerInstallation) (store.WorkerInstallationPatch, error) {
		return patch, nil
	})
	if err != nil {
		return fail[*store.WorkerInstallation](ctx, s.tr, "installation.update", err)
	}
	if inst == nil {
		return notFound[*store.WorkerInstallation](ctx, s.tr, "installation.update")
	}
	return ok("Worker installation updated successfully", inst)
}

func (s *WorkerInstallationService) Uninstall(ctx context.Context, tc tenant.Context, id int64) Response[bool] {
	deleted, err := s.store.DeleteWorkerInstallation(ctx, tc, id)
	if err != nil {
		return fail[bool](ctx, s.tr, "installation.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "installation.delete")
	}
	return ok("Worker uninstalled successfully", true)
}
