package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botmaster/internal/auth"
	"botmaster/internal/store"
	"botmaster/internal/tenant"

	"github.com/google/uuid"
	"github.com/robfig/cron"
)

var triggerConstraints = ConstraintTable{
	"triggers_folder_key_name_key": "A trigger with this name already exists in this folder",
}

var frequencyDescriptors = map[string]string{
	"hourly":  "@hourly",
	"daily":   "@daily",
	"weekly":  "@weekly",
	"monthly": "@monthly",
	"yearly":  "@yearly",
}

var webhookMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// TriggerInput creates or partially updates a trigger.
type TriggerInput struct {
	Name              *string              `json:"name"`
	Description       *string              `json:"description"`
	Type              *store.TriggerType   `json:"type"`
	TargetType        *store.TriggerTarget `json:"targetType"`
	WorkflowID        *string              `json:"workflowId"`
	WorkerID          *string              `json:"workerId"`
	IsActive          *bool                `json:"isActive"`
	ScheduleFrequency *string              `json:"scheduleFrequency"`
	CronExpression    *string              `json:"cronExpression"`
	WebhookEndpoint   *string              `json:"webhookEndpoint"`
	WebhookMethod     *string              `json:"webhookMethod"`
	WebhookSecret     *string              `json:"webhookSecret"`
	EventSource       *string              `json:"eventSource"`
	EventName         *string              `json:"eventName"`
	DataSource        *string              `json:"dataSource"`
	DataCondition     *string              `json:"dataCondition"`
}

// validate checks the type-specific fields when a type is given and the
// target fields when a target type is given.
func (in TriggerInput) validate() error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ruleErrorf("Trigger name cannot be empty")
	}
	if in.Type != nil {
		if err := checkTypeFields(in.asTrigger()); err != nil {
			return err
		}
	}
	if in.TargetType != nil {
		if err := checkTarget(in.asTrigger()); err != nil {
			return err
		}
	}
	if in.WebhookMethod != nil && !webhookMethods[strings.ToUpper(*in.WebhookMethod)] {
		return ruleErrorf("webhookMethod must be one of GET, POST, PUT, PATCH, DELETE")
	}
	if _, err := parseSchedule(in.ScheduleFrequency, in.CronExpression); err != nil {
		return err
	}
	return nil
}

// asTrigger views the input's type and target fields as a trigger.
func (in TriggerInput) asTrigger() *store.Trigger {
	tr := &store.Trigger{
		WorkflowID:        in.WorkflowID,
		WorkerID:          in.WorkerID,
		ScheduleFrequency: in.ScheduleFrequency,
		CronExpression:    in.CronExpression,
		WebhookEndpoint:   in.WebhookEndpoint,
		WebhookMethod:     in.WebhookMethod,
		EventSource:       in.EventSource,
		EventName:         in.EventName,
		DataSource:        in.DataSource,
		DataCondition:     in.DataCondition,
	}
	if in.Type != nil {
		tr.Type = *in.Type
	}
	if in.TargetType != nil {
		tr.TargetType = *in.TargetType
	}
	return tr
}

// checkTypeFields requires the fields that belong to the trigger's type.
func checkTypeFields(tr *store.Trigger) error {
	switch tr.Type {
	case store.TriggerTypeSchedule:
		if !present(tr.ScheduleFrequency) && !present(tr.CronExpression) {
			return ruleErrorf("Schedule triggers require scheduleFrequency or cronExpression")
		}
	case store.TriggerTypeWebhook:
		if !present(tr.WebhookEndpoint) || !present(tr.WebhookMethod) {
			return ruleErrorf("Webhook triggers require webhookEndpoint and webhookMethod")
		}
	case store.TriggerTypeEvent:
		if !present(tr.EventSource) || !present(tr.EventName) {
			return ruleErrorf("Event triggers require eventSource and eventName")
		}
	case store.TriggerTypeData:
		if !present(tr.DataSource) || !present(tr.DataCondition) {
			return ruleErrorf("Data triggers require dataSource and dataCondition")
		}
	default:
		return ruleErrorf("Invalid trigger type %q", tr.Type)
	}
	return nil
}

// checkTarget requires exactly the id that matches the target type.
func checkTarget(tr *store.Trigger) error {
	switch tr.TargetType {
	case store.TriggerTargetWorkflow:
		if !present(tr.WorkflowID) || tr.WorkerID != nil {
			return ruleErrorf("Workflow triggers require workflowId and must not set workerId")
		}
	case store.TriggerTargetWorker:
		if !present(tr.WorkerID) || tr.WorkflowID != nil {
			return ruleErrorf("Worker triggers require workerId and must not set workflowId")
		}
	default:
		return ruleErrorf("Invalid target type %q", tr.TargetType)
	}
	return nil
}

// typeFields lists the nullable fields owned by each trigger type.
var typeFields = []struct {
	typ    store.TriggerType
	fields []store.TriggerField
}{
	{store.TriggerTypeSchedule, []store.TriggerField{store.TriggerFieldScheduleFrequency, store.TriggerFieldCronExpression}},
	{store.TriggerTypeWebhook, []store.TriggerField{store.TriggerFieldWebhookEndpoint, store.TriggerFieldWebhookMethod, store.TriggerFieldWebhookSecret}},
	{store.TriggerTypeEvent, []store.TriggerField{store.TriggerFieldEventSource, store.TriggerFieldEventName}},
	{store.TriggerTypeData, []store.TriggerField{store.TriggerFieldDataSource, store.TriggerFieldDataCondition}},
}

// reshape fits a patch to the trigger it will produce. Values sent for a type
// other than the resulting one are dropped. A type change clears the old
// type's columns and a target change clears the old target's id.
func reshape(current *store.Trigger, p store.TriggerPatch) store.TriggerPatch {
	p.Clear = nil
	if p.TargetType != nil && *p.TargetType != current.TargetType {
		switch *p.TargetType {
		case store.TriggerTargetWorker:
			p.WorkflowID = nil
			p.Clear = append(p.Clear, store.TriggerFieldWorkflowID)
		case store.TriggerTargetWorkflow:
			p.WorkerID = nil
			p.Clear = append(p.Clear, store.TriggerFieldWorkerID)
		}
	}
	typ := current.Type
	if p.Type != nil {
		typ = *p.Type
	}
	changed := typ != current.Type
	for _, tf := range typeFields {
		if tf.typ == typ {
			continue
		}
		for _, f := range tf.fields {
			dropTriggerField(&p, f)
			if changed {
				p.Clear = append(p.Clear, f)
			}
		}
	}
	if changed && typ != store.TriggerTypeSchedule {
		p.NextRunAt = nil
		p.Clear = append(p.Clear, store.TriggerFieldNextRunAt)
	}
	return p
}

func dropTriggerField(p *store.TriggerPatch, f store.TriggerField) {
	switch f {
	case store.TriggerFieldScheduleFrequency:
		p.ScheduleFrequency = nil
	case store.TriggerFieldCronExpression:
		p.CronExpression = nil
	case store.TriggerFieldWebhookEndpoint:
		p.WebhookEndpoint = nil
	case store.TriggerFieldWebhookMethod:
		p.WebhookMethod = nil
	case store.TriggerFieldWebhookSecret:
		p.WebhookSecret = nil
	case store.TriggerFieldEventSource:
		p.EventSource = nil
	case store.TriggerFieldEventName:
		p.EventName = nil
	case store.TriggerFieldDataSource:
		p.DataSource = nil
	case store.TriggerFieldDataCondition:
		p.DataCondition = nil
	}
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// parseSchedule returns the schedule described by a cron expression or, when
// none is set, a frequency. It returns nil when neither is set.
func parseSchedule(frequency, cronExpr *string) (cron.Schedule, error) {
	if present(cronExpr) {
		sched, err := cron.ParseStandard(strings.TrimSpace(*cronExpr))
		if err != nil {
			return nil, ruleErrorf("Invalid cron expression: %v", err)
		}
		return sched, nil
	}
	if !present(frequency) {
		return nil, nil
	}
	f := strings.ToLower(strings.TrimSpace(*frequency))
	if d, ok := frequencyDescriptors[f]; ok {
		f = d
	}
	if !strings.HasPrefix(f, "@") {
		return nil, ruleErrorf("Unsupported schedule frequency %q", *frequency)
	}
	sched, err := cron.ParseStandard(f)
	if err != nil {
		return nil, ruleErrorf("Unsupported schedule frequency %q", *frequency)
	}
	return sched, nil
}

// nextRun returns the next scheduled run after now for active schedule triggers.
func nextRun(tr *store.Trigger, now time.Time) *time.Time {
	if tr.Type != store.TriggerTypeSchedule || !tr.IsActive {
		return nil
	}
	sched, err := parseSchedule(tr.ScheduleFrequency, tr.CronExpression)
	if err != nil || sched == nil {
		return nil
	}
	next := sched.Next(now).UTC()
	return &next
}

// TriggerService manages triggers and records their executions.
type TriggerService struct {
	store store.TriggerStore
	log   *slog.Logger
	tr    translator
	now   func() time.Time
}

func NewTriggerService(s store.TriggerStore, log *slog.Logger) *TriggerService {
	log = log.With("service", "trigger")
	return &TriggerService{
		store: s,
		log:   log,
		tr:    newTranslator(log, triggerConstraints, "Trigger not found"),
		now:   time.Now,
	}
}

func (s *TriggerService) Create(ctx context.Context, tc tenant.Context, in TriggerInput, user string) Response[*store.Trigger] {
	if !present(in.Name) || in.Type == nil || in.TargetType == nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.create", ruleErrorf("Trigger name, type and targetType are required"))
	}
	if err := in.validate(); err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.create", err)
	}

	trigger := &store.Trigger{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(*in.Name),
		Type:       *in.Type,
		TargetType: *in.TargetType,
		WorkflowID: in.WorkflowID,
		WorkerID:   in.WorkerID,
		Status:     store.TriggerStatusActive,
		IsActive:   true,
		CreatedBy:  actor(user),
		UpdatedBy:  actor(user),
	}
	if in.Description != nil {
		trigger.Description = *in.Description
	}
	if in.IsActive != nil && !*in.IsActive {
		trigger.IsActive = false
		trigger.Status = store.TriggerStatusInactive
	}
	switch trigger.Type {
	case store.TriggerTypeSchedule:
		trigger.ScheduleFrequency = in.ScheduleFrequency
		trigger.CronExpression = in.CronExpression
	case store.TriggerTypeWebhook:
		method := strings.ToUpper(*in.WebhookMethod)
		trigger.WebhookEndpoint = in.WebhookEndpoint
		trigger.WebhookMethod = &method
		trigger.WebhookSecret = auth.HashOptional(in.WebhookSecret)
	case store.TriggerTypeEvent:
		trigger.EventSource = in.EventSource
		trigger.EventName = in.EventName
	case store.TriggerTypeData:
		trigger.DataSource = in.DataSource
		trigger.DataCondition = in.DataCondition
	}
	trigger.NextRunAt = nextRun(trigger, stamp(s.now))

	saved, err := s.store.CreateTrigger(ctx, tc, trigger)
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.create", err)
	}
	s.log.InfoContext(ctx, "trigger created", "id", saved.ID, "type", saved.Type)
	return created("Trigger created successfully", saved)
}

func (s *TriggerService) GetByID(ctx context.Context, tc tenant.Context, id uuid.UUID) Response[*store.Trigger] {
	trigger, err := s.store.GetTrigger(ctx, tc, id)
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.get", err)
	}
	if trigger == nil {
		return notFound[*store.Trigger](ctx, s.tr, "trigger.get")
	}
	return ok("Trigger retrieved successfully", trigger)
}

func (s *TriggerService) GetAll(ctx context.Context, tc tenant.Context, filter store.TriggerFilter) Response[Paged[*store.Trigger]] {
	triggers, total, err := s.store.ListTriggers(ctx, tc, filter)
	if err != nil {
		return fail[Paged[*store.Trigger]](ctx, s.tr, "trigger.list", err)
	}
	return ok("Triggers retrieved successfully", newPaged(triggers, total, filter.Page))
}

func (s *TriggerService) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, in TriggerInput, user string) Response[*store.Trigger] {
	if err := in.validate(); err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.update", err)
	}

	patch := store.TriggerPatch{
		Name:              in.Name,
		Description:       in.Description,
		Type:              in.Type,
		TargetType:        in.TargetType,
		WorkflowID:        in.WorkflowID,
		WorkerID:          in.WorkerID,
		IsActive:          in.IsActive,
		ScheduleFrequency: in.ScheduleFrequency,
		CronExpression:    in.CronExpression,
		WebhookEndpoint:   in.WebhookEndpoint,
		WebhookMethod:     in.WebhookMethod,
		WebhookSecret:     auth.HashOptional(in.WebhookSecret),
		EventSource:       in.EventSource,
		EventName:         in.EventName,
		DataSource:        in.DataSource,
		DataCondition:     in.DataCondition,
		UpdatedBy:         actor(user),
	}
	if in.WebhookMethod != nil {
		method := strings.ToUpper(*in.WebhookMethod)
		patch.WebhookMethod = &method
	}
	if in.IsActive != nil {
		patch.Status = activeStatus(*in.IsActive)
	}
	now := stamp(s.now)

	trigger, err := s.store.UpdateTrigger(ctx, tc, id, func(current *store.Trigger) (store.TriggerPatch, error) {
		p := reshape(current, patch)
		merged := mergeTrigger(current, p)
		if err := checkTypeFields(merged); err != nil {
			return store.TriggerPatch{}, err
		}
		if err := checkTarget(merged); err != nil {
			return store.TriggerPatch{}, err
		}
		if p.Type != nil || p.ScheduleFrequency != nil || p.CronExpression != nil || p.IsActive != nil {
			if next := nextRun(merged, now); next != nil {
				p.NextRunAt = next
			}
		}
		return p, nil
	})
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.update", err)
	}
	if trigger == nil {
		return notFound[*store.Trigger](ctx, s.tr, "trigger.update")
	}
	return ok("Trigger updated successfully", trigger)
}

func (s *TriggerService) Delete(ctx context.Context, tc tenant.Context, id uuid.UUID) Response[bool] {
	deleted, err := s.store.DeleteTrigger(ctx, tc, id)
	if err != nil {
		return fail[bool](ctx, s.tr, "trigger.delete", err)
	}
	if !deleted {
		return notFound[bool](ctx, s.tr, "trigger.delete")
	}
	return ok("Trigger deleted successfully", true)
}

// Execute counts one run of an active trigger. Invoking the target itself is
// left to the execution engine.
func (s *TriggerService) Execute(ctx context.Context, tc tenant.Context, id uuid.UUID, user string) Response[*store.Trigger] {
	now := stamp(s.now)
	trigger, err := s.store.RecordTriggerExecution(ctx, tc, id, func(current *store.Trigger) (*time.Time, error) {
		if !current.IsActive {
			return nil, ruleErrorf("Cannot execute inactive trigger")
		}
		return nextRun(current, now), nil
	}, now, actor(user))
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.execute", err)
	}
	if trigger == nil {
		return notFound[*store.Trigger](ctx, s.tr, "trigger.execute")
	}
	s.log.InfoContext(ctx, "trigger executed", "id", id, "execution_count", trigger.ExecutionCount)
	return ok(fmt.Sprintf("Trigger '%s' executed successfully", trigger.Name), trigger)
}

// Deliver executes a webhook trigger for an inbound call. A trigger that
// stores a secret only runs when the call presents the matching one.
func (s *TriggerService) Deliver(ctx context.Context, tc tenant.Context, id uuid.UUID, secret, user string) Response[*store.Trigger] {
	now := stamp(s.now)
	trigger, err := s.store.RecordTriggerExecution(ctx, tc, id, func(current *store.Trigger) (*time.Time, error) {
		if current.Type != store.TriggerTypeWebhook {
			return nil, ruleErrorf("Trigger '%s' is not a webhook trigger", current.Name)
		}
		if present(current.WebhookSecret) && !auth.VerifyKey(secret, *current.WebhookSecret) {
			return nil, ErrInvalidSecret
		}
		if !current.IsActive {
			return nil, ruleErrorf("Cannot execute inactive trigger")
		}
		return nil, nil
	}, now, actor(user))
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.deliver", err)
	}
	if trigger == nil {
		return notFound[*store.Trigger](ctx, s.tr, "trigger.deliver")
	}
	s.log.InfoContext(ctx, "webhook delivered", "id", id, "execution_count", trigger.ExecutionCount)
	return ok(fmt.Sprintf("Trigger '%s' executed successfully", trigger.Name), trigger)
}

// ToggleStatus sets the trigger active or inactive regardless of its current state.
func (s *TriggerService) ToggleStatus(ctx context.Context, tc tenant.Context, id uuid.UUID, isActive bool, user string) Response[*store.Trigger] {
	now := stamp(s.now)
	trigger, err := s.store.UpdateTrigger(ctx, tc, id, func(current *store.Trigger) (store.TriggerPatch, error) {
		patch := store.TriggerPatch{
			IsActive:  &isActive,
			Status:    activeStatus(isActive),
			UpdatedBy: actor(user),
		}
		patch.NextRunAt = nextRun(mergeTrigger(current, patch), now)
		return patch, nil
	})
	if err != nil {
		return fail[*store.Trigger](ctx, s.tr, "trigger.toggle", err)
	}
	if trigger == nil {
		return notFound[*store.Trigger](ctx, s.tr, "trigger.toggle")
	}
	state := "deactivated"
	if isActive {
		state = "activated"
	}
	return ok("Trigger "+state+" successfully", trigger)
}

func (s *TriggerService) GetStats(ctx context.Context, tc tenant.Context) Response[*store.TriggerStats] {
	st, err := s.store.TriggerStats(ctx, tc)
	if err != nil {
		return fail[*store.TriggerStats](ctx, s.tr, "trigger.stats", err)
	}
	return ok("Trigger statistics retrieved successfully", st)
}

func activeStatus(active bool) *store.TriggerStatus {
	status := store.TriggerStatusInactive
	if active {
		status = store.TriggerStatusActive
	}
	return &status
}

// mergeTrigger returns current as it will read after patch.
func mergeTrigger(current *store.Trigger, p store.TriggerPatch) *store.Trigger {
	merged := *current
	for _, f := range p.Clear {
		switch f {
		case store.TriggerFieldWorkflowID:
			merged.WorkflowID = nil
		case store.TriggerFieldWorkerID:
			merged.WorkerID = nil
		case store.TriggerFieldScheduleFrequency:
			merged.ScheduleFrequency = nil
		case store.TriggerFieldCronExpression:
			merged.CronExpression = nil
		case store.TriggerFieldWebhookEndpoint:
			merged.WebhookEndpoint = nil
		case store.TriggerFieldWebhookMethod:
			merged.WebhookMethod = nil
		case store.TriggerFieldWebhookSecret:
			merged.WebhookSecret = nil
		case store.TriggerFieldEventSource:
			merged.EventSource = nil
		case store.TriggerFieldEventName:
			merged.EventName = nil
		case store.TriggerFieldDataSource:
			merged.DataSource = nil
		case store.TriggerFieldDataCondition:
			merged.DataCondition = nil
		case store.TriggerFieldNextRunAt:
			merged.NextRunAt = nil
		}
	}
	if p.Type != nil {
		merged.Type = *p.Type
	}
	if p.TargetType != nil {
		merged.TargetType = *p.TargetType
	}
	if p.IsActive != nil {
		merged.IsActive = *p.IsActive
	}
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = v
		}
	}
	set(&merged.WorkflowID, p.WorkflowID)
	set(&merged.WorkerID, p.WorkerID)
	set(&merged.ScheduleFrequency, p.ScheduleFrequency)
	set(&merged.CronExpression, p.CronExpression)
	set(&merged.WebhookEndpoint, p.WebhookEndpoint)
	set(&merged.WebhookMethod, p.WebhookMethod)
	set(&merged.WebhookSecret, p.WebhookSecret)
	set(&merged.EventSource, p.EventSource)
	set(&merged.EventName, p.EventName)
	set(&merged.DataSource, p.DataSource)
	set(&merged.DataCondition, p.DataCondition)
	return &merged
}
