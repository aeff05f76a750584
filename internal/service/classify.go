package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"botmaster/internal/store"

	"github.com/lib/pq"
)

// GenericErrorMessage is returned for every failure that is not classified.
const GenericErrorMessage = "An unexpected error occurred"

// Kind is the category of a failed operation.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindNotFound
	KindConflict
	KindUnauthorized
	KindFatal
)

// Outcome is a classified failure ready to be put into an envelope.
type Outcome struct {
	Kind    Kind
	Status  int
	Message string
}

// RuleError is a validation or business-rule failure. Its message is shown
// to the caller as is.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string { return e.Message }

func ruleErrorf(format string, args ...any) error {
	return &RuleError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidSecret rejects a call that did not present the secret stored on
// the resource it targets.
var ErrInvalidSecret = errors.New("Invalid webhook secret")

// ConstraintTable maps storage constraint names to caller-facing messages.
type ConstraintTable map[string]string

// translator turns errors from one entity's operations into outcomes.
type translator struct {
	log         *slog.Logger
	constraints ConstraintTable
	notFound    string
}

func newTranslator(log *slog.Logger, constraints ConstraintTable, notFound string) translator {
	return translator{log: log, constraints: constraints, notFound: notFound}
}

// withNotFound returns a copy reporting msg for missing resources.
func (t translator) withNotFound(msg string) translator {
	t.notFound = msg
	return t
}

// classify maps err to an outcome. Constraint violations are only translated
// when the constraint is known; anything else is fatal.
func (t translator) classify(ctx context.Context, op string, err error) Outcome {
	t.log.DebugContext(ctx, "classifying error", "op", op, "error", err)

	var rule *RuleError
	if errors.As(err, &rule) {
		return t.client(ctx, op, KindBadRequest, http.StatusBadRequest, rule.Message)
	}

	if errors.Is(err, store.ErrNotFound) {
		return t.client(ctx, op, KindNotFound, http.StatusNotFound, t.notFound)
	}

	if errors.Is(err, ErrInvalidSecret) {
		return t.client(ctx, op, KindUnauthorized, http.StatusUnauthorized, err.Error())
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			if msg, ok := t.constraints[pqErr.Constraint]; ok {
				return t.client(ctx, op, KindConflict, http.StatusConflict, msg)
			}
		case "foreign_key_violation":
			if msg, ok := t.constraints[pqErr.Constraint]; ok {
				return t.client(ctx, op, KindBadRequest, http.StatusBadRequest, msg)
			}
		}
		t.log.ErrorContext(ctx, "unhandled database error",
			"op", op,
			"code", string(pqErr.Code),
			"constraint", pqErr.Constraint,
			"table", pqErr.Table,
			"message", pqErr.Message,
		)
		return fatal()
	}

	t.log.ErrorContext(ctx, "operation failed", "op", op, "error", err)
	return fatal()
}

// missing is the outcome for an empty lookup or mutation result.
func (t translator) missing(ctx context.Context, op string) Outcome {
	return t.client(ctx, op, KindNotFound, http.StatusNotFound, t.notFound)
}

func (t translator) client(ctx context.Context, op string, kind Kind, status int, message string) Outcome {
	t.log.WarnContext(ctx, "request rejected", "op", op, "status", status, "message", message)
	return Outcome{Kind: kind, Status: status, Message: message}
}

func fatal() Outcome {
	return Outcome{Kind: KindFatal, Status: http.StatusInternalServerError, Message: GenericErrorMessage}
}

// fail classifies err straight into an envelope.
func fail[T any](ctx context.Context, t translator, op string, err error) Response[T] {
	return failure[T](t.classify(ctx, op, err))
}

// notFound builds the not-found envelope for op.
func notFound[T any](ctx context.Context, t translator, op string) Response[T] {
	return failure[T](t.missing(ctx, op))
}
