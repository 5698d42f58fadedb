package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"beacon/pkg/models"
)

// Evaluator compiles and evaluates routing rule expressions against
// notification events. Expressions see the event's identity fields and its
// opaque payload data map.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("recipient_id", cel.StringType),
		cel.Variable("source_id", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("created_at", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateRuleExpression checks that an expression compiles and returns bool.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileRule compiles a bool-typed rule expression into a reusable program.
func (e *Evaluator) CompileRule(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return e.env.Program(ast)
}

// EvaluateRule runs a compiled rule program against an event.
func (e *Evaluator) EvaluateRule(ctx context.Context, program cel.Program, event models.NotificationEvent) (bool, error) {
	result, _, err := program.ContextEval(ctx, eventVars(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Evaluate compiles and runs an expression in one shot. Routing keeps compiled
// programs cached; this path exists for validation endpoints and tests.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, event models.NotificationEvent) (bool, error) {
	program, err := e.CompileRule(expression)
	if err != nil {
		return false, err
	}
	return e.EvaluateRule(ctx, program, event)
}

func eventVars(event models.NotificationEvent) map[string]interface{} {
	payload := make(map[string]interface{}, len(event.Payload.Data)+2)
	for k, v := range event.Payload.Data {
		payload[k] = v
	}
	payload["title"] = event.Payload.Title
	payload["body"] = event.Payload.Body

	return map[string]interface{}{
		"event_type":   event.EventType,
		"entity_id":    event.EntityID,
		"recipient_id": event.RecipientID,
		"source_id":    event.SourceID,
		"priority":     string(event.Priority),
		"created_at":   event.CreatedAt,
		"payload":      payload,
	}
}
