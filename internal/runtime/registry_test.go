package runtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/models"
)

func TestRegistry_ExecutesHandler(t *testing.T) {
	r := NewRegistry(arbor.NewLogger())
	r.Register("greeter", "Greet", func(ctx context.Context, args []interface{}) (interface{}, error) {
		return fmt.Sprintf("hello %v", args[0]), nil
	})

	job := models.NewJob("greeter", "Greet", "world")
	result := r.Execute(context.Background(), job)

	if result.Err != nil {
		t.Fatalf("Execute failed: %v", result.Err)
	}
	if result.Value != "hello world" {
		t.Errorf("Expected greeting, got %v", result.Value)
	}
	if result.Activity != nil {
		t.Error("Value result must not carry an activity")
	}
}

func TestRegistry_ActivityResultDetected(t *testing.T) {
	r := NewRegistry(arbor.NewLogger())
	r.Register("spawner", "Spawn", func(ctx context.Context, args []interface{}) (interface{}, error) {
		return models.Parallel(
			models.NewActivity("worker", "A"),
			models.NewActivity("worker", "B"),
		), nil
	})

	result := r.Execute(context.Background(), models.NewJob("spawner", "Spawn"))

	if result.Err != nil {
		t.Fatalf("Execute failed: %v", result.Err)
	}
	if result.Activity == nil {
		t.Fatal("Expected an activity result")
	}
	if result.Activity.Kind != models.ActivityKindParallel {
		t.Errorf("Expected parallel graph, got %s", result.Activity.Kind)
	}
}

func TestRegistry_UnknownHandlerErrors(t *testing.T) {
	r := NewRegistry(arbor.NewLogger())

	result := r.Execute(context.Background(), models.NewJob("missing", "Run"))
	if result.Err == nil {
		t.Fatal("Expected an error for an unregistered handler")
	}
}

func TestRegistry_HandlerErrorPropagates(t *testing.T) {
	r := NewRegistry(arbor.NewLogger())
	r.Register("flaky", "Run", func(ctx context.Context, args []interface{}) (interface{}, error) {
		return nil, fmt.Errorf("user code broke")
	})

	result := r.Execute(context.Background(), models.NewJob("flaky", "Run"))
	if result.Err == nil {
		t.Fatal("Expected the handler error to surface")
	}
}
