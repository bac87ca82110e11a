package rules

import (
	"strings"
	"testing"
)

func TestEvalBool_Pass(t *testing.T) {
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ok, err := ev.EvalBool(`target.count >= params.min`,
		map[string]any{"count": 5},
		map[string]any{"min": 3},
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected rule to pass")
	}
}

func TestEvalBool_Fail(t *testing.T) {
	ev, _ := NewEvaluator()

	ok, err := ev.EvalBool(`target.count >= params.min`,
		map[string]any{"count": 1},
		map[string]any{"min": 3},
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected rule to fail")
	}
}

func TestEvalBool_CompileError(t *testing.T) {
	ev, _ := NewEvaluator()

	_, err := ev.EvalBool(`target.count >=`, map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !strings.Contains(err.Error(), "compile") {
		t.Fatalf("expected compile error, got %v", err)
	}
}

func TestEvalBool_EvalErrorOnMissingField(t *testing.T) {
	ev, _ := NewEvaluator()

	// Accessing a field absent from the target must surface as an error so
	// callers can treat the rule as violated, never as passed.
	_, err := ev.EvalBool(`target.missing == "x"`, map[string]any{"present": 1}, nil)
	if err == nil {
		t.Fatal("expected eval error for missing field")
	}
}

func TestEvalBool_NonBoolResult(t *testing.T) {
	ev, _ := NewEvaluator()

	_, err := ev.EvalBool(`target.count + 1`, map[string]any{"count": 1}, nil)
	if err == nil {
		t.Fatal("expected error for non-bool result")
	}
}

func TestEvalBool_CachesPrograms(t *testing.T) {
	ev, _ := NewEvaluator()

	const rule = `target.n > 0`
	if _, err := ev.EvalBool(rule, map[string]any{"n": 1}, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(ev.cache) != 1 {
		t.Fatalf("expected 1 cached program, got %d", len(ev.cache))
	}
	if _, err := ev.EvalBool(rule, map[string]any{"n": 2}, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(ev.cache) != 1 {
		t.Fatalf("expected cache reuse, got %d entries", len(ev.cache))
	}
}
