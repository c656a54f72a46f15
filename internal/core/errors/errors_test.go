package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodePath, "up directory missing")
		if err.Error() != "[PATH] up directory missing" {
			t.Errorf("expected [PATH] up directory missing, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("relation \"users\" does not exist")
		err := Wrap(original, CodeMigrationExecution, "[1700000000000] commit failed")
		expected := "[MIGRATION_EXECUTION] [1700000000000] commit failed: relation \"users\" does not exist"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
		if !errors.Is(err, original) {
			t.Error("expected wrapped error to unwrap to the original")
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeDrift, "local files are behind the database")
		if !IsCode(err, CodeDrift) {
			t.Error("expected IsCode to return true for CodeDrift")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeThroughLayers", func(t *testing.T) {
		inner := Wrap(errors.New("syntax error"), CodeMigrationExecution, "[100] commit failed")
		outer := Wrap(inner, CodeInternal, "migrate up")
		wrapped := fmt.Errorf("menu action: %w", outer)
		if !IsCode(wrapped, CodeMigrationExecution) {
			t.Error("expected IsCode to find the inner execution code")
		}
		if CodeOf(wrapped) != CodeInternal {
			t.Errorf("expected outermost code INTERNAL_ERROR, got %s", CodeOf(wrapped))
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeFileRead, "read up file"), CtxFileName, int64(100))
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatalf("expected DomainError, got %T", err)
		}
		if de.Context[CtxFileName] != int64(100) {
			t.Errorf("expected file_name context, got %v", de.Context)
		}

		foreign := AddContext(errors.New("boom"), CtxSchema, "local")
		if CodeOf(foreign) != CodeInternal {
			t.Errorf("expected foreign error to become INTERNAL_ERROR, got %s", CodeOf(foreign))
		}
	})
}
