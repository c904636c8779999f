package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestStageError_WrapsSentinel(t *testing.T) {
	err := NewStageError(StagePrepare, fmt.Errorf("%w: bad opset", ErrModelOptimize))

	if !errors.Is(err, ErrModelOptimize) {
		t.Fatal("errors.Is must see through StageError")
	}
	if StageOf(err) != StagePrepare {
		t.Errorf("expected stage %q, got %q", StagePrepare, StageOf(err))
	}
	if err.Error() != "prepare: model optimize failed: bad opset" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestStageError_Nil(t *testing.T) {
	if NewStageError(StageExecute, nil) != nil {
		t.Error("nil error must stay nil")
	}
	if StageOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no stage")
	}
}
