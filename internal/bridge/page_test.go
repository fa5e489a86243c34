package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

type ctxKey struct{}

func TestDeriveContextCarriesTabValues(t *testing.T) {
	tabCtx := context.WithValue(context.Background(), ctxKey{}, "session")
	callerCtx, callerCancel := context.WithTimeout(context.Background(), time.Minute)
	defer callerCancel()

	runCtx, cancel := deriveContext(tabCtx, callerCtx)
	defer cancel()

	if v := runCtx.Value(ctxKey{}); v != "session" {
		t.Fatalf("derived context lost tab values, got %v", v)
	}
	if runCtx.Err() != nil {
		t.Fatalf("derived context ended early: %v", runCtx.Err())
	}
}

func TestDeriveContextEndsWithCaller(t *testing.T) {
	tabCtx := context.Background()
	callerCtx, callerCancel := context.WithCancel(context.Background())

	runCtx, cancel := deriveContext(tabCtx, callerCtx)
	defer cancel()

	callerCancel()
	select {
	case <-runCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("derived context did not end with the caller's")
	}
	if !errors.Is(runCtx.Err(), context.Canceled) {
		t.Fatalf("err = %v", runCtx.Err())
	}

	// The tab context itself stays alive for the next action.
	if tabCtx.Err() != nil {
		t.Fatalf("tab context ended: %v", tabCtx.Err())
	}
}

func TestDeriveContextCancelDoesNotTouchTab(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()

	runCtx, cancel := deriveContext(tabCtx, context.Background())
	cancel()

	if runCtx.Err() == nil {
		t.Fatal("cancel should end the derived context")
	}
	if tabCtx.Err() != nil {
		t.Fatalf("cancel leaked into the tab context: %v", tabCtx.Err())
	}
}
