package handlers

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak across the package tests. The
// handlers drive real conversion sessions, which detach from the request
// context and must be joined through the manager.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)
}
