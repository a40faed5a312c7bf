package testutil

import "testing"

// Given, When and Then run fn as a named subtest so a scenario reads top to
// bottom in `go test -v` output. Later steps still run when an earlier one
// fails; use require inside a step to stop that step only.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("when "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("then "+desc, fn)
}
