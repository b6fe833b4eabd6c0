package cancel

import (
	"testing"

	"github.com/scottyj503/chet/internal/testutil"
)

func TestTokenStartsUncancelled(testingHandle *testing.T) {
	token := New()
	testutil.RequireTrue(testingHandle, !token.Cancelled(), "fresh token should not be cancelled")
	testutil.RequireNoError(testingHandle, token.Err(), "fresh token should not error")
}

func TestCancelIsIdempotentAndSticky(testingHandle *testing.T) {
	token := New()
	token.Cancel()
	token.Cancel()
	testutil.RequireTrue(testingHandle, token.Cancelled(), "token should be cancelled")
	testutil.RequireTrue(testingHandle, token.Err() == ErrCancelled, "Err should return ErrCancelled")
}

func TestCancelSharedByReference(testingHandle *testing.T) {
	token := New()
	observe := func(t *Token) bool { return t.Cancelled() }
	token.Cancel()
	testutil.RequireTrue(testingHandle, observe(token), "cancellation should be visible through shared reference")
}
