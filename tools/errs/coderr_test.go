package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsThroughStack(t *testing.T) {
	err := ErrNotMember.WrapMsg("room", "room", "room-a")
	ce := CodeOf(err)
	if ce.Code != CodeNotMember {
		t.Fatalf("code=%d", ce.Code)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped).Code != CodeNotMember {
		t.Fatal("CodeOf must unwrap nested errors")
	}
}

func TestCodeOfFoldsUnknownErrors(t *testing.T) {
	ce := CodeOf(errors.New("boom"))
	if ce.Code != CodeSubmitFailed {
		t.Fatalf("code=%d", ce.Code)
	}
	if ce.Detail == "" {
		t.Fatal("original error must survive in detail")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := ErrSeqUnavailable.WrapMsg("redis timeout")
	if !errors.Is(err, ErrSeqUnavailable) {
		t.Fatal("Is must match by code")
	}
	if errors.Is(err, ErrNotMember) {
		t.Fatal("Is must not match a different code")
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrBadPayload.WithDetail("field missing")
	if ErrBadPayload.Detail != "" {
		t.Fatal("sentinel must stay clean")
	}
}
