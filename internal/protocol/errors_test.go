package protocol

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: CollisionUpdate, Op: "domain.handleMessages", Err: cause}

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not find wrapped cause")
	}
	if !IsKind(err, CollisionUpdate) {
		t.Errorf("IsKind(CollisionUpdate) = false, want true")
	}
	if IsKind(err, BadDomain) {
		t.Errorf("IsKind(BadDomain) = true, want false")
	}
}

func TestIsKindNonProtocolError(t *testing.T) {
	if IsKind(errors.New("plain"), BadDomain) {
		t.Errorf("IsKind on a non-*Error should be false")
	}
}

func TestKindString(t *testing.T) {
	if UnknownClient.String() != "unknown_client" {
		t.Errorf("UnknownClient.String() = %q", UnknownClient.String())
	}
	if Kind(999).String() != "unknown" {
		t.Errorf("unrecognized Kind should stringify to \"unknown\"")
	}
}
