package chat

import (
	"errors"
	"testing"

	errs "RTProject/tools/errs"
)

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"draft","room":"room-a","payload":{"content":"hi"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameDraft || f.Room != "room-a" {
		t.Fatalf("frame=%+v", f)
	}
	if pm := f.PayloadMap(); pm["content"] != "hi" {
		t.Fatalf("payload=%+v", pm)
	}

	if _, err := ParseFrameJSON([]byte(`{"room":"x"}`)); err == nil {
		t.Fatal("missing type must fail")
	}
	if _, err := ParseFrameJSON([]byte(`not-json`)); err == nil {
		t.Fatal("garbage must fail")
	}
}

func TestPayloadMapNonObject(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"heartbeat","payload":[1,2]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.PayloadMap() != nil {
		t.Fatal("non-object payload must map to nil")
	}
}

func TestBuildErrorFrameCarriesCode(t *testing.T) {
	f := BuildErrorFrame("room-a", "draft-1", errs.ErrNotMember.Wrap())
	if f.Type != FrameError {
		t.Fatalf("type=%s", f.Type)
	}
	pm, ok := f.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload=%+v", f.Payload)
	}
	if pm["code"] != errs.CodeNotMember {
		t.Fatalf("code=%v", pm["code"])
	}
	if pm["client_msg_id"] != "draft-1" {
		t.Fatalf("client_msg_id=%v", pm["client_msg_id"])
	}
}

func TestBuildErrorFrameFoldsUnknownErrors(t *testing.T) {
	f := BuildErrorFrame("room-a", "", errors.New("boom"))
	pm := f.Payload.(map[string]any)
	if pm["code"] != errs.CodeSubmitFailed {
		t.Fatalf("code=%v", pm["code"])
	}
	if _, ok := pm["client_msg_id"]; ok {
		t.Fatal("empty draft id must be omitted")
	}
}
