package xmsg_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/ctib-core/Pulley/internal/xmsg"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	id := xmsg.RequestID(sha256.Sum256([]byte("req-1")))
	req := xmsg.RequestData{RequestID: id, Asset: "USDC", Amount: 4_500}

	raw, err := xmsg.Encode(xmsg.MessageTypeVaultDeposit, req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	p, err := xmsg.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Type != xmsg.MessageTypeVaultDeposit {
		t.Errorf("Type = %s, want VaultDeposit", p.Type)
	}

	var got xmsg.RequestData
	if err := p.DecodeData(&got); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if got != req {
		t.Errorf("round trip = %+v, want %+v", got, req)
	}
}

func TestRequestID_TextForm(t *testing.T) {
	id := xmsg.RequestID(sha256.Sum256([]byte("req-2")))

	parsed, err := xmsg.ParseRequestID(id.String())
	if err != nil {
		t.Fatalf("ParseRequestID: %v", err)
	}
	if parsed != id {
		t.Errorf("parsed %s, want %s", parsed, id)
	}

	if _, err := xmsg.ParseRequestID("zz"); err == nil {
		t.Error("malformed hex should fail")
	}
	if _, err := xmsg.ParseRequestID("abcd"); err == nil {
		t.Error("short id should fail")
	}
	if id.IsZero() {
		t.Error("hashed id should not be zero")
	}
	if !(xmsg.RequestID{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
}

func TestLoopback(t *testing.T) {
	lb := xmsg.NewLoopback()

	if err := lb.Send(context.Background(), "remote-venue", []byte(`{"type":1}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := lb.Sent()
	if len(sent) != 1 || sent[0].Destination != "remote-venue" {
		t.Fatalf("Sent() = %+v", sent)
	}

	var gotOrigin string
	lb.SetHandler(func(origin string, payload []byte) {
		gotOrigin = origin
	})
	lb.Deliver("remote-venue", []byte(`{}`))
	if gotOrigin != "remote-venue" {
		t.Errorf("handler origin = %q", gotOrigin)
	}
}
