package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func topicField(topic string) [50]byte {
	var out [50]byte
	copy(out[:], topic)
	return out
}

func TestDecodePublicationInt(t *testing.T) {
	var buf bytes.Buffer
	topic := topicField("temperature")
	buf.Write(topic[:])
	buf.WriteByte(byte(KindInt))
	buf.WriteByte(1) // negative sign
	var mag [4]byte
	binary.BigEndian.PutUint32(mag[:], 42)
	buf.Write(mag[:])

	pub, err := DecodePublication(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePublication: %v", err)
	}
	if pub.Topic != "temperature" || pub.Kind != KindInt || pub.IntValue != -42 {
		t.Fatalf("got %+v", pub)
	}
	if pub.FormatValue() != "-42" {
		t.Fatalf("FormatValue() = %q", pub.FormatValue())
	}
}

func TestDecodePublicationShortReal(t *testing.T) {
	var buf bytes.Buffer
	topic := topicField("humidity")
	buf.Write(topic[:])
	buf.WriteByte(byte(KindShortReal))
	var raw [2]byte
	binary.BigEndian.PutUint16(raw[:], 12345) // -> 123.45
	buf.Write(raw[:])

	pub, err := DecodePublication(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePublication: %v", err)
	}
	if pub.FormatValue() != "123.45" {
		t.Fatalf("FormatValue() = %q", pub.FormatValue())
	}
}

func TestDecodePublicationFloatZeroExponent(t *testing.T) {
	var buf bytes.Buffer
	topic := topicField("pressure")
	buf.Write(topic[:])
	buf.WriteByte(byte(KindFloat))
	buf.WriteByte(0) // positive
	var mag [4]byte
	binary.BigEndian.PutUint32(mag[:], 7)
	buf.Write(mag[:])
	buf.WriteByte(0) // exponent 0: value stays an integer magnitude

	pub, err := DecodePublication(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePublication: %v", err)
	}
	if pub.FloatValue != 7.0 {
		t.Fatalf("FloatValue = %v, want 7.0", pub.FloatValue)
	}
}

func TestDecodePublicationString(t *testing.T) {
	var buf bytes.Buffer
	topic := topicField("status")
	buf.Write(topic[:])
	buf.WriteByte(byte(KindString))
	payload := make([]byte, 1500)
	copy(payload, "all systems nominal")
	buf.Write(payload)

	pub, err := DecodePublication(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePublication: %v", err)
	}
	if pub.StringVal != "all systems nominal" {
		t.Fatalf("StringVal = %q", pub.StringVal)
	}
}

func TestDecodePublicationUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	topic := topicField("x")
	buf.Write(topic[:])
	buf.WriteByte(9)

	if _, err := DecodePublication(buf.Bytes()); err != ErrUnknownKind {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDecodePublicationTooShort(t *testing.T) {
	if _, err := DecodePublication([]byte("short")); err == nil {
		t.Fatal("expected error for undersized datagram")
	}
}

func TestFormatOutbound(t *testing.T) {
	pub := Publication{Topic: "temperature", Kind: KindInt, IntValue: -5}
	got := FormatOutbound("10.0.0.1:9999", pub)
	want := "10.0.0.1:9999 - temperature - INT - -5"
	if got != want {
		t.Fatalf("FormatOutbound() = %q, want %q", got, want)
	}
}

func TestDecodeControlSubscribe(t *testing.T) {
	payload := []byte("subscribe\x00temperature\x00\x01")
	cf, err := DecodeControl(payload)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if cf.Command != CmdSubscribe || cf.Topic != "temperature" || !cf.SF {
		t.Fatalf("got %+v", cf)
	}
}

func TestDecodeControlSubscribeSFDisabled(t *testing.T) {
	payload := []byte("subscribe\x00temperature\x00\x00")
	cf, err := DecodeControl(payload)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if cf.SF {
		t.Fatal("expected SF disabled")
	}
}

func TestDecodeControlUnsubscribe(t *testing.T) {
	payload := []byte("unsubscribe\x00temperature\x00")
	cf, err := DecodeControl(payload)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if cf.Command != CmdUnsubscribe || cf.Topic != "temperature" {
		t.Fatalf("got %+v", cf)
	}
}

func TestDecodeControlMalformed(t *testing.T) {
	if _, err := DecodeControl([]byte("no-nul-terminators")); err != ErrMalformedControl {
		t.Fatalf("err = %v, want ErrMalformedControl", err)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	encoded := EncodeIdentity("client42")
	if got := DecodeIdentity(encoded); got != "client42" {
		t.Fatalf("DecodeIdentity() = %q, want %q", got, "client42")
	}
}
