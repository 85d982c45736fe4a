package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind identifies the variant of a publication's payload.
type Kind uint8

const (
	KindInt       Kind = 0
	KindShortReal Kind = 1
	KindFloat     Kind = 2
	KindString    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindShortReal:
		return "SHORT_REAL"
	case KindFloat:
		return "FLOAT"
	case KindString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

const (
	topicFieldLen  = 50
	maxStringLen   = 1500
	datagramMinLen = topicFieldLen + 1 // topic + kind byte
)

// ErrUnknownKind is returned when the datagram's kind byte is not one of
// the four recognized values.
var ErrUnknownKind = errors.New("wire: unknown publication kind")

// Publication is the decoded form of one publisher datagram.
type Publication struct {
	Topic string
	Kind  Kind

	IntValue   int32
	ShortReal  float64
	FloatValue float64
	StringVal  string
}

// DecodePublication parses a datagram buffer per the fixed-header layout:
// 50-byte NUL-padded topic, 1-byte kind, then a kind-dependent payload. On
// failure it returns the zero Publication and an error.
func DecodePublication(buf []byte) (Publication, error) {
	if len(buf) < datagramMinLen {
		return Publication{}, fmt.Errorf("wire: datagram too short (%d bytes)", len(buf))
	}

	topic := string(bytes.TrimRight(buf[:topicFieldLen], "\x00"))
	kind := Kind(buf[topicFieldLen])
	payload := buf[topicFieldLen+1:]

	pub := Publication{Topic: topic, Kind: kind}

	switch kind {
	case KindInt:
		if len(payload) < 5 {
			return Publication{}, fmt.Errorf("wire: truncated INT payload")
		}
		sign := payload[0]
		magnitude := int32(binary.BigEndian.Uint32(payload[1:5]))
		if sign != 0 {
			magnitude = -magnitude
		}
		pub.IntValue = magnitude

	case KindShortReal:
		if len(payload) < 2 {
			return Publication{}, fmt.Errorf("wire: truncated SHORT_REAL payload")
		}
		raw := binary.BigEndian.Uint16(payload[0:2])
		pub.ShortReal = float64(raw) / 100.0

	case KindFloat:
		if len(payload) < 6 {
			return Publication{}, fmt.Errorf("wire: truncated FLOAT payload")
		}
		sign := payload[0]
		magnitude := binary.BigEndian.Uint32(payload[1:5])
		exp := payload[5]
		value := float64(magnitude) / math.Pow(10, float64(exp))
		if sign != 0 {
			value = -value
		}
		pub.FloatValue = value

	case KindString:
		n := len(payload)
		if n > maxStringLen {
			n = maxStringLen
		}
		pub.StringVal = string(bytes.TrimRight(payload[:n], "\x00"))

	default:
		return Publication{}, ErrUnknownKind
	}

	return pub, nil
}

// FormatValue renders a publication's value the way the broker writes it
// into an outbound frame: "%d" for INT, "%.2f" for SHORT_REAL, "%f" for
// FLOAT, the raw string for STRING.
func (p Publication) FormatValue() string {
	switch p.Kind {
	case KindInt:
		return fmt.Sprintf("%d", p.IntValue)
	case KindShortReal:
		return fmt.Sprintf("%.2f", p.ShortReal)
	case KindFloat:
		return fmt.Sprintf("%f", p.FloatValue)
	case KindString:
		return p.StringVal
	default:
		return ""
	}
}

// FormatOutbound renders the human-readable publication frame payload:
// "<ip>:<port> - <topic> - <TYPE> - <value>".
func FormatOutbound(sourceAddr string, p Publication) string {
	return fmt.Sprintf("%s - %s - %s - %s", sourceAddr, p.Topic, p.Kind, p.FormatValue())
}

// Control command tokens recognized in a subscriber's control frame.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// ControlFrame is a decoded subscriber->broker control message.
type ControlFrame struct {
	Command string
	Topic   string
	SF      bool
}

// ErrMalformedControl is returned when a control frame's NUL-delimited
// fields cannot be parsed.
var ErrMalformedControl = errors.New("wire: malformed control frame")

// DecodeControl parses a control frame payload: NUL-terminated command,
// NUL-terminated topic, then (for subscribe) one SF byte at offset
// len(payload)-1.
func DecodeControl(payload []byte) (ControlFrame, error) {
	cmdEnd := bytes.IndexByte(payload, 0)
	if cmdEnd < 0 {
		return ControlFrame{}, ErrMalformedControl
	}
	rest := payload[cmdEnd+1:]

	topicEnd := bytes.IndexByte(rest, 0)
	if topicEnd < 0 {
		return ControlFrame{}, ErrMalformedControl
	}

	cf := ControlFrame{
		Command: string(payload[:cmdEnd]),
		Topic:   string(rest[:topicEnd]),
	}

	if cf.Command == CmdSubscribe && len(payload) > 0 {
		cf.SF = payload[len(payload)-1] != 0
	}

	return cf, nil
}

// EncodeIdentity builds the payload a subscriber sends as its first frame:
// a NUL-terminated identity token.
func EncodeIdentity(id string) []byte {
	out := make([]byte, len(id)+1)
	copy(out, id)
	return out
}

// DecodeIdentity extracts the NUL-terminated identity from a frame payload.
func DecodeIdentity(payload []byte) string {
	end := bytes.IndexByte(payload, 0)
	if end < 0 {
		end = len(payload)
	}
	return string(payload[:end])
}
