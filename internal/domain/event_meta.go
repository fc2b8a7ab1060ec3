package domain

import (
	"encoding/json"
	"fmt"
)

// EventMeta is the per-kind payload of an Event. Each kind has exactly one
// concrete metadata type.
type EventMeta interface {
	EventKind() EventKind
}

type CreatedMeta struct {
	ActorEmail string `json:"actor_email,omitempty"`
}

type SentMeta struct {
	Recipient  string `json:"recipient"`
	ActorEmail string `json:"actor_email,omitempty"`
}

type SendFailedMeta struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type OpenedMeta struct {
	ViewerIP  string `json:"viewer_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type SignedMeta struct {
	SignerName   string `json:"signer_name"`
	SignerEmail  string `json:"signer_email,omitempty"`
	SignatureRef string `json:"signature_ref,omitempty"`
}

type DeclinedMeta struct {
	Reason     string `json:"reason,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
}

func (CreatedMeta) EventKind() EventKind    { return EventCreated }
func (SentMeta) EventKind() EventKind       { return EventSent }
func (SendFailedMeta) EventKind() EventKind { return EventSendFailed }
func (OpenedMeta) EventKind() EventKind     { return EventOpened }
func (SignedMeta) EventKind() EventKind     { return EventSigned }
func (DeclinedMeta) EventKind() EventKind   { return EventDeclined }

func emptyMeta(kind EventKind) (EventMeta, error) {
	switch kind {
	case EventCreated:
		return CreatedMeta{}, nil
	case EventSent:
		return SentMeta{}, nil
	case EventSendFailed:
		return SendFailedMeta{}, nil
	case EventOpened:
		return OpenedMeta{}, nil
	case EventSigned:
		return SignedMeta{}, nil
	case EventDeclined:
		return DeclinedMeta{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidEventKind, kind)
}

// NormalizeMeta checks that meta belongs to kind. A nil meta becomes the empty
// value for the kind.
func NormalizeMeta(kind EventKind, meta EventMeta) (EventMeta, error) {
	if meta == nil {
		return emptyMeta(kind)
	}
	if meta.EventKind() != kind {
		return nil, fmt.Errorf("%w: %s metadata on %s event", ErrMetaMismatch, meta.EventKind(), kind)
	}
	return meta, nil
}

func EncodeEventMeta(kind EventKind, meta EventMeta) ([]byte, error) {
	meta, err := NormalizeMeta(kind, meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(meta)
}

// DecodeEventMeta decodes raw JSON into the metadata type owned by kind.
// Empty input yields the empty value.
func DecodeEventMeta(kind EventKind, raw []byte) (EventMeta, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyMeta(kind)
	}

	var err error
	switch kind {
	case EventCreated:
		var m CreatedMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	case EventSent:
		var m SentMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	case EventSendFailed:
		var m SendFailedMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	case EventOpened:
		var m OpenedMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	case EventSigned:
		var m SignedMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	case EventDeclined:
		var m DeclinedMeta
		err = json.Unmarshal(raw, &m)
		return m, err
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidEventKind, kind)
}
