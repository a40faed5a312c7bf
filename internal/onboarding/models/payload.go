package models

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// PayloadVersion is the schema version written by this code.
//
//	v1: name, submission, secondary consent, retention choice as a label
//	v2: retention in days, side-request fields, last message id
const PayloadVersion = 2

// Payload is the structured content of a conversation. It only ever exists
// in memory in plaintext; at rest it is CBOR inside an EncryptedField.
type Payload struct {
	Version          int
	Name             string
	Submission       string
	SecondaryConsent *bool
	RetentionDays    int

	// Set while a side request is open.
	ResumeStage          Stage
	VerificationCode     string
	VerificationExpires  time.Time
	VerificationAttempts int

	// LastMessageID is the channel identifier of the last applied message.
	LastMessageID string
}

// HasPendingDeletion reports whether a verification code is outstanding.
func (p Payload) HasPendingDeletion() bool {
	return p.VerificationCode != ""
}

// ClearPendingDeletion drops the verification code and its bookkeeping.
func (p *Payload) ClearPendingDeletion() {
	p.VerificationCode = ""
	p.VerificationExpires = time.Time{}
	p.VerificationAttempts = 0
}

// payloadWire is the encoded form. Keys are integers so renaming a Go field
// never changes the bytes; retired keys stay reserved.
type payloadWire struct {
	Version          int    `cbor:"1,keyasint"`
	Name             string `cbor:"2,keyasint,omitempty"`
	Submission       string `cbor:"3,keyasint,omitempty"`
	SecondaryConsent *bool  `cbor:"4,keyasint,omitempty"`
	RetentionLabel   string `cbor:"5,keyasint,omitempty"` // v1 only
	ResumeStage      string `cbor:"6,keyasint,omitempty"`
	Code             string `cbor:"7,keyasint,omitempty"`
	CodeExpiresUnix  int64  `cbor:"8,keyasint,omitempty"`
	CodeAttempts     int    `cbor:"9,keyasint,omitempty"`
	RetentionDays    int    `cbor:"10,keyasint,omitempty"`
	LastMessageID    string `cbor:"11,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

// legacyRetentionDays maps v1 retention labels to days.
var legacyRetentionDays = map[string]int{
	"6m": 180,
	"1y": 365,
	"3y": 1095,
}

// EncodePayload serializes p at the current schema version.
func EncodePayload(p Payload) ([]byte, error) {
	wire := payloadWire{
		Version:          PayloadVersion,
		Name:             p.Name,
		Submission:       p.Submission,
		SecondaryConsent: p.SecondaryConsent,
		ResumeStage:      string(p.ResumeStage),
		Code:             p.VerificationCode,
		CodeAttempts:     p.VerificationAttempts,
		RetentionDays:    p.RetentionDays,
		LastMessageID:    p.LastMessageID,
	}
	if !p.VerificationExpires.IsZero() {
		wire.CodeExpiresUnix = p.VerificationExpires.Unix()
	}
	return encMode.Marshal(wire)
}

// DecodePayload parses any known schema version and migrates it to the
// current one. Payloads written by a newer version are rejected rather than
// silently losing fields.
func DecodePayload(data []byte) (Payload, error) {
	var wire payloadWire
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if wire.Version > PayloadVersion {
		return Payload{}, fmt.Errorf("payload version %d is newer than supported version %d", wire.Version, PayloadVersion)
	}
	if wire.Version < 2 {
		if days, ok := legacyRetentionDays[wire.RetentionLabel]; ok && wire.RetentionDays == 0 {
			wire.RetentionDays = days
		}
		wire.RetentionLabel = ""
	}

	p := Payload{
		Version:              PayloadVersion,
		Name:                 wire.Name,
		Submission:           wire.Submission,
		SecondaryConsent:     wire.SecondaryConsent,
		RetentionDays:        wire.RetentionDays,
		ResumeStage:          Stage(wire.ResumeStage),
		VerificationCode:     wire.Code,
		VerificationAttempts: wire.CodeAttempts,
		LastMessageID:        wire.LastMessageID,
	}
	if wire.CodeExpiresUnix != 0 {
		p.VerificationExpires = time.Unix(wire.CodeExpiresUnix, 0).UTC()
	}
	return p, nil
}
