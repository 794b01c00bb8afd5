package attestation

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// payloadEncodingVersion is bumped on any change to the field set or
// ordering. The version byte leads the encoding so verifiers can reject
// payloads encoded under a different schema.
const payloadEncodingVersion = byte(1)

// encodedPayloadLen is one version byte plus nine big-endian int64 fields.
const encodedPayloadLen = 1 + 9*8

// Encode serializes the payload into its canonical binary form: the
// version byte followed by every field as a big-endian int64 in fixed
// declaration order, the timestamp last as unix seconds. Identical
// payloads always produce identical bytes; this is what gets hashed.
func (p *Payload) Encode() []byte {
	buf := make([]byte, 0, encodedPayloadLen)
	buf = append(buf, payloadEncodingVersion)
	for _, v := range p.fields() {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}
	return buf
}

// DecodePayload reverses Encode. Decoding the bytes used to compute a
// payload hash reproduces the original payload exactly.
func DecodePayload(b []byte) (*Payload, error) {
	if len(b) != encodedPayloadLen {
		return nil, fmt.Errorf("attestation: encoded payload is %d bytes, want %d", len(b), encodedPayloadLen)
	}
	if b[0] != payloadEncodingVersion {
		return nil, fmt.Errorf("attestation: unsupported payload encoding version %d", b[0])
	}

	vals := make([]int64, 9)
	for i := range vals {
		vals[i] = int64(binary.BigEndian.Uint64(b[1+i*8:]))
	}

	p := &Payload{
		CreditScore:         vals[0],
		PaymentHistory:      vals[1],
		CreditUtilization:   vals[2],
		CreditHistoryLength: vals[3],
		AccountsOpen:        vals[4],
		RecentInquiries:     vals[5],
		PublicRecords:       vals[6],
		Delinquencies:       vals[7],
	}
	if vals[8] != 0 {
		p.Timestamp = time.Unix(vals[8], 0).UTC()
	}
	return p, nil
}

// fields returns the payload values in canonical encoding order.
func (p *Payload) fields() [9]int64 {
	var ts int64
	if !p.Timestamp.IsZero() {
		ts = p.Timestamp.Unix()
	}
	return [9]int64{
		p.CreditScore,
		p.PaymentHistory,
		p.CreditUtilization,
		p.CreditHistoryLength,
		p.AccountsOpen,
		p.RecentInquiries,
		p.PublicRecords,
		p.Delinquencies,
		ts,
	}
}

// Hash returns the canonical digest of the payload's binary encoding.
func (p *Payload) Hash() common.Hash {
	return sha256.Sum256(p.Encode())
}
