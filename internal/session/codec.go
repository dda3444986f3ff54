package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/waymark-app/waymark/internal/util"
)

// errInvalidRecord covers every decode failure. Callers treat it exactly
// like a missing record, so a forged or truncated file is indistinguishable
// from no file at all.
var errInvalidRecord = errors.New("invalid session record")

var recordEncoding = base64.RawURLEncoding

// encodeRecord serializes a record as base64url(json) "." base64url(tag),
// with the tag an HMAC-SHA256 over the JSON under the signing key.
func encodeRecord(key []byte, rec *Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling session record: %w", err)
	}
	tag := util.Sign(key, payload)

	out := make([]byte, 0, recordEncoding.EncodedLen(len(payload))+1+recordEncoding.EncodedLen(len(tag)))
	out = recordEncoding.AppendEncode(out, payload)
	out = append(out, '.')
	out = recordEncoding.AppendEncode(out, tag)
	return out, nil
}

func decodeRecord(key, data []byte) (*Record, error) {
	dot := bytes.IndexByte(data, '.')
	if dot < 0 {
		return nil, errInvalidRecord
	}
	payload, err := recordEncoding.AppendDecode(nil, data[:dot])
	if err != nil {
		return nil, errInvalidRecord
	}
	tag, err := recordEncoding.AppendDecode(nil, data[dot+1:])
	if err != nil {
		return nil, errInvalidRecord
	}
	if !util.VerifySignature(key, payload, tag) {
		return nil, errInvalidRecord
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errInvalidRecord
	}
	return &rec, nil
}
