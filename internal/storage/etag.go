package storage

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// EncodeEnvelope returns the canonical serialization of env. This is the
// exact byte form stored by every provider and hashed into the ETag.
func EncodeEnvelope(env types.DocumentEnvelope) ([]byte, error) {
	data, err := docjson.Marshal(env)
	if err != nil {
		return nil, types.Internal(types.CodeSerialization, "serialize envelope", err)
	}
	return data, nil
}

// DecodeEnvelope parses a stored envelope. Numbers in content are kept as
// json.Number. Any failure means the stored state is corrupt.
func DecodeEnvelope(data []byte) (types.DocumentEnvelope, error) {
	var env types.DocumentEnvelope
	if err := docjson.Unmarshal(data, &env); err != nil {
		return env, types.Internal(types.CodeCorruptState, "decode stored envelope", err)
	}
	return env, nil
}

// ETag returns the version token of a serialized envelope: the lowercase
// hex BLAKE3-256 digest of data.
func ETag(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes any value through its canonical serialization.
func Fingerprint(v any) (string, error) {
	data, err := docjson.Marshal(v)
	if err != nil {
		return "", err
	}
	return ETag(data), nil
}

// CheckPrecondition compares the expected token of a write with the
// current record (nil when absent). A mismatch carries the current token in
// details.latest_etag so the caller can rebase without another read.
func CheckPrecondition(current *types.DocumentRecord, expected string) error {
	if current == nil {
		if expected != types.AnyETag {
			return types.Precondition(types.CodeETagMismatch, "document does not exist").
				WithDetail("latest_etag", "")
		}
		return nil
	}
	if expected != current.ETag {
		return types.Precondition(types.CodeETagMismatch, "document has changed").
			WithDetail("latest_etag", current.ETag)
	}
	return nil
}
