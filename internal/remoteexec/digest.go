package remoteexec

import (
	"crypto/sha256"
	"encoding/hex"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"
)

// digestOf computes the REv2 Digest of raw bytes: SHA-256 hex plus byte
// size, per spec.md §4.9's "Digest" section.
func digestOf(data []byte) *repb.Digest {
	sum := sha256.Sum256(data)
	return &repb.Digest{Hash: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}
}

// messageDigest marshals msg and returns both its digest and the
// marshaled bytes, since callers need the bytes for BatchUpdateBlobs.
func messageDigest(msg proto.Message) (*repb.Digest, []byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}
	return digestOf(data), data, nil
}
