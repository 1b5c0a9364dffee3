package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"ledgerflow/contracts/canonicaljson"
)

// RequestFingerprint hashes METHOD|path|canonical(body). Bodies that are not
// JSON are hashed as raw bytes so they still fingerprint deterministically.
func RequestFingerprint(method string, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(strings.ToUpper(method)))
	sum.Write([]byte("|"))
	sum.Write([]byte(path))
	sum.Write([]byte("|"))
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		if json.Valid([]byte(trimmed)) {
			if canonical, err := canonicaljson.MarshalRaw([]byte(trimmed)); err == nil {
				sum.Write(canonical)
				return hex.EncodeToString(sum.Sum(nil))
			}
		}
		sum.Write(body)
	}
	return hex.EncodeToString(sum.Sum(nil))
}
