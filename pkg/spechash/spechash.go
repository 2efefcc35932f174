package spechash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Inputs identifies a workload. Two instances with identical inputs are
// interchangeable; any difference forces replacement.
type Inputs struct {
	ReleaseID        string
	ProcessType      string
	SecretsVersionID string            // empty means no secrets
	VolumeMounts     map[string]string // volume id -> mount path
}

// Compute returns the deterministic 16-hex-char spec hash. The digest is
// SHA-256 over canonical JSON (sorted keys) of
// releaseID|processType|secretsVersionOr("none")|volumeMountDigestOr("none"),
// truncated to 8 bytes.
func Compute(in Inputs) string {
	secrets := in.SecretsVersionID
	if secrets == "" {
		secrets = "none"
	}

	canon := struct {
		ReleaseID   string `json:"releaseId"`
		ProcessType string `json:"processType"`
		Secrets     string `json:"secrets"`
		Volumes     string `json:"volumes"`
	}{
		ReleaseID:   in.ReleaseID,
		ProcessType: in.ProcessType,
		Secrets:     secrets,
		Volumes:     volumeMountDigest(in.VolumeMounts),
	}

	// encoding/json marshals struct fields in declaration order, which is
	// stable; map content is canonicalized before it gets here.
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// volumeMountDigest folds the mount set into a single stable token
func volumeMountDigest(mounts map[string]string) string {
	if len(mounts) == 0 {
		return "none"
	}

	keys := make([]string, 0, len(mounts))
	for k := range mounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(mounts[k])
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
