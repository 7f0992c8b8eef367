package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"sort"
	"strings"
)

// RequestFingerprint identifies a request body for key reuse checks.
// Multipart bodies are reduced to their parts, so a retry that picks a new
// boundary still matches the original request.
func RequestFingerprint(contentType string, body []byte) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return Fingerprint(body)
	}
	fp, err := multipartFingerprint(body, params["boundary"])
	if err != nil {
		return Fingerprint(body)
	}
	return fp
}

func multipartFingerprint(body []byte, boundary string) (string, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)

	var parts []string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(content)
		parts = append(parts, part.FormName()+"\x00"+part.FileName()+"\x00"+hex.EncodeToString(sum[:]))
	}
	sort.Strings(parts)

	return Fingerprint([]byte(strings.Join(parts, "\n"))), nil
}
