package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultMaxKeyLength    = 255
	DefaultLockTimeout     = 5 * time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultMaxResponseSize = 1 << 20
)

var (
	ErrKeyInvalid = errors.New("idempotency key may only contain letters, digits, '-' and '_'")
	ErrKeyTooLong = errors.New("idempotency key is too long")
	ErrNotFound   = errors.New("idempotency key not found")
)

// Key is a stored Idempotency-Key together with the response it produced.
// Keys are scoped per service and per user.
type Key struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	Key                string             `bson:"key"`
	UserID             string             `bson:"userId,omitempty"`
	ServiceID          string             `bson:"serviceId"`
	RequestPath        string             `bson:"requestPath"`
	RequestMethod      string             `bson:"requestMethod"`
	RequestFingerprint string             `bson:"requestFingerprint"`

	LockedAt *time.Time `bson:"lockedAt,omitempty"`

	ResponseCode    int               `bson:"responseCode,omitempty"`
	ResponseBody    []byte            `bson:"responseBody,omitempty"`
	ResponseHeaders map[string]string `bson:"responseHeaders,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	ExpiresAt   time.Time  `bson:"expiresAt"`
}

func (k *Key) IsCompleted() bool {
	return k.CompletedAt != nil
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateKey checks the key alphabet and length.
func ValidateKey(key string, maxLength int) error {
	if len(key) > maxLength {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}
	return nil
}

// Fingerprint is the hex SHA-256 of the request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
