// Package archive keeps a copy of every report exchanged with a backend.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
)

// Direction of a report relative to the contact.
type Direction string

const (
	Delivered Direction = "delivered" // fetched from the backend and sent to the contact
	Submitted Direction = "submitted" // uploaded by the contact and accepted by the backend
)

// Entry is one archived report in its wire (CP1251) encoding.
type Entry struct {
	Direction  Direction
	TenantKey  string
	OrgCode    string
	IdentityID int64
	Filename   string
	Content    []byte
	At         time.Time
}

// Archive stores exchanged reports.
type Archive interface {
	Store(ctx context.Context, e Entry) error
}

// Key builds the object key for an entry:
// <tenant>/<org>/<yyyy>/<mm>/<direction>/<unix-nanos>-<identity>-<filename>.
func Key(prefix string, e Entry) string {
	at := e.At.UTC()
	name := fmt.Sprintf("%d-%s-%s", at.UnixNano(), strconv.FormatInt(e.IdentityID, 10), sanitize(e.Filename))
	return path.Join(
		prefix,
		sanitize(e.TenantKey),
		sanitize(e.OrgCode),
		at.Format("2006"),
		at.Format("01"),
		string(e.Direction),
		name,
	)
}

// sanitize keeps path separators out of user-controlled key segments.
func sanitize(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Fingerprint identifies report content: base58 of its SHA-256.
func Fingerprint(content []byte) string {
	hash := sha256.Sum256(content)
	return base58.Encode(hash[:])
}

// Checksum is the base64 big-endian CRC64-NVME of content, the form S3
// expects for object integrity checks.
func Checksum(content []byte) string {
	h := crc64nvme.New()
	h.Write(content)

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return base64.StdEncoding.EncodeToString(sum[:])
}
