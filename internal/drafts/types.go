package drafts

import (
	"crypto/rand"
	"encoding"
	"fmt"
	"math/big"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// keyPrefix namespaces voice note drafts inside the bucket, matching the key
// scheme drafts were stored under in earlier revisions.
const keyPrefix = "voice-draft-"

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// VoiceNoteDraft is a locally staged recording awaiting successful upload.
// It exists only between recording-stop and upload success or explicit user
// deletion, and is never transmitted to the peer.
type VoiceNoteDraft struct {
	ID         string  `msgpack:"id"`
	Blob       []byte  `msgpack:"blob"`
	Duration   float64 `msgpack:"duration"`
	CreatedAt  int64   `msgpack:"createdAt"`
	RetryCount int     `msgpack:"retryCount"`
	MimeType   string  `msgpack:"mimeType"`
}

func (d *VoiceNoteDraft) Key() []byte {
	return []byte(keyPrefix + d.ID)
}

func (d *VoiceNoteDraft) MarshalBinary() (data []byte, err error) {
	type alias VoiceNoteDraft
	return msgpack.Marshal((*alias)(d))
}

func (d *VoiceNoteDraft) UnmarshalBinary(data []byte) error {
	type alias VoiceNoteDraft
	return msgpack.Unmarshal(data, (*alias)(d))
}

// GenerateID returns a time-plus-random draft id, unique enough for a single
// device's queue.
func GenerateID() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<35))
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), n.Text(36))
}
