package ledger

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// localPrefix marks ids of positions synthesized without a server counterpart
const localPrefix = "local-"

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newClientID returns a time-sortable id for an open request
func newClientID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now.UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// IsLocalID reports whether id belongs to a locally synthesized position
func IsLocalID(id string) bool {
	return len(id) > len(localPrefix) && id[:len(localPrefix)] == localPrefix
}
