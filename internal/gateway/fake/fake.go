// Package fake provides in-memory gateway adapters. They back
// GATEWAY_DRIVER=fake and the service tests, and let callers inject
// failures per operation.
package fake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type faults struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

// Fail makes every later call to op return err until Heal is called.
func (f *faults) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[op] = err
}

func (f *faults) Heal(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, op)
}

// Calls reports how many times op was invoked, failed calls included.
func (f *faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faults) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.errs[op]
}

// Sign returns the hex HMAC-SHA256 of body, the signature the fake payment
// gateway expects alongside webhook payloads.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func utcNow() time.Time { return time.Now().UTC() }
