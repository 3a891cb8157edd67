package encryption

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often a RefreshableAEAD reloads its keyset.
const DefaultRefreshInterval = 15 * time.Minute

// Loader loads an AEAD from external key material.
type Loader func(ctx context.Context) (tink.AEAD, error)

// KMSLoader loads the keyset from Secrets Manager, unwrapping it with KMS.
func KMSLoader(keysetURI, kmsEnvelopeKeyURI string, opts ...AWSOption) Loader {
	return func(ctx context.Context) (tink.AEAD, error) {
		return NewAEADFromKMS(ctx, keysetURI, kmsEnvelopeKeyURI, opts...)
	}
}

// FileLoader loads a cleartext keyset file.
func FileLoader(path string) Loader {
	return func(context.Context) (tink.AEAD, error) {
		return NewAEADFromFile(path)
	}
}

// RefreshableAEAD wraps a tink.AEAD and reloads its keyset on an interval, so
// keys can be rotated without restarting the client. Refresh failures are
// logged and the existing keyset stays in use.
type RefreshableAEAD struct {
	mu     sync.RWMutex
	aead   tink.AEAD
	loader Loader
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewRefreshableAEAD loads the initial keyset synchronously; if that fails
// the error is returned and no goroutine is started. Call Close to stop the
// refresh goroutine.
func NewRefreshableAEAD(ctx context.Context, loader Loader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	r := &RefreshableAEAD{
		aead:   initial,
		loader: loader,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go r.refreshLoop(context.WithoutCancel(ctx), interval)

	return r, nil
}

// Encrypt delegates to the current AEAD under a read lock.
func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Encrypt(plaintext, associatedData)
}

// Decrypt delegates to the current AEAD under a read lock.
func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Decrypt(ciphertext, associatedData)
}

// Close stops the refresh goroutine and waits for it to exit. It is safe to
// call more than once.
func (r *RefreshableAEAD) Close() error {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
	return nil
}

func (r *RefreshableAEAD) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RefreshableAEAD) refresh(ctx context.Context) {
	log.Debug().Msg("refreshing storage encryption keyset")

	next, err := r.loader(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("failed to refresh storage encryption keyset, continuing with current keyset")
		return
	}

	r.mu.Lock()
	r.aead = next
	r.mu.Unlock()

	log.Debug().Msg("storage encryption keyset refreshed")
}
