package kms

import (
	"context"
	"sharebin/metrics"
	"sharebin/svc/util"

	"github.com/pkg/errors"
)

// Envelope seals blob contents under a fresh data key per paste. The data
// key is wrapped by the KMS and bound to the slug through the encryption
// context, so a wrapped key copied onto another record will not open.
type Envelope struct {
	adapter *Adapter
	keys    *KEKCache
}

func NewEnvelope(adapter *Adapter, keys *KEKCache) *Envelope {
	return &Envelope{adapter: adapter, keys: keys}
}
func slugContext(slug string) EncryptionContext {
	return EncryptionContext{"slug": slug}
}

// Seal returns the ciphertext and the wrapped data key to store next to it.
func (e *Envelope) Seal(ctx context.Context, plaintext []byte, slug string) ([]byte, []byte, error) {
	dek, err := GenerateDEK()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate dek")
	}
	defer util.Wipe(dek)
	ct, err := AEADSeal(plaintext, dek, []byte(slug))
	if err != nil {
		return nil, nil, errors.Wrap(err, "seal blob")
	}
	wrapped, err := e.adapter.EncryptWithContext(ctx, dek, slugContext(slug))
	if err != nil {
		return nil, nil, errors.Wrap(err, "wrap dek")
	}
	metrics.EncryptionOps.WithLabelValues("seal").Inc()
	return ct, wrapped, nil
}
func (e *Envelope) Open(ctx context.Context, ciphertext, wrapped []byte, slug string) ([]byte, error) {
	var (
		dek []byte
		err error
	)
	if e.keys != nil {
		dek, err = e.keys.DecryptDEK(ctx, wrapped, slugContext(slug))
	} else {
		dek, err = e.adapter.DecryptWithContext(ctx, wrapped, slugContext(slug))
	}
	if err != nil {
		return nil, errors.Wrap(err, "unwrap dek")
	}
	defer util.Wipe(dek)
	plaintext, err := AEADOpen(ciphertext, dek, []byte(slug))
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionFailed, err.Error())
	}
	metrics.EncryptionOps.WithLabelValues("open").Inc()
	return plaintext, nil
}
func (e *Envelope) Stop() {
	if e.keys != nil {
		e.keys.Stop()
	}
}
