// Package auth hashes and verifies paste passwords with Argon2id on a
// bounded worker pool.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"sharebin/pkg/domain"
	"sharebin/svc/util"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	defaultMinVerifyTime  = 350 * time.Millisecond
	defaultQueueSize      = 4096
	defaultRequestTimeout = 5 * time.Second
)

var (
	ErrNotStarted   = errors.New("hasher not started")
	ErrShuttingDown = errors.New("hasher is shutting down")
	ErrQueueFull    = errors.New("hash queue full")
	ErrPasswordLong = errors.New("password too long")
	dummyHash       = "$argon2id$v=19$m=65536,t=1,p=1$ZHVtbXlzYWx0$ZHVtbXloYXNo"
)

type Hasher struct {
	iterations    uint32
	memory        uint32
	parallelism   uint8
	keyLength     uint32
	pepper        []byte
	minVerifyTime time.Duration
	mu            sync.RWMutex
	jobQueue      chan job
	quit          chan struct{}
	wg            sync.WaitGroup
	started       bool
	startMu       sync.Mutex
	stopOnce      sync.Once
}

type job struct {
	run  func() result
	resp chan result
}
type result struct {
	hash  string
	match bool
	err   error
}

type Option func(*Hasher)

// WithMinVerifyTime pads every Verify call to at least d.
func WithMinVerifyTime(d time.Duration) Option {
	return func(h *Hasher) { h.minVerifyTime = d }
}

func NewHasher(time, memory uint32, parallelism uint8, pepper []byte, opts ...Option) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 1*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	h := &Hasher{
		iterations:    time,
		memory:        memory,
		parallelism:   parallelism,
		keyLength:     32,
		pepper:        pepperCopy,
		minVerifyTime: defaultMinVerifyTime,
		jobQueue:      make(chan job, defaultQueueSize),
		quit:          make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}
func (h *Hasher) Start(workers int) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return errors.New("hasher already started")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.worker()
	}
	h.started = true
	return nil
}

// Stop drains the workers and wipes the pepper. Jobs still queued are
// answered with ErrShuttingDown.
func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.wg.Wait()
	drain:
		for {
			select {
			case j := <-h.jobQueue:
				j.resp <- result{err: ErrShuttingDown}
			default:
				break drain
			}
		}
		h.mu.Lock()
		util.Wipe(h.pepper)
		h.pepper = nil
		h.mu.Unlock()
	})
}
func (h *Hasher) worker() {
	defer h.wg.Done()
	for {
		select {
		case j := <-h.jobQueue:
			j.resp <- j.run()
		case <-h.quit:
			return
		}
	}
}
func (h *Hasher) submit(ctx context.Context, run func() result) result {
	h.startMu.Lock()
	started := h.started
	h.startMu.Unlock()
	if !started {
		return result{err: ErrNotStarted}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()
	resp := make(chan result, 1)
	select {
	case h.jobQueue <- job{run: run, resp: resp}:
	case <-h.quit:
		return result{err: ErrShuttingDown}
	case <-ctx.Done():
		return result{err: ErrQueueFull}
	}
	select {
	case res := <-resp:
		return res
	case <-ctx.Done():
		return result{err: errors.Wrap(ctx.Err(), "hash wait")}
	}
}
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if len(password) > domain.MaxPasswordLength {
		return "", ErrPasswordLong
	}
	res := h.submit(ctx, func() result {
		hash, err := h.doHash(password)
		return result{hash: hash, err: err}
	})
	return res.hash, res.err
}
func (h *Hasher) doHash(password string) (string, error) {
	peppered := h.applyPepper(password)
	if peppered == nil {
		return "", ErrShuttingDown
	}
	defer util.Wipe(peppered)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify reports whether password matches encoded. Every call takes at least
// the configured minimum, match or not.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) (bool, error) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < h.minVerifyTime {
			time.Sleep(h.minVerifyTime - elapsed)
		}
	}()
	tooLong := len(password) > domain.MaxPasswordLength
	if tooLong {
		password = strings.Repeat("x", 16)
		encoded = dummyHash
	}
	res := h.submit(ctx, func() result {
		return result{match: h.verifyInternal(password, encoded)}
	})
	if res.err != nil {
		return false, res.err
	}
	return res.match && !tooLong, nil
}

// verifyInternal always runs one Argon2 derivation, even for malformed
// hashes, so bad input costs the same as a wrong password.
func (h *Hasher) verifyInternal(pwd, encoded string) bool {
	var mem, iters uint32 = h.memory, h.iterations
	var threads uint8 = h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
	} else if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil ||
		mem > 2*1024*1024 || iters > 1000 || threads > 128 || mem == 0 || iters == 0 || threads == 0 {
		valid = false
		mem, iters, threads = h.memory, h.iterations, h.parallelism
	} else {
		var err error
		salt, err = base64.RawStdEncoding.DecodeString(parts[4])
		if err != nil || len(salt) == 0 {
			valid = false
			salt = nil
		}
		hash, err = base64.RawStdEncoding.DecodeString(parts[5])
		if err != nil || len(hash) == 0 || len(hash) > 256 {
			valid = false
			hash = nil
		}
	}
	if salt == nil {
		salt = make([]byte, 16)
	}
	if hash == nil {
		hash = make([]byte, 32)
	}
	defer util.Wipe(hash)
	peppered := h.applyPepper(pwd)
	if peppered == nil {
		return false
	}
	defer util.Wipe(peppered)
	otherHash := argon2.IDKey(peppered, salt, iters, mem, threads, uint32(len(hash)))
	defer util.Wipe(otherHash)
	match := subtle.ConstantTimeCompare(hash, otherHash) == 1
	return valid && match
}
func (h *Hasher) applyPepper(password string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.pepper) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}
