// Package killswitch verifies the emergency code that permanently disables
// the switch. Only an argon2id digest of the code is ever held.
package killswitch

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// Result is the outcome of a verification attempt.
type Result string

const (
	Valid         Result = "valid"
	Invalid       Result = "invalid"
	NotConfigured Result = "not_configured"
	// Throttled means the attempt was refused without hashing.
	Throttled Result = "throttled"
)

// Verdict is a Result plus a loggable reason. Reason never contains the
// candidate.
type Verdict struct {
	Result Result
	Reason string
	// RetryAfter is set on Throttled verdicts.
	RetryAfter time.Duration
}

// Defaults for the attempt guards. Each derivation with DefaultParams holds
// 64 MiB, so only a couple may run at once.
const (
	DefaultConcurrency     = 2
	DefaultFailureBurst    = 5
	DefaultFailureInterval = time.Minute
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams follow the RFC 9106 second recommended option.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}

// Hash derives the encoded digest to store in KILL_SWITCH_HASH:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>.
func Hash(secret string, p Params) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty kill-switch code", model.ErrValidation)
	}
	if p.Time < 1 || p.Threads < 1 || p.Memory < 1 || p.KeyLen < 1 || p.SaltLen < 1 {
		return "", fmt.Errorf("%w: argon2 parameters must all be at least 1", model.ErrValidation)
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

type digest struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return digest{}, fmt.Errorf("%w: kill-switch hash is not an argon2id digest", model.ErrConfiguration)
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return digest{}, fmt.Errorf("%w: unsupported argon2 version %q", model.ErrConfiguration, parts[2])
	}
	var d digest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Time, &d.params.Threads); err != nil {
		return digest{}, fmt.Errorf("%w: bad argon2 parameters: %v", model.ErrConfiguration, err)
	}
	// argon2.IDKey panics on zero rounds or zero lanes
	if d.params.Time < 1 || d.params.Threads < 1 || d.params.Memory < 1 {
		return digest{}, fmt.Errorf("%w: argon2 parameters %q must all be at least 1", model.ErrConfiguration, parts[3])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return digest{}, fmt.Errorf("%w: bad argon2 salt", model.ErrConfiguration)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return digest{}, fmt.Errorf("%w: bad argon2 key", model.ErrConfiguration)
	}
	d.salt, d.key = salt, key
	d.params.KeyLen = uint32(len(key))
	d.params.SaltLen = len(salt)
	return d, nil
}

// Authenticator compares candidates against the configured digest. At most
// a few derivations run at once, and failed attempts draw from a token
// bucket; when it is empty every attempt is refused until it refills.
type Authenticator struct {
	digest    *digest
	minLength int
	configErr error

	sem      *semaphore.Weighted
	failures *rate.Limiter
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithConcurrency bounds simultaneous derivations.
func WithConcurrency(n int) Option {
	return func(a *Authenticator) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithFailureLimit allows burst failed attempts, refilled one per every.
func WithFailureLimit(every time.Duration, burst int) Option {
	return func(a *Authenticator) {
		if every > 0 && burst > 0 {
			a.failures = rate.NewLimiter(rate.Every(every), burst)
		}
	}
}

// New parses the configured digest. An empty digest yields an authenticator
// that reports NotConfigured. A malformed digest does the same and is also
// returned as a configuration error so startup can surface it.
func New(encoded string, minLength int, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		minLength: minLength,
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		failures:  rate.NewLimiter(rate.Every(DefaultFailureInterval), DefaultFailureBurst),
	}
	for _, opt := range opts {
		opt(a)
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return a, nil
	}
	d, err := decode(encoded)
	if err != nil {
		a.configErr = err
		return a, err
	}
	a.digest = &d
	return a, nil
}

// Configured reports whether a usable digest is present.
func (a *Authenticator) Configured() bool { return a.digest != nil }

// ConfigError returns the parse error of a malformed digest, if any.
func (a *Authenticator) ConfigError() error { return a.configErr }

// Verify checks candidate in constant time with respect to the key bytes.
// It waits for a derivation slot until ctx is done.
func (a *Authenticator) Verify(ctx context.Context, candidate string) Verdict {
	if a.digest == nil {
		return Verdict{Result: NotConfigured, Reason: "kill switch not configured"}
	}
	if a.failures.Tokens() < 1 {
		return a.throttled("too many failed attempts")
	}
	if len(candidate) < a.minLength {
		return a.failed("code too short")
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return Verdict{Result: Throttled, Reason: "verification busy", RetryAfter: time.Second}
	}
	p := a.digest.params
	key := argon2.IDKey([]byte(candidate), a.digest.salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	a.sem.Release(1)
	if subtle.ConstantTimeCompare(key, a.digest.key) == 1 {
		return Verdict{Result: Valid, Reason: "code accepted"}
	}
	return a.failed("wrong code")
}

func (a *Authenticator) failed(reason string) Verdict {
	a.failures.Allow()
	return Verdict{Result: Invalid, Reason: reason}
}

func (a *Authenticator) throttled(reason string) Verdict {
	r := a.failures.Reserve()
	wait := r.Delay()
	r.Cancel()
	if wait < time.Second {
		wait = time.Second
	}
	return Verdict{Result: Throttled, Reason: reason, RetryAfter: wait}
}
