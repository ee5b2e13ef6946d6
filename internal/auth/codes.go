package auth

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// codeCharset deliberately omits glyphs that read ambiguously in email
// clients (0/O, 1/I/l).
const codeCharset = "23456789QWERTYUPASDFGHJKZXCVBNM98765432"

const (
	codeLength = 6
	codeTTL    = 10 * time.Minute
)

// CodeSender delivers a verification code to an address. Production wires
// an email provider; the default logs the code, which is enough for local
// development.
type CodeSender interface {
	Send(email, code string) error
}

// LogSender writes codes to the service log instead of delivering them.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(email, code string) error {
	s.Logger.Info().Str("email", email).Str("code", code).Msg("verification code issued")
	return nil
}

type issuedCode struct {
	code      string
	expiresAt time.Time
}

// CodeIssuer issues and verifies short-lived login codes, one live code
// per email. Verification does not consume the code; it expires on TTL or
// when a new code displaces it.
type CodeIssuer struct {
	mu    sync.Mutex
	codes map[string]issuedCode
	now   func() time.Time
}

func NewCodeIssuer() *CodeIssuer {
	return &CodeIssuer{
		codes: make(map[string]issuedCode),
		now:   time.Now,
	}
}

// Issue generates a fresh code for email, displacing any prior one.
func (ci *CodeIssuer) Issue(email string) string {
	buf := make([]byte, codeLength)
	_, _ = rand.Read(buf)
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeCharset[int(b)%len(codeCharset)]
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.codes[email] = issuedCode{code: string(code), expiresAt: ci.now().Add(codeTTL)}
	return string(code)
}

// Verify reports whether code is the live, unexpired code for email.
func (ci *CodeIssuer) Verify(email, code string) bool {
	if code == "" {
		return false
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()
	issued, ok := ci.codes[email]
	if !ok {
		return false
	}
	if ci.now().After(issued.expiresAt) {
		delete(ci.codes, email)
		return false
	}
	return issued.code == code
}
