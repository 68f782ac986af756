package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"africorex-crm/internal/domain"
)

// AuthError is the session verification error class.
var AuthError = errs.Class("auth")

const callerKey = "caller"

// SessionVerifier turns the opaque auth token from a request into the caller
// identity and role. Session issuance lives elsewhere; this service only
// consumes tokens.
type SessionVerifier interface {
	Verify(token string) (domain.Caller, error)
}

// HMACVerifier verifies tokens of the form
// base64(userID|role|expiryUnix) + "." + hex(hmac-sha256 of the payload).
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Token mints a signed token. Exposed for tests and local tooling; the real
// issuer is the auth service.
func (v *HMACVerifier) Token(caller domain.Caller, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%s|%d", caller.UserID, caller.Role, expiry.Unix())
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + hex.EncodeToString(mac.Sum(nil))
}

func (v *HMACVerifier) Verify(token string) (domain.Caller, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return domain.Caller{}, AuthError.New("malformed token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.Caller{}, AuthError.New("malformed token")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return domain.Caller{}, AuthError.New("bad signature")
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return domain.Caller{}, AuthError.New("malformed token")
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return domain.Caller{}, AuthError.New("malformed token")
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return domain.Caller{}, AuthError.New("expired token")
	}

	role := domain.Role(parts[1])
	if role != domain.RoleAdmin && role != domain.RoleClient {
		return domain.Caller{}, AuthError.New("unknown role")
	}

	return domain.Caller{UserID: userID, Role: role}, nil
}

// requireSession extracts the caller from the auth_token cookie or a bearer
// header and stores it on the gin context.
func (s *Server) requireSession(c *gin.Context) {
	token, err := c.Cookie("auth_token")
	if err != nil || token == "" {
		header := c.GetHeader("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	caller, err := s.sessions.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	c.Set(callerKey, caller)
	c.Next()
}

func (s *Server) requireAdmin(c *gin.Context) {
	if !currentCaller(c).IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden: Admins only"})
		return
	}
	c.Next()
}

func currentCaller(c *gin.Context) domain.Caller {
	caller, _ := c.Get(callerKey)
	out, _ := caller.(domain.Caller)
	return out
}
