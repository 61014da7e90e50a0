package server

import (
	"crypto/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	poolboard "github.com/JellyTony/poolboard"
	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/logger"
)

const (
	cookieToken       = "token"
	cookieLegacyToken = "legacyToken"
	cookieID          = "id"
	cookieUsername    = "username"
	cookieExpiration  = "expiration"
)

var allCookies = []string{cookieToken, cookieLegacyToken, cookieID, cookieUsername, cookieExpiration}

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID      int64  `json:"uid"`
	Username    string `json:"usr"`
	Token       string `json:"tok"`
	LegacyToken string `json:"ltk"`
}

// Sessions issues and verifies the login cookies. The token cookie is a
// signed JWT holding both upstream tokens; the other cookies are plain
// copies for the browser's convenience.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration, secure bool) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
		logger.WithFields(logger.Fields{"module": "app.session"}).Warn("no session secret configured, sessions will not survive restart")
	}
	if ttl <= 0 {
		ttl = poolboard.DefaultSessionTTL
	}
	return &Sessions{secret: key, ttl: ttl, secure: secure, now: time.Now}
}

func (s *Sessions) cookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Issue sets the session cookies and returns their expiry.
func (s *Sessions) Issue(w http.ResponseWriter, cred apiclient.Credentials) (time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(cred.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:      cred.ID,
		Username:    cred.Username,
		Token:       cred.Token,
		LegacyToken: cred.LegacyToken,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "sign session")
	}
	http.SetCookie(w, s.cookie(cookieToken, signed, exp, true))
	http.SetCookie(w, s.cookie(cookieLegacyToken, cred.LegacyToken, exp, true))
	http.SetCookie(w, s.cookie(cookieID, strconv.FormatInt(cred.ID, 10), exp, false))
	http.SetCookie(w, s.cookie(cookieUsername, cred.Username, exp, false))
	http.SetCookie(w, s.cookie(cookieExpiration, strconv.FormatInt(exp.Unix(), 10), exp, false))
	return exp, nil
}

// Clear expires every session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	for _, name := range allCookies {
		c := s.cookie(name, "", time.Unix(0, 0), name == cookieToken || name == cookieLegacyToken)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// FromRequest returns the credentials of a valid session cookie.
func (s *Sessions) FromRequest(r *http.Request) (apiclient.Credentials, bool) {
	c, err := r.Cookie(cookieToken)
	if err != nil || c.Value == "" {
		return apiclient.Credentials{}, false
	}
	var claims sessionClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return apiclient.Credentials{}, false
	}
	return apiclient.Credentials{
		ID:          claims.UserID,
		Username:    claims.Username,
		Token:       claims.Token,
		LegacyToken: claims.LegacyToken,
	}, true
}
