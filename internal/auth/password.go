package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plain text password using bcrypt
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with a plain text password
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// Credentials is the automation user allowed to act on behalf of the site
type Credentials struct {
	Username     string
	PasswordHash string
}

// Verify checks a username and password against the configured user
func (c Credentials) Verify(username, password string) bool {
	if c.Username == "" || c.PasswordHash == "" {
		return false
	}
	sameUser := subtle.ConstantTimeCompare([]byte(c.Username), []byte(username)) == 1
	// always run bcrypt so timing does not reveal the username
	passwordOK := ComparePassword(c.PasswordHash, password) == nil
	return sameUser && passwordOK
}
