package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vidloop-live/internal/models"
	"golang.org/x/crypto/pbkdf2"
)

// AuthenticateUser verifies credentials and returns the matching user on success.
func (s *Storage) AuthenticateUser(username, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := s.FindUserByUsername(username)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrPasswordLoginUnsupported
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

// SetUserPassword replaces the stored password hash for the provided user.
func (s *Storage) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	user.PasswordHash = hashed
	updatedData.Users[id] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}

	s.data = updatedData

	return user, nil
}

// Stored hashes use the form pbkdf2$sha256$<iterations>$<salt>$<key> with
// raw-std base64 segments. The iteration count is read back from the record,
// so raising passwordHashIterations never invalidates existing accounts.
type passwordRecord struct {
	iterations int
	salt       []byte
	key        []byte
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	record := passwordRecord{
		iterations: passwordHashIterations,
		salt:       salt,
		key:        pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New),
	}
	return record.encode(), nil
}

func (p passwordRecord) encode() string {
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s",
		p.iterations,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key))
}

func parsePasswordRecord(encoded string) (passwordRecord, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return passwordRecord{}, fmt.Errorf("unrecognised password hash format")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return passwordRecord{}, fmt.Errorf("invalid iteration count %q", parts[2])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return passwordRecord{}, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return passwordRecord{}, fmt.Errorf("decode key: %w", err)
	}
	return passwordRecord{iterations: iterations, salt: salt, key: key}, nil
}

func verifyPassword(encodedHash, candidate string) error {
	record, err := parsePasswordRecord(encodedHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), record.salt, record.iterations, len(record.key), sha256.New)
	if subtle.ConstantTimeCompare(derived, record.key) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
