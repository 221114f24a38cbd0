package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrAdminExists        = errors.New("admin account already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Admin{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// CreateAdmin stores the single admin account. It fails with ErrAdminExists
// once any admin is present.
func (s *Store) CreateAdmin(ctx context.Context, username, password string) (Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Admin{}, fmt.Errorf("hash password: %w", err)
	}

	admin := Admin{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		PasswordHash: string(hash),
		CreatedAt:    s.stamp(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Admin{}).Count(&count).Error; err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if count > 0 {
			return ErrAdminExists
		}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return Admin{}, err
	}
	return admin, nil
}

func (s *Store) AdminByUsername(ctx context.Context, username string) (Admin, error) {
	var admin Admin
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Admin{}, ErrNotFound
	}
	if err != nil {
		return Admin{}, fmt.Errorf("get admin: %w", err)
	}
	return admin, nil
}

// Authenticate checks username and password and returns ErrInvalidCredentials
// for an unknown user or a wrong password alike.
func (s *Store) Authenticate(ctx context.Context, username, password string) (Admin, error) {
	admin, err := s.AdminByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Admin{}, ErrInvalidCredentials
	}
	if err != nil {
		return Admin{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return Admin{}, ErrInvalidCredentials
	}
	return admin, nil
}

func (s *Store) CreateSession(ctx context.Context, adminID string, ttl time.Duration) (string, time.Time, error) {
	rawToken, err := randomToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	session := Session{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}

	return rawToken, expiresAt, nil
}

func (s *Store) ResolveSession(ctx context.Context, rawToken string) (Admin, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Admin{}, ErrNotFound
	}

	var admin Admin
	err := s.db.WithContext(ctx).
		Model(&Admin{}).
		Joins("JOIN sessions ON sessions.admin_id = admins.id").
		Where("sessions.token_hash = ? AND sessions.expires_at > ?", hashToken(rawToken), s.now().UTC()).
		Take(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Admin{}, ErrNotFound
	}
	if err != nil {
		return Admin{}, fmt.Errorf("resolve session: %w", err)
	}
	return admin, nil
}

func (s *Store) DeleteSession(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(rawToken)).Delete(&Session{}).Error
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
