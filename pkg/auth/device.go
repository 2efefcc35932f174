package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/plfm/plfm/pkg/types"
)

const (
	deviceAuthTTL  = 15 * time.Minute
	deviceTokenTTL = 30 * 24 * time.Hour
)

// DeviceAuthorization is one pending CLI login
type DeviceAuthorization struct {
	DeviceCode string
	UserCode   string
	ExpiresAt  time.Time
}

// StartDeviceAuth begins a CLI login: the CLI polls with the device
// code while the user approves the short user code in a browser.
func (a *Authenticator) StartDeviceAuth(ctx context.Context) (*DeviceAuthorization, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate device code: %w", err)
	}
	deviceCode := base64.RawURLEncoding.EncodeToString(raw)
	userCode, err := newUserCode()
	if err != nil {
		return nil, err
	}

	expires := time.Now().Add(deviceAuthTTL)
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO device_authorizations (device_code, user_code, expires_at)
		VALUES ($1, $2, $3)`, deviceCode, userCode, expires)
	if err != nil {
		return nil, fmt.Errorf("store device authorization: %w", err)
	}

	return &DeviceAuthorization{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ExpiresAt:  expires,
	}, nil
}

// ApproveDeviceAuth records the approving user against a user code
func (a *Authenticator) ApproveDeviceAuth(ctx context.Context, userCode, approverID string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE device_authorizations SET approved_by = $2
		WHERE user_code = $1 AND expires_at > now() AND approved_by IS NULL`,
		userCode, approverID)
	if err != nil {
		return fmt.Errorf("approve device authorization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user code %q: %w", userCode, types.ErrNotFound)
	}
	return nil
}

// PollDeviceAuth exchanges an approved device code for a token. Returns
// ErrNotFound while approval is pending.
func (a *Authenticator) PollDeviceAuth(ctx context.Context, deviceCode, orgID string) (string, error) {
	var approvedBy sql.NullString
	var expiresAt time.Time
	err := a.db.QueryRowContext(ctx, `
		SELECT approved_by, expires_at FROM device_authorizations WHERE device_code = $1`,
		deviceCode).Scan(&approvedBy, &expiresAt)
	if err == sql.ErrNoRows {
		return "", types.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("poll device authorization: %w", err)
	}
	if time.Now().After(expiresAt) {
		return "", types.ErrExecSessionExpired
	}
	if !approvedBy.Valid {
		return "", fmt.Errorf("authorization pending: %w", types.ErrNotFound)
	}

	token, err := a.IssueToken(ctx, types.ActorUser, approvedBy.String, orgID, RoleDeveloper, deviceTokenTTL)
	if err != nil {
		return "", err
	}

	// one-shot: a device code never yields two tokens
	if _, err := a.db.ExecContext(ctx,
		`DELETE FROM device_authorizations WHERE device_code = $1`, deviceCode); err != nil {
		return "", fmt.Errorf("consume device authorization: %w", err)
	}
	return token, nil
}

// newUserCode builds a short code like "BQML-XKRC" from an unambiguous
// alphabet.
func newUserCode() (string, error) {
	const alphabet = "BCDFGHJKLMNPQRSTVWXZ"
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	code := make([]byte, 0, 9)
	for i, b := range raw {
		if i == 4 {
			code = append(code, '-')
		}
		code = append(code, alphabet[int(b)%len(alphabet)])
	}
	return string(code), nil
}
