package miniapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const webAppDataKey = "WebAppData"

var (
	ErrInvalidInitData = errors.New("invalid init data")
	ErrHashMismatch    = errors.New("init data hash mismatch")
	ErrInitDataExpired = errors.New("init data expired")
)

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// InitData is the snapshot Telegram hands to a mini-app on launch.
type InitData struct {
	QueryID  string
	User     *User
	AuthDate time.Time
	Hash     string
}

// UserID renders the user id the way the backend stores it. Empty when the
// snapshot has no user.
func (d InitData) UserID() string {
	if d.User == nil || d.User.ID == 0 {
		return ""
	}
	return strconv.FormatInt(d.User.ID, 10)
}

// ParseInitData parses window.Telegram.WebApp.initData. With a bot token the
// hash is verified, and with maxAge > 0 an old auth_date is rejected.
func ParseInitData(raw, botToken string, maxAge time.Duration, now time.Time) (InitData, error) {
	const op = "miniapp.ParseInitData"

	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidInitData, err)
	}

	data := InitData{
		QueryID: values.Get("query_id"),
		Hash:    values.Get("hash"),
	}

	if botToken != "" {
		if data.Hash == "" {
			return InitData{}, fmt.Errorf("%s: %w: missing hash", op, ErrInvalidInitData)
		}
		if !hmac.Equal([]byte(Sign(values, botToken)), []byte(strings.ToLower(data.Hash))) {
			return InitData{}, fmt.Errorf("%s: %w", op, ErrHashMismatch)
		}
	}

	if rawDate := values.Get("auth_date"); rawDate != "" {
		sec, err := strconv.ParseInt(rawDate, 10, 64)
		if err != nil {
			return InitData{}, fmt.Errorf("%s: %w: auth_date: %v", op, ErrInvalidInitData, err)
		}
		data.AuthDate = time.Unix(sec, 0)
	}

	if maxAge > 0 && botToken != "" && now.Sub(data.AuthDate) > maxAge {
		return InitData{}, fmt.Errorf("%s: %w", op, ErrInitDataExpired)
	}

	if rawUser := values.Get("user"); rawUser != "" {
		var u User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return InitData{}, fmt.Errorf("%s: %w: user: %v", op, ErrInvalidInitData, err)
		}
		data.User = &u
	}

	return data, nil
}

// Sign computes the init data hash over every field except hash.
func Sign(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte(webAppDataKey))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))

	return hex.EncodeToString(mac.Sum(nil))
}
