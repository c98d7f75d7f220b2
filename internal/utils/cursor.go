package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ManifestCursor is a keyset-pagination cursor over manifests; the
// manifest listing endpoint does not use it and returns every row.
type ManifestCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        int64     `json:"id"`
}

// DeadLetterCursor is a keyset-pagination cursor over dead letters; the
// dead-letter listing endpoint does not use it.
type DeadLetterCursor struct {
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
	ID             int64     `json:"id"`
}

func EncodeManifestCursor(createdAt time.Time, id int64) (string, error) {
	b, err := json.Marshal(ManifestCursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeManifestCursor(cursor string) (ManifestCursor, error) {
	if cursor == "" {
		return ManifestCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return ManifestCursor{}, err
	}

	var c ManifestCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return ManifestCursor{}, err
	}
	if c.ID == 0 || c.CreatedAt.IsZero() {
		return ManifestCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}

func EncodeDeadLetterCursor(deadLetteredAt time.Time, id int64) (string, error) {
	b, err := json.Marshal(DeadLetterCursor{DeadLetteredAt: deadLetteredAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeDeadLetterCursor(cursor string) (DeadLetterCursor, error) {
	if cursor == "" {
		return DeadLetterCursor{}, errors.New("empty cursor")
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return DeadLetterCursor{}, err
	}
	var c DeadLetterCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return DeadLetterCursor{}, err
	}
	if c.ID == 0 || c.DeadLetteredAt.IsZero() {
		return DeadLetterCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
