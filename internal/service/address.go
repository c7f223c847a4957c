package service

import (
	"strings"
	"unicode"

	"github.com/openclaw/channel-router/internal/util"
)

const (
	addressScheme      = "whatsapp:"
	sessionLabelPrefix = "channel:"
	deviceLabelMaxLen  = 64
	titleMaxLen        = 80
)

// NormalizeAddress returns the canonical scheme-prefixed form of a channel
// address. It is idempotent: normalizing a normalized address is a no-op.
// An address with no content normalizes to the empty string.
func NormalizeAddress(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	for len(s) >= len(addressScheme) && strings.EqualFold(s[:len(addressScheme)], addressScheme) {
		s = s[len(addressScheme):]
	}
	if s == "" {
		return ""
	}
	if isDigits(s) {
		s = "+" + s
	}
	return addressScheme + s
}

// SessionLabel is the stable key for the conversation an address talks to.
func SessionLabel(address string) string {
	return sessionLabelPrefix + strings.TrimPrefix(NormalizeAddress(address), addressScheme)
}

// PhoneDigits strips everything but digits, as wa.me links expect.
func PhoneDigits(address string) string {
	var b strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func deviceLabel(profileName string) *string {
	name := strings.TrimSpace(profileName)
	if name == "" {
		return nil
	}
	label := util.TruncateRunes(name, deviceLabelMaxLen)
	return &label
}

func conversationTitle(profileName, address string) string {
	title := strings.TrimSpace(profileName)
	if title == "" {
		title = strings.TrimPrefix(address, addressScheme)
	}
	return util.TruncateRunes(title, titleMaxLen)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
