// Package messaging is the boundary to the chat channel: inbound message
// shape, address normalization and the outbound Sender port.
package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	dErrors "vaultline/pkg/domain-errors"
)

// InboundMessage is one message as delivered by the channel. Delivery is at
// least once; MessageID is the channel's identifier and is only logged.
type InboundMessage struct {
	Address   string
	Body      string
	MessageID string
	Channel   string
	Timestamp time.Time
}

// Sender delivers a reply. Replies are plain text and never contain stored
// personal data.
type Sender interface {
	SendText(ctx context.Context, address, body string) error
}

// defaultCountryCode applies to national numbers written with a leading 0.
const defaultCountryCode = "33"

// NormalizeAddress turns a phone-style address into E.164 (+ and 8 to 15
// digits). The same subscriber written with spaces, dashes, a 00 prefix or a
// national leading 0 normalizes to the same string, so the lookup hash and
// blind index stay stable across formats.
func NormalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "address contains invalid characters")
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		digits = defaultCountryCode + digits[1:]
	}

	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is not a valid phone number")
	}
	return "+" + digits, nil
}

// RedactAddress keeps the last two digits for correlating logs.
func RedactAddress(address string) string {
	if len(address) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(address)-2) + address[len(address)-2:]
}

// LogSender writes replies to the log instead of a channel. It is the sender
// for local runs and for deployments where the channel pulls replies from the
// webhook response.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendText(ctx context.Context, address, body string) error {
	s.logger.InfoContext(ctx, "outbound message",
		"to", RedactAddress(address),
		"length", len(body),
	)
	return nil
}
