// Package channels holds the outbound SMS and email adapters. Every adapter
// classifies failures as transient (retry) or permanent (give up).
package channels

import (
	"context"
)

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, body string) (messageID string, err error)
}

// EmailSender delivers a message to an email address.
type EmailSender interface {
	SendEmail(ctx context.Context, address, subject, body string) (messageID string, err error)
}

// SMSFunc adapts a function to SMSSender.
type SMSFunc func(ctx context.Context, phoneNumber, body string) (string, error)

// SendSMS calls f.
func (f SMSFunc) SendSMS(ctx context.Context, phoneNumber, body string) (string, error) {
	return f(ctx, phoneNumber, body)
}

// EmailFunc adapts a function to EmailSender.
type EmailFunc func(ctx context.Context, address, subject, body string) (string, error)

// SendEmail calls f.
func (f EmailFunc) SendEmail(ctx context.Context, address, subject, body string) (string, error) {
	return f(ctx, address, subject, body)
}
