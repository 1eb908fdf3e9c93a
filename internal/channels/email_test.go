package channels

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
	"testing"

	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

func TestClassifySMTP(t *testing.T) {
	if err := classifySMTP(&textproto.Error{Code: 451, Msg: "try later"}); !errors.Is(err, apperrors.ErrChannelTransient) {
		t.Fatalf("expected 451 to be transient, got %v", err)
	}
	if err := classifySMTP(&textproto.Error{Code: 550, Msg: "no such user"}); !errors.Is(err, apperrors.ErrChannelPermanent) {
		t.Fatalf("expected 550 to be permanent, got %v", err)
	}
	if err := classifySMTP(errors.New("connection reset")); !errors.Is(err, apperrors.ErrChannelTransient) {
		t.Fatalf("expected network error to be transient, got %v", err)
	}
}

func TestSMTPMailerRejectsInvalidAddress(t *testing.T) {
	m := NewSMTPMailer("localhost", "2525", "", "", "noreply@example.com")
	_, err := m.SendEmail(context.Background(), "not an address", "s", "b")
	if !errors.Is(err, apperrors.ErrChannelPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestBuildMessageUsesCRLF(t *testing.T) {
	msg := string(buildMessage("a@example.com", "b@example.com", "Hi", "line1\nline2", "<id@x>"))
	if !strings.Contains(msg, "Subject: Hi\r\n") {
		t.Fatalf("expected subject header, got %q", msg)
	}
	if !strings.HasSuffix(msg, "line1\r\nline2") {
		t.Fatalf("expected CRLF body, got %q", msg)
	}
}
