package dispatch

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"mailworker/internal/store"
)

type fakeSMS struct {
	calls []struct{ to, from, body string }
	err   error
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, from, body string) (string, error) {
	f.calls = append(f.calls, struct{ to, from, body string }{to, from, body})
	if f.err != nil {
		return "", f.err
	}
	return "sent", nil
}

type fakeEmail struct {
	calls  []EmailMessage
	status int
	err    error
}

func (f *fakeEmail) SendEmail(ctx context.Context, msg EmailMessage) (int, error) {
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return 0, f.err
	}
	return f.status, nil
}

func ptr(s string) *string { return &s }

func TestDispatchSMS(t *testing.T) {
	sms := &fakeSMS{}
	d := New(sms, &fakeEmail{}, "15005550000", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 2, DestinationAddress: "5551234567", Subject: "x", Body: "ping"}
	outcome := d.Dispatch(context.Background(), row, Overrides{})

	if !outcome.Sent || outcome.Invalid {
		t.Fatalf("expected sent outcome, got %+v", outcome)
	}
	if len(sms.calls) != 1 || sms.calls[0].to != "5551234567" || sms.calls[0].body != "ping" {
		t.Fatalf("unexpected sms call: %+v", sms.calls)
	}
}

func TestDispatchSMSGatewayFraming(t *testing.T) {
	sms := &fakeSMS{}
	d := New(sms, &fakeEmail{}, "from", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 3, DestinationAddress: "5551234567@txt.att.net", Subject: "ALERT", Body: "door open"}
	d.Dispatch(context.Background(), row, Overrides{})

	if len(sms.calls) != 1 {
		t.Fatalf("expected one sms call, got %d", len(sms.calls))
	}
	want := "SUBJ:ALERT\nMSG:door open"
	if sms.calls[0].body != want {
		t.Errorf("body = %q, want %q", sms.calls[0].body, want)
	}
}

func TestDispatchEmail(t *testing.T) {
	email := &fakeEmail{status: 202}
	d := New(&fakeSMS{}, email, "from", "configured-sender@example.com", zap.NewNop(), false, false, false)

	row := store.Message{
		ID: 1, DestinationAddress: "alice@example.com", Subject: "Hi", Body: "hello",
		SourceAddress: ptr("row-level-source@example.com"),
		CCAddress:     ptr("valid@x.com, not-an-email, also@valid.com"),
	}
	outcome := d.Dispatch(context.Background(), row, Overrides{})

	if !outcome.Sent {
		t.Fatalf("expected sent outcome, got %+v", outcome)
	}
	if len(email.calls) != 1 {
		t.Fatalf("expected one email call, got %d", len(email.calls))
	}
	if len(email.calls[0].CC) != 2 {
		t.Errorf("expected 2 valid CC addresses, got %v", email.calls[0].CC)
	}
	if email.calls[0].From != "configured-sender@example.com" {
		t.Errorf("From = %q, want the configured sender, not the row's SourceAddress", email.calls[0].From)
	}
}

func TestDispatchEmailAttachmentName(t *testing.T) {
	email := &fakeEmail{status: 200}
	d := New(&fakeSMS{}, email, "from", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 5, DestinationAddress: "bob@x.com", Subject: "Daily Report", Body: "...", Attachment: []byte("a,b,c\n1,2,3")}
	d.Dispatch(context.Background(), row, Overrides{})

	if email.calls[0].Attachment == nil {
		t.Fatal("expected attachment to be set")
	}
	name := email.calls[0].Attachment.Filename
	if !strings.HasPrefix(name, "daily_report_") || !strings.HasSuffix(name, ".csv") {
		t.Errorf("unexpected attachment name: %s", name)
	}
}

func TestDispatchInvalidDestination(t *testing.T) {
	sms := &fakeSMS{}
	email := &fakeEmail{}
	d := New(sms, email, "from", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 4, DestinationAddress: "bogus", Subject: "x", Body: "x"}
	outcome := d.Dispatch(context.Background(), row, Overrides{})

	if !outcome.Invalid {
		t.Fatalf("expected invalid outcome, got %+v", outcome)
	}
	if len(sms.calls) != 0 || len(email.calls) != 0 {
		t.Fatal("invalid destination must never call a provider")
	}
}

func TestDispatchNoNotifySkipsProvider(t *testing.T) {
	sms := &fakeSMS{}
	d := New(sms, &fakeEmail{}, "from", "emailfrom", zap.NewNop(), false, true, false)

	row := store.Message{ID: 2, DestinationAddress: "5551234567", Subject: "x", Body: "ping"}
	outcome := d.Dispatch(context.Background(), row, Overrides{})

	if !outcome.Sent || len(sms.calls) != 0 {
		t.Fatalf("expected skipped-but-sent outcome with no provider call, got %+v calls=%d", outcome, len(sms.calls))
	}
}

func TestDispatchOverridePhone(t *testing.T) {
	sms := &fakeSMS{}
	d := New(sms, &fakeEmail{}, "from", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 2, DestinationAddress: "5551234567", Subject: "x", Body: "ping"}
	d.Dispatch(context.Background(), row, Overrides{Phone: "5559998888"})

	if len(sms.calls) != 1 || sms.calls[0].to != "5559998888" {
		t.Fatalf("override not applied: %+v", sms.calls)
	}
}

func TestDispatchEmailFailureStatus(t *testing.T) {
	email := &fakeEmail{status: 500}
	d := New(&fakeSMS{}, email, "from", "emailfrom", zap.NewNop(), false, false, false)

	row := store.Message{ID: 6, DestinationAddress: "carol@x.com", Subject: "x", Body: "x"}
	outcome := d.Dispatch(context.Background(), row, Overrides{})

	if outcome.Sent {
		t.Fatal("500 response must not count as sent")
	}
}
