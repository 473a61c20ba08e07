package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/store"
	apperrors "github.com/spec-kit/courier-track/pkg/util"
)

func testMessagingConfig() config.MessagingConfig {
	return config.MessagingConfig{
		CountryCode:     "965",
		ConsentLinkBase: "https://track.example.com/consent?agentId=",
		DeepLinkBase:    "https://wa.me/",
	}
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, events.Dispatcher) {
	t.Helper()
	records := store.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()
	svc := NewService(records, dispatcher, testMessagingConfig(), zap.NewNop())
	return svc, records, dispatcher
}

func asDomainError(t *testing.T, err error) *apperrors.DomainError {
	t.Helper()
	var de *apperrors.DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return de
}

func TestRegisterCreatesPendingAgentWithConsentLink(t *testing.T) {
	svc, records, dispatcher := newTestService(t)

	var registered []events.Event
	dispatcher.Subscribe(events.EventAgentRegistered, func(_ context.Context, e events.Event) error {
		registered = append(registered, e)
		return nil
	})

	reg, err := svc.Register(context.Background(), RegistrationInput{Name: "Ali Hassan", Phone: "12345678"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if reg.Agent.ConsentStatus != "pending" {
		t.Errorf("consent status = %q, want pending", reg.Agent.ConsentStatus)
	}
	if reg.Agent.Phone != "96512345678" {
		t.Errorf("phone = %q, want 96512345678", reg.Agent.Phone)
	}
	if !strings.Contains(reg.ConsentLink, reg.Agent.ID) {
		t.Errorf("consent link %q does not carry agent id %q", reg.ConsentLink, reg.Agent.ID)
	}
	if !strings.HasPrefix(reg.InviteURL, "https://wa.me/96512345678?text=") {
		t.Errorf("invite url = %q", reg.InviteURL)
	}
	if !strings.Contains(reg.InviteMessage, "Ali Hassan") || !strings.Contains(reg.InviteMessage, reg.ConsentLink) {
		t.Errorf("invite message missing name or link: %q", reg.InviteMessage)
	}

	stored, err := records.Get(context.Background(), reg.Agent.ID)
	if err != nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if stored.ConsentLink != reg.ConsentLink {
		t.Errorf("stored consent link = %q, want %q", stored.ConsentLink, reg.ConsentLink)
	}
	if len(registered) != 1 {
		t.Fatalf("registered events = %d, want 1", len(registered))
	}
}

func TestRegisterRejectsMissingFieldsAndBadPhones(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := []struct {
		name  string
		input RegistrationInput
	}{
		{"empty name", RegistrationInput{Name: "  ", Phone: "12345678"}},
		{"empty phone", RegistrationInput{Name: "Ali", Phone: ""}},
		{"short local", RegistrationInput{Name: "Ali", Phone: "1234567"}},
		{"long local", RegistrationInput{Name: "Ali", Phone: "123456789"}},
		{"letters", RegistrationInput{Name: "Ali", Phone: "abcdefgh"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.input)
			de := asDomainError(t, err)
			if de.Code != "VALIDATION_FAILED" {
				t.Errorf("code = %q, want VALIDATION_FAILED", de.Code)
			}
		})
	}
}

func TestRegisterAcceptsFormattedPhoneVariants(t *testing.T) {
	svc, _, _ := newTestService(t)

	variants := []struct {
		name string
		raw  string
		want string
	}{
		{"Agent One", "+965 1234-5678", "96512345678"},
		{"Agent Two", "0096522345678", "96522345678"},
		{"Agent Three", "965 3234 5678", "96532345678"},
	}
	for _, tc := range variants {
		reg, err := svc.Register(context.Background(), RegistrationInput{Name: tc.name, Phone: tc.raw})
		if err != nil {
			t.Fatalf("Register(%q): %v", tc.raw, err)
		}
		if reg.Agent.Phone != tc.want {
			t.Errorf("normalized phone for %q = %q, want %q", tc.raw, reg.Agent.Phone, tc.want)
		}
	}
}

func TestRegisterDetectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), RegistrationInput{Name: "ali", Phone: "11111111"}); err != nil {
		t.Fatalf("seed register: %v", err)
	}

	cases := []struct {
		name      string
		input     RegistrationInput
		wantName  bool
		wantPhone bool
	}{
		{"name only, case insensitive", RegistrationInput{Name: "Ali", Phone: "22222222"}, true, false},
		{"phone only", RegistrationInput{Name: "Omar", Phone: "11111111"}, false, true},
		{"phone only, formatted input", RegistrationInput{Name: "Omar", Phone: "+965 1111 1111"}, false, true},
		{"both", RegistrationInput{Name: " ALI ", Phone: "11111111"}, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.input)
			de := asDomainError(t, err)
			if de.Code != "DUPLICATE_AGENT" {
				t.Fatalf("code = %q, want DUPLICATE_AGENT", de.Code)
			}
			_, gotName := de.Details["name"]
			_, gotPhone := de.Details["phone"]
			if gotName != tc.wantName || gotPhone != tc.wantPhone {
				t.Errorf("details = %v, want name=%v phone=%v", de.Details, tc.wantName, tc.wantPhone)
			}
		})
	}
}

func TestDeleteRemovesRecordAndRunsHooks(t *testing.T) {
	records := store.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()

	var dropped []string
	svc := NewService(records, dispatcher, testMessagingConfig(), zap.NewNop(), func(id string) {
		dropped = append(dropped, id)
	})

	var deletedEvents []events.Event
	dispatcher.Subscribe(events.EventAgentDeleted, func(_ context.Context, e events.Event) error {
		deletedEvents = append(deletedEvents, e)
		return nil
	})

	reg, err := svc.Register(context.Background(), RegistrationInput{Name: "Ali", Phone: "12345678"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.Delete(context.Background(), reg.Agent.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := records.Get(context.Background(), reg.Agent.ID); err != store.ErrNotFound {
		t.Errorf("record still present after delete: %v", err)
	}
	if len(dropped) != 1 || dropped[0] != reg.Agent.ID {
		t.Errorf("delete hooks ran with %v, want [%s]", dropped, reg.Agent.ID)
	}
	if len(deletedEvents) != 1 {
		t.Errorf("deleted events = %d, want 1", len(deletedEvents))
	}
}

func TestDeleteUnknownAgentIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), "missing")
	de := asDomainError(t, err)
	if de.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", de.Code)
	}
}
