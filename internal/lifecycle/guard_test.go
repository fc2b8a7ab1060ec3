package lifecycle_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/lifecycle"
)

func TestCanTransition_Allowed(t *testing.T) {
	tests := []struct {
		name    string
		current domain.Status
		kind    domain.EventKind
		next    domain.Status
		notify  bool
		replay  bool
	}{
		{"create draft", domain.StatusDraft, domain.EventCreated, domain.StatusDraft, false, false},
		{"send draft", domain.StatusDraft, domain.EventSent, domain.StatusSent, false, false},
		{"resend sent", domain.StatusSent, domain.EventSent, domain.StatusSent, false, false},
		{"resend viewed keeps viewed", domain.StatusViewed, domain.EventSent, domain.StatusViewed, false, false},
		{"resend signed keeps signed", domain.StatusSigned, domain.EventSent, domain.StatusSigned, false, false},
		{"send failure on draft", domain.StatusDraft, domain.EventSendFailed, domain.StatusDraft, false, false},
		{"first open from sent", domain.StatusSent, domain.EventOpened, domain.StatusViewed, true, false},
		{"first open from draft", domain.StatusDraft, domain.EventOpened, domain.StatusViewed, true, false},
		{"repeat open", domain.StatusViewed, domain.EventOpened, domain.StatusViewed, false, false},
		{"open signed quote", domain.StatusSigned, domain.EventOpened, domain.StatusSigned, false, false},
		{"open declined quote", domain.StatusDeclined, domain.EventOpened, domain.StatusDeclined, false, false},
		{"sign viewed", domain.StatusViewed, domain.EventSigned, domain.StatusSigned, true, false},
		{"sign draft", domain.StatusDraft, domain.EventSigned, domain.StatusSigned, true, false},
		{"decline sent", domain.StatusSent, domain.EventDeclined, domain.StatusDeclined, true, false},
		{"resign signed", domain.StatusSigned, domain.EventSigned, domain.StatusSigned, false, true},
		{"redecline declined", domain.StatusDeclined, domain.EventDeclined, domain.StatusDeclined, false, true},
		{"unknown status treated as draft", domain.Status("archived"), domain.EventSent, domain.StatusSent, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := lifecycle.CanTransition(tt.current, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.next, d.Next)
			assert.Equal(t, tt.notify, d.Notify)
			assert.Equal(t, tt.replay, d.Replay)
			assert.Equal(t, tt.kind, d.Kind)
		})
	}
}

func TestCanTransition_Denied(t *testing.T) {
	tests := []struct {
		name     string
		current  domain.Status
		kind     domain.EventKind
		terminal bool
	}{
		{"decline signed", domain.StatusSigned, domain.EventDeclined, true},
		{"sign declined", domain.StatusDeclined, domain.EventSigned, true},
		{"create sent", domain.StatusSent, domain.EventCreated, false},
		{"create signed", domain.StatusSigned, domain.EventCreated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lifecycle.CanTransition(tt.current, tt.kind)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrTransitionDenied)
			assert.Equal(t, tt.terminal, errors.Is(err, domain.ErrAlreadyTerminal))

			var denied *domain.TransitionDeniedError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, tt.current, denied.Current)
			assert.Equal(t, tt.kind, denied.Requested)
			assert.NotEmpty(t, denied.UserMessage())
		})
	}
}

func TestCanTransition_InvalidKind(t *testing.T) {
	_, err := lifecycle.CanTransition(domain.StatusDraft, domain.EventKind("archived"))
	assert.ErrorIs(t, err, domain.ErrInvalidEventKind)
	assert.NotErrorIs(t, err, domain.ErrTransitionDenied)
}

func TestTransitionDeniedError_UserMessage(t *testing.T) {
	_, err := lifecycle.CanTransition(domain.StatusSigned, domain.EventDeclined)

	var denied *domain.TransitionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "This quote was already signed and cannot be modified.", denied.UserMessage())
}
