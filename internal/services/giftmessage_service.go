package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/clairmont-cellars/api/internal/domain"
	"github.com/clairmont-cellars/api/internal/repositories"
)

const giftMessageMaxLength = 250

var (
	// ErrGiftMessageInvalid indicates the message failed validation.
	ErrGiftMessageInvalid = errors.New("gift message: invalid input")
	// ErrGiftMessageRecipientRequired indicates the cart carries a gift card
	// and the recipient email is missing or malformed.
	ErrGiftMessageRecipientRequired = errors.New("gift message: recipient email required")
	// ErrGiftMessageNotConfirmed indicates removal was requested without the
	// explicit confirmation step.
	ErrGiftMessageNotConfirmed = errors.New("gift message: removal not confirmed")
)

// GiftMessageServiceDeps wires the dependencies of the gift message lifecycle.
type GiftMessageServiceDeps struct {
	Sessions repositories.SessionRepository
	KV       repositories.SessionKV
	Vault    cvvVault
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type giftMessageService struct {
	sessions  repositories.SessionRepository
	kv        repositories.SessionKV
	vault     cvvVault
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewGiftMessageService constructs a GiftMessageService validating required dependencies.
func NewGiftMessageService(deps GiftMessageServiceDeps) (GiftMessageService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("gift message service: session repository is required")
	}
	if deps.KV == nil {
		return nil, errors.New("gift message service: session kv store is required")
	}
	if deps.Vault == nil {
		return nil, errors.New("gift message service: cvv vault is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &giftMessageService{
		sessions:  deps.Sessions,
		kv:        deps.KV,
		vault:     deps.Vault,
		sanitizer: bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *giftMessageService) view(session CheckoutSession) SessionView {
	inputs := domain.TabInputs{
		HasIdentity: session.ShopperID != "" && !session.AccountDetails.Loading,
		HasCVV:      s.vault.Has(session.ID),
	}
	return SessionView{Session: session, Tabs: domain.DeriveTabs(session, inputs)}
}

func (s *giftMessageService) load(ctx context.Context, sessionID string) (CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CheckoutSession{}, ErrSessionInvalidInput
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, ErrSessionUnavailable
	}
	return session, nil
}

func (s *giftMessageService) save(ctx context.Context, session CheckoutSession, expected time.Time) error {
	session.UpdatedAt = s.now()
	err := s.sessions.Save(ctx, session, &expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrVersionConflict):
		return ErrSessionConflict
	case errors.Is(err, repositories.ErrSessionNotFound):
		return ErrSessionNotFound
	default:
		return ErrSessionUnavailable
	}
}

// Open starts an add (no committed message) or an edit (one exists).
func (s *giftMessageService) Open(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	session.IsAddingGiftMessage = true
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// Cancel closes the form. A committed message survives a cancelled edit.
func (s *giftMessageService) Cancel(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	loadedAt := session.UpdatedAt
	session.IsAddingGiftMessage = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}
	return s.view(session), nil
}

// Commit sanitizes, validates and persists the message both on the session
// and in the per-session store, so it survives a session rebuild until the
// order is placed.
func (s *giftMessageService) Commit(ctx context.Context, cmd CommitGiftMessageCommand) (SessionView, error) {
	message := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Message))
	if message == "" || utf8.RuneCountInString(message) > giftMessageMaxLength {
		return SessionView{}, ErrGiftMessageInvalid
	}

	recipient := strings.TrimSpace(cmd.RecipientEmail)
	if cmd.CartHasGiftCard {
		if recipient == "" || validate.Var(recipient, "email") != nil {
			return SessionView{}, ErrGiftMessageRecipientRequired
		}
	} else if recipient != "" && validate.Var(recipient, "email") != nil {
		return SessionView{}, ErrGiftMessageInvalid
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	gift := domain.GiftMessage{Message: message, RecipientEmail: recipient}
	encoded, err := json.Marshal(gift)
	if err != nil {
		return SessionView{}, ErrSessionUnavailable
	}
	if err := s.kv.Set(ctx, session.ID, kvKeyGiftMessage, string(encoded)); err != nil {
		return SessionView{}, ErrSessionUnavailable
	}

	loadedAt := session.UpdatedAt
	session.GiftMessage = &gift
	session.IsAddingGiftMessage = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.gift_message.committed", map[string]any{
		"session_id": session.ID,
		"length":     utf8.RuneCountInString(message),
	})
	return s.view(session), nil
}

// Remove discards the committed message. The confirmation flag is required
// so a stray click cannot drop a written message.
func (s *giftMessageService) Remove(ctx context.Context, cmd RemoveGiftMessageCommand) (SessionView, error) {
	if !cmd.Confirmed {
		return SessionView{}, ErrGiftMessageNotConfirmed
	}

	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	if err := s.kv.Delete(ctx, session.ID, kvKeyGiftMessage); err != nil {
		return SessionView{}, ErrSessionUnavailable
	}

	loadedAt := session.UpdatedAt
	session.GiftMessage = nil
	session.IsAddingGiftMessage = false
	if err := s.save(ctx, session, loadedAt); err != nil {
		return SessionView{}, err
	}

	s.logger(ctx, "checkout.gift_message.removed", map[string]any{"session_id": session.ID})
	return s.view(session), nil
}

// State derives the lifecycle phase. The durable store wins over the session
// copy when the session was rebuilt mid-checkout.
func (s *giftMessageService) State(ctx context.Context, sessionID string) (GiftMessageState, *GiftMessage, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}

	gift := session.GiftMessage
	if gift == nil {
		if raw, err := s.kv.Get(ctx, session.ID, kvKeyGiftMessage); err == nil {
			var stored domain.GiftMessage
			if json.Unmarshal([]byte(raw), &stored) == nil && stored.Message != "" {
				gift = &stored
			}
		} else if !errors.Is(err, repositories.ErrCacheMiss) {
			return "", nil, ErrSessionUnavailable
		}
	}

	switch {
	case gift == nil && !session.IsAddingGiftMessage:
		return domain.GiftMessageClosed, nil, nil
	case gift == nil:
		return domain.GiftMessageAdding, nil, nil
	case session.IsAddingGiftMessage:
		return domain.GiftMessageEditing, gift, nil
	default:
		return domain.GiftMessageCommitted, gift, nil
	}
}
