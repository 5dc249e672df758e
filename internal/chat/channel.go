// Package chat implements the per-session chat channel.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

// DefaultMaxTextLength bounds message text in runes.
const DefaultMaxTextLength = 2000

// DefaultHostName is used for host messages when the session has no host name.
const DefaultHostName = "Host"

// Broadcaster publishes session events and opens feed subscriptions.
type Broadcaster interface {
	Publish(ev realtime.Event)
	Subscribe(sessionID string, streams ...realtime.Stream) *realtime.Subscription
}

// Append adds a message to s with the next id. Timestamps never go backwards
// within a session.
func Append(s *models.LiveSession, sender, senderID, text string, kind models.MessageKind, now time.Time) models.ChatMessage {
	ts := now.UTC()
	if n := len(s.Messages); n > 0 && ts.Before(s.Messages[n-1].Timestamp) {
		ts = s.Messages[n-1].Timestamp
	}
	s.LastMessageID++
	msg := models.ChatMessage{
		ID:        s.LastMessageID,
		Sender:    sender,
		SenderID:  senderID,
		Text:      text,
		Timestamp: ts,
		Kind:      kind,
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// AppendSystem adds a system notice to s.
func AppendSystem(s *models.LiveSession, text string, now time.Time) models.ChatMessage {
	return Append(s, models.SystemSender, "", text, models.MessageSystem, now)
}

// PublishMessages sends committed messages to chat subscribers, in id order.
func PublishMessages(pub Broadcaster, logger *zap.Logger, sessionID string, msgs ...models.ChatMessage) {
	for _, m := range msgs {
		telemetry.MessagePosted(string(m.Kind))
		if pub == nil {
			continue
		}
		ev, err := realtime.NewEvent(sessionID, realtime.StreamChat, m.ID, realtime.EventChatMessage, m)
		if err != nil {
			logger.Error("chat event", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		pub.Publish(ev)
	}
}

// Channel appends and serves chat messages.
type Channel struct {
	store  store.Store
	pub    Broadcaster
	logger *zap.Logger
	maxLen int
	now    func() time.Time
}

// NewChannel creates a chat channel. maxLen <= 0 uses DefaultMaxTextLength.
func NewChannel(st store.Store, pub Broadcaster, maxLen int, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	return &Channel{store: st, pub: pub, logger: logger, maxLen: maxLen, now: time.Now}
}

// SetClock overrides the time source.
func (c *Channel) SetClock(now func() time.Time) { c.now = now }

func (c *Channel) cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("message text is required")
	}
	if !utf8.ValidString(text) {
		return "", apperr.Validation("message text must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > c.maxLen {
		return "", apperr.Validation("message text exceeds %d characters", c.maxLen)
	}
	return text, nil
}

// Post appends a message from an arbitrary sender.
func (c *Channel) Post(ctx context.Context, sessionID, sender, text string, kind models.MessageKind) (*models.ChatMessage, error) {
	if !kind.Valid() {
		return nil, apperr.Validation("unknown message kind %q", kind)
	}
	text, err := c.cleanText(text)
	if err != nil {
		return nil, err
	}
	sender = strings.TrimSpace(sender)
	if kind == models.MessageSystem {
		sender = models.SystemSender
	}
	if sender == "" {
		return nil, apperr.Validation("sender is required")
	}
	return c.commit(ctx, sessionID, func(s *models.LiveSession) (models.ChatMessage, error) {
		return Append(s, sender, "", text, kind, c.now()), nil
	})
}

// PostAsViewer appends a message from a present viewer under the viewer's name.
func (c *Channel) PostAsViewer(ctx context.Context, sessionID, viewerID, text string) (*models.ChatMessage, error) {
	text, err := c.cleanText(text)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, sessionID, func(s *models.LiveSession) (models.ChatMessage, error) {
		i := s.FindViewer(viewerID)
		if i < 0 {
			return models.ChatMessage{}, apperr.NotFound("viewer %s is not in session %s", viewerID, sessionID)
		}
		v := s.Viewers[i]
		return Append(s, v.Name, v.ID, text, models.MessageViewer, c.now()), nil
	})
}

// PostAsHost appends a message from the session host.
func (c *Channel) PostAsHost(ctx context.Context, sessionID, hostID, text string) (*models.ChatMessage, error) {
	text, err := c.cleanText(text)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, sessionID, func(s *models.LiveSession) (models.ChatMessage, error) {
		if s.HostID != hostID {
			return models.ChatMessage{}, apperr.Unauthorized("only the host can post as host")
		}
		name := s.HostName
		if name == "" {
			name = DefaultHostName
		}
		return Append(s, name, s.HostID, text, models.MessageHost, c.now()), nil
	})
}

// Moderate appends a system notice retracting messageID. History is never rewritten.
func (c *Channel) Moderate(ctx context.Context, sessionID, hostID string, messageID int64, reason string) (*models.ChatMessage, error) {
	reason = strings.TrimSpace(reason)
	return c.commit(ctx, sessionID, func(s *models.LiveSession) (models.ChatMessage, error) {
		if s.HostID != hostID {
			return models.ChatMessage{}, apperr.Unauthorized("only the host can moderate chat")
		}
		if messageID <= 0 || messageID > s.LastMessageID {
			return models.ChatMessage{}, apperr.NotFound("message %d not found", messageID)
		}
		text := "A message was removed by the host"
		if reason != "" {
			text += ": " + reason
		}
		msg := AppendSystem(s, text, c.now())
		ref := messageID
		msg.RefID = &ref
		s.Messages[len(s.Messages)-1].RefID = &ref
		return msg, nil
	})
}

func (c *Channel) commit(ctx context.Context, sessionID string, fn func(*models.LiveSession) (models.ChatMessage, error)) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	_, err := c.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		if s.IsEnded() {
			return apperr.Ended(sessionID)
		}
		var err error
		msg, err = fn(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	PublishMessages(c.pub, c.logger, sessionID, msg)
	return &msg, nil
}

// History returns the session's messages in id order. Ended sessions keep their history.
func (c *Channel) History(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFound("session %s not found", sessionID)
	}
	return s.Messages, nil
}

// Subscribe returns the current history and a subscription delivering every
// later message exactly once, in order. The caller must Close the subscription.
func (c *Channel) Subscribe(ctx context.Context, sessionID string) ([]models.ChatMessage, *realtime.Subscription, error) {
	sub := c.pub.Subscribe(sessionID, realtime.StreamChat)
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	if s == nil {
		sub.Close()
		return nil, nil, apperr.NotFound("session %s not found", sessionID)
	}
	sub.Prime(realtime.StreamChat, s.LastMessageID)
	return s.Messages, sub, nil
}
