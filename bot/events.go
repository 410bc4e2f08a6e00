package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type SocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type eventsAPIPayload struct {
	TeamID         string               `json:"team_id,omitempty"`
	EventID        string               `json:"event_id,omitempty"`
	EventTime      int64                `json:"event_time,omitempty"`
	Event          json.RawMessage      `json:"event,omitempty"`
	Authorizations []eventAuthorization `json:"authorizations,omitempty"`
}

type eventAuthorization struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

type rawEvent struct {
	Type        string          `json:"type,omitempty"`
	Subtype     string          `json:"subtype,omitempty"`
	User        string          `json:"user,omitempty"`
	Text        string          `json:"text,omitempty"`
	Channel     string          `json:"channel,omitempty"`
	ChannelType string          `json:"channel_type,omitempty"`
	TS          string          `json:"ts,omitempty"`
	ThreadTS    string          `json:"thread_ts,omitempty"`
	BotID       string          `json:"bot_id,omitempty"`
	Team        string          `json:"team,omitempty"`
	EventTS     string          `json:"event_ts,omitempty"`
	Reaction    string          `json:"reaction,omitempty"`
	Item        json.RawMessage `json:"item,omitempty"`
	ItemUser    string          `json:"item_user,omitempty"`
}

type reactionItem struct {
	Type    string `json:"type,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// MessageEvent is an inbound user message worth looking at for tasks.
type MessageEvent struct {
	TeamID    string
	ChannelID string
	ChatType  string
	MessageTS string
	ThreadTS  string
	UserID    string
	Text      string
	EventID   string
	SentAt    time.Time
}

// ReactionEvent is an emoji reaction on some message.
type ReactionEvent struct {
	TeamID    string
	ChannelID string
	UserID    string
	Reaction  string
	ItemTS    string
	// ItemUserID is the author of the message reacted to.
	ItemUserID string
}

// MemberJoinedEvent fires when someone (possibly the bot) joins a channel.
type MemberJoinedEvent struct {
	TeamID    string
	ChannelID string
	UserID    string
}

// InboundEvent holds whichever event kind the envelope carried. At most one
// field is set.
type InboundEvent struct {
	Message      *MessageEvent
	Reaction     *ReactionEvent
	MemberJoined *MemberJoinedEvent
}

// ParseEnvelope filters a Socket Mode envelope down to the events the bot
// acts on. Bot messages, subtyped messages, and the bot's own activity are
// dropped.
func ParseEnvelope(envelope SocketEnvelope, botUserID string) (InboundEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return InboundEvent{}, false, nil
	}
	var payload eventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return InboundEvent{}, false, err
	}
	var event rawEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return InboundEvent{}, false, err
	}

	botUserID = strings.TrimSpace(botUserID)
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}
	if teamID == "" && len(payload.Authorizations) > 0 {
		teamID = strings.TrimSpace(payload.Authorizations[0].TeamID)
	}

	switch strings.TrimSpace(event.Type) {
	case "message", "app_mention":
		return parseMessage(payload, event, teamID, botUserID)
	case "reaction_added":
		return parseReaction(event, teamID, botUserID)
	case "member_joined_channel":
		userID := strings.TrimSpace(event.User)
		channelID := strings.TrimSpace(event.Channel)
		if userID == "" || channelID == "" {
			return InboundEvent{}, false, nil
		}
		return InboundEvent{MemberJoined: &MemberJoinedEvent{
			TeamID:    teamID,
			ChannelID: channelID,
			UserID:    userID,
		}}, true, nil
	default:
		return InboundEvent{}, false, nil
	}
}

func parseMessage(payload eventsAPIPayload, event rawEvent, teamID, botUserID string) (InboundEvent, bool, error) {
	if strings.TrimSpace(event.Subtype) != "" {
		return InboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return InboundEvent{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == botUserID {
		return InboundEvent{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	messageTS := strings.TrimSpace(event.TS)
	text := strings.TrimSpace(event.Text)
	if channelID == "" || messageTS == "" || text == "" {
		return InboundEvent{}, false, nil
	}
	if teamID == "" {
		return InboundEvent{}, false, fmt.Errorf("missing team_id in slack event")
	}

	sentAt := time.Now().UTC()
	if payload.EventTime > 0 {
		sentAt = time.Unix(payload.EventTime, 0).UTC()
	}
	return InboundEvent{Message: &MessageEvent{
		TeamID:    teamID,
		ChannelID: channelID,
		ChatType:  normalizeChatType(event.ChannelType, channelID),
		MessageTS: messageTS,
		ThreadTS:  strings.TrimSpace(event.ThreadTS),
		UserID:    userID,
		Text:      text,
		EventID:   strings.TrimSpace(payload.EventID),
		SentAt:    sentAt,
	}}, true, nil
}

func parseReaction(event rawEvent, teamID, botUserID string) (InboundEvent, bool, error) {
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == botUserID {
		return InboundEvent{}, false, nil
	}
	reaction := strings.TrimSpace(event.Reaction)
	if reaction == "" || len(event.Item) == 0 {
		return InboundEvent{}, false, nil
	}
	var item reactionItem
	if err := json.Unmarshal(event.Item, &item); err != nil {
		return InboundEvent{}, false, err
	}
	if strings.TrimSpace(item.Type) != "message" {
		return InboundEvent{}, false, nil
	}
	channelID := strings.TrimSpace(item.Channel)
	itemTS := strings.TrimSpace(item.TS)
	if channelID == "" || itemTS == "" {
		return InboundEvent{}, false, nil
	}
	return InboundEvent{Reaction: &ReactionEvent{
		TeamID:     teamID,
		ChannelID:  channelID,
		UserID:     userID,
		Reaction:   reaction,
		ItemTS:     itemTS,
		ItemUserID: strings.TrimSpace(event.ItemUser),
	}}, true, nil
}

func normalizeChatType(channelType, channelID string) string {
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	switch channelType {
	case "im", "mpim", "channel", "private_channel":
		return channelType
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return "im"
	case strings.HasPrefix(channelID, "C"):
		return "channel"
	case strings.HasPrefix(channelID, "G"):
		return "private_channel"
	default:
		return "channel"
	}
}

// ConsumeSocket reads envelopes until the connection drops, acking each one
// before handing it to onEnvelope.
func ConsumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope SocketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope SocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}
