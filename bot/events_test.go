package bot

import (
	"encoding/json"
	"testing"
)

func envelopeWith(t *testing.T, payload map[string]any) SocketEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return SocketEnvelope{EnvelopeID: "env-1", Type: "events_api", Payload: raw}
}

func messagePayload(overrides map[string]any) map[string]any {
	event := map[string]any{
		"type":         "message",
		"user":         "U123",
		"text":         "Jenny needs to finish the report by Friday",
		"channel":      "C001",
		"channel_type": "channel",
		"ts":           "1700000000.000100",
	}
	for k, v := range overrides {
		event[k] = v
	}
	return map[string]any{
		"team_id":    "T1",
		"event_id":   "Ev1",
		"event_time": int64(1700000000),
		"event":      event,
	}
}

func TestParseEnvelopeMessage(t *testing.T) {
	t.Parallel()

	out, ok, err := ParseEnvelope(envelopeWith(t, messagePayload(nil)), "UBOT")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	msg := out.Message
	if msg == nil {
		t.Fatal("expected a message event")
	}
	if msg.TeamID != "T1" || msg.ChannelID != "C001" || msg.UserID != "U123" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.MessageTS != "1700000000.000100" || msg.ChatType != "channel" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SentAt.Unix() != 1700000000 {
		t.Fatalf("sent_at = %v", msg.SentAt)
	}
}

func TestParseEnvelopeAppMention(t *testing.T) {
	t.Parallel()

	out, ok, err := ParseEnvelope(envelopeWith(t, messagePayload(map[string]any{"type": "app_mention"})), "UBOT")
	if err != nil || !ok || out.Message == nil {
		t.Fatalf("ok=%v err=%v out=%+v", ok, err, out)
	}
}

func TestParseEnvelopeFiltersMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		overrides map[string]any
	}{
		{"subtype", map[string]any{"subtype": "message_changed"}},
		{"bot message", map[string]any{"bot_id": "B001"}},
		{"self message", map[string]any{"user": "UBOT"}},
		{"empty text", map[string]any{"text": "   "}},
		{"missing user", map[string]any{"user": ""}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, ok, err := ParseEnvelope(envelopeWith(t, messagePayload(tc.overrides)), "UBOT")
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if ok || out.Message != nil {
				t.Fatalf("expected event to be dropped, got %+v", out)
			}
		})
	}
}

func TestParseEnvelopeMissingTeamIsError(t *testing.T) {
	t.Parallel()

	payload := messagePayload(nil)
	delete(payload, "team_id")
	_, _, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err == nil {
		t.Fatal("expected an error for a message without a team id")
	}
}

func TestParseEnvelopeTeamFromAuthorizations(t *testing.T) {
	t.Parallel()

	payload := messagePayload(nil)
	delete(payload, "team_id")
	payload["authorizations"] = []map[string]any{{"team_id": "T9", "user_id": "UBOT", "is_bot": true}}
	out, ok, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err != nil || !ok || out.Message == nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if out.Message.TeamID != "T9" {
		t.Fatalf("team = %s, want T9", out.Message.TeamID)
	}
}

func TestParseEnvelopeReaction(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"team_id": "T1",
		"event": map[string]any{
			"type":      "reaction_added",
			"user":      "U456",
			"reaction":  "white_check_mark",
			"item_user": "UBOT",
			"item": map[string]any{
				"type":    "message",
				"channel": "C001",
				"ts":      "1700000000.000200",
			},
		},
	}
	out, ok, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	r := out.Reaction
	if r == nil {
		t.Fatal("expected a reaction event")
	}
	if r.Reaction != "white_check_mark" || r.ChannelID != "C001" || r.ItemTS != "1700000000.000200" {
		t.Fatalf("unexpected reaction: %+v", r)
	}
	if r.ItemUserID != "UBOT" {
		t.Fatalf("item user = %s", r.ItemUserID)
	}
}

func TestParseEnvelopeReactionOnNonMessageDropped(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"team_id": "T1",
		"event": map[string]any{
			"type":     "reaction_added",
			"user":     "U456",
			"reaction": "white_check_mark",
			"item": map[string]any{
				"type": "file",
				"file": "F001",
			},
		},
	}
	_, ok, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestParseEnvelopeSelfReactionDropped(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"team_id": "T1",
		"event": map[string]any{
			"type":     "reaction_added",
			"user":     "UBOT",
			"reaction": "white_check_mark",
			"item": map[string]any{
				"type":    "message",
				"channel": "C001",
				"ts":      "1700000000.000200",
			},
		},
	}
	_, ok, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestParseEnvelopeMemberJoined(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"team_id": "T1",
		"event": map[string]any{
			"type":    "member_joined_channel",
			"user":    "UBOT",
			"channel": "C001",
		},
	}
	out, ok, err := ParseEnvelope(envelopeWith(t, payload), "UBOT")
	if err != nil || !ok || out.MemberJoined == nil {
		t.Fatalf("ok=%v err=%v out=%+v", ok, err, out)
	}
	if out.MemberJoined.UserID != "UBOT" || out.MemberJoined.ChannelID != "C001" {
		t.Fatalf("unexpected event: %+v", out.MemberJoined)
	}
}

func TestParseEnvelopeIgnoresNonEventTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"hello", "disconnect", ""} {
		_, ok, err := ParseEnvelope(SocketEnvelope{Type: typ}, "UBOT")
		if err != nil || ok {
			t.Fatalf("type %q: ok=%v err=%v", typ, ok, err)
		}
	}
}

func TestNormalizeChatType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		channelType string
		channelID   string
		want        string
	}{
		{"im", "D001", "im"},
		{"channel", "C001", "channel"},
		{"", "D001", "im"},
		{"", "C001", "channel"},
		{"", "G001", "private_channel"},
	}
	for _, tc := range cases {
		if got := normalizeChatType(tc.channelType, tc.channelID); got != tc.want {
			t.Errorf("normalizeChatType(%q, %q) = %q, want %q", tc.channelType, tc.channelID, got, tc.want)
		}
	}
}
