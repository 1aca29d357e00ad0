package provider

import (
	"testing"
)

func TestInterpretSignals(t *testing.T) {
	cases := []struct {
		name    string
		message FeedMessage
		kind    SignalKind
	}{
		{
			name:    "queue congestion",
			message: FeedMessage{Content: "ref1 - Queue is full, your request will start soon"},
			kind:    SignalQueueCongestion,
		},
		{
			name:    "waiting to start",
			message: FeedMessage{Content: "ref1 (Waiting to start)"},
			kind:    SignalWaitingToStart,
		},
		{
			name:    "paused",
			message: FeedMessage{Content: "ref1 (Paused)"},
			kind:    SignalPaused,
		},
		{
			name:    "progress",
			message: FeedMessage{Content: "ref1 (40%)"},
			kind:    SignalProgress,
		},
		{
			name: "completed with attachment",
			message: FeedMessage{
				Content:     "ref1 - done",
				Attachments: []Attachment{{URL: "https://cdn/x.png", ContentType: "image/png"}},
			},
			kind: SignalCompleted,
		},
		{
			name: "completed with controls only",
			message: FeedMessage{
				Content:  "ref1 - pick a variant",
				Controls: []ActionControl{{Label: "U1"}},
			},
			kind: SignalCompleted,
		},
		{
			name: "in-progress attachment is not completed",
			message: FeedMessage{
				Content:     "ref1 (62%)",
				Attachments: []Attachment{{URL: "https://cdn/partial.png", ContentType: "image/png"}},
			},
			kind: SignalProgress,
		},
		{
			name:    "embedded error",
			message: FeedMessage{Content: "ref1 failed: internal error"},
			kind:    SignalError,
		},
		{
			name:    "plain chatter",
			message: FeedMessage{Content: "ref1 acknowledged"},
			kind:    SignalNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signal := Interpret(tc.message)
			if signal.Kind != tc.kind {
				t.Fatalf("kind = %d, want %d", signal.Kind, tc.kind)
			}
		})
	}
}

func TestInterpretProgressValue(t *testing.T) {
	signal := Interpret(FeedMessage{Content: "ref9 (73%)"})
	if signal.Kind != SignalProgress || signal.Progress != 73 {
		t.Fatalf("signal = %+v", signal)
	}
}

func TestMatchesToken(t *testing.T) {
	message := FeedMessage{Content: "a photo of soup ref1712000000000042 --v 6"}
	if !message.Matches("ref1712000000000042") {
		t.Fatal("token not matched")
	}
	if message.Matches("ref999") {
		t.Fatal("foreign token matched")
	}
	if message.Matches("") {
		t.Fatal("empty token matched")
	}
}

func TestImageAttachmentPrefersImages(t *testing.T) {
	message := FeedMessage{Attachments: []Attachment{
		{URL: "https://cdn/readme.txt", ContentType: "text/plain", Filename: "readme.txt"},
		{URL: "https://cdn/result.png", ContentType: "image/png", Filename: "result.png"},
	}}
	attachment, ok := ImageAttachment(message)
	if !ok || attachment.URL != "https://cdn/result.png" {
		t.Fatalf("attachment = %+v ok=%v", attachment, ok)
	}
}

func TestImageAttachmentFallsBackToAny(t *testing.T) {
	message := FeedMessage{Attachments: []Attachment{
		{URL: "https://cdn/blob", ContentType: "application/octet-stream", Filename: "blob"},
	}}
	attachment, ok := ImageAttachment(message)
	if !ok || attachment.URL != "https://cdn/blob" {
		t.Fatalf("attachment = %+v ok=%v", attachment, ok)
	}
	if _, ok := ImageAttachment(FeedMessage{}); ok {
		t.Fatal("empty message produced an attachment")
	}
}

func TestControlIndex(t *testing.T) {
	cases := []struct {
		name     string
		control  ActionControl
		position int
		want     int
	}{
		{name: "label ordinal", control: ActionControl{Label: "U2"}, position: 9, want: 1},
		{name: "custom id ordinal", control: ActionControl{Label: "Upscale", CustomID: "JOB::upsample::3::abc"}, position: 9, want: 2},
		{name: "positional fallback", control: ActionControl{Label: "Redo", CustomID: "JOB::reroll::all"}, position: 3, want: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ControlIndex(tc.control, tc.position); got != tc.want {
				t.Fatalf("index = %d, want %d", got, tc.want)
			}
		})
	}
}
