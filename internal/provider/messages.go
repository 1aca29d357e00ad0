package provider

import (
	"regexp"
	"strconv"
	"strings"
)

type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// ActionControl is a selectable affordance attached to a result message,
// one per generated variant.
type ActionControl struct {
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
}

type FeedMessage struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments"`
	Controls    []ActionControl `json:"components"`
}

type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalQueueCongestion
	SignalWaitingToStart
	SignalPaused
	SignalProgress
	SignalCompleted
	SignalError
)

// Signal is the interpretation of one correlated feed message.
type Signal struct {
	Kind SignalKind
	// Progress holds the percentage for SignalProgress.
	Progress int
	// ErrorText holds the embedded failure text for SignalError.
	ErrorText string
}

var (
	progressPattern = regexp.MustCompile(`\((\d{1,3})%\)`)
	ordinalPattern  = regexp.MustCompile(`(\d+)`)
)

// Matches reports whether the message belongs to the request carrying token.
func (m *FeedMessage) Matches(token string) bool {
	return token != "" && strings.Contains(m.Content, token)
}

// Interpret classifies a correlated feed message. Waiting/paused/progress
// states take priority over the completion heuristic: a message that still
// reports progress is not complete even when an attachment is present.
func Interpret(message FeedMessage) Signal {
	content := strings.ToLower(message.Content)

	switch {
	case strings.Contains(content, "queue is full"),
		strings.Contains(content, "queued"),
		strings.Contains(content, "waiting in queue"):
		return Signal{Kind: SignalQueueCongestion}
	case strings.Contains(content, "waiting to start"):
		return Signal{Kind: SignalWaitingToStart}
	case strings.Contains(content, "paused"):
		return Signal{Kind: SignalPaused}
	}

	if match := progressPattern.FindStringSubmatch(message.Content); match != nil {
		percent, err := strconv.Atoi(match[1])
		if err == nil && percent >= 0 && percent <= 100 {
			if percent == 100 && hasResult(message) {
				return Signal{Kind: SignalCompleted}
			}
			return Signal{Kind: SignalProgress, Progress: percent}
		}
	}

	for _, marker := range []string{"error", "failed", "invalid", "rejected", "blocked", "banned"} {
		if strings.Contains(content, marker) {
			return Signal{Kind: SignalError, ErrorText: message.Content}
		}
	}

	if hasResult(message) {
		return Signal{Kind: SignalCompleted}
	}
	return Signal{Kind: SignalNone}
}

// hasResult reports whether a message carries a downloadable asset or
// selectable action controls.
func hasResult(message FeedMessage) bool {
	return len(message.Attachments) > 0 || len(message.Controls) > 0
}

// ImageAttachment returns the first image-bearing attachment, or a fallback
// to the first attachment of any type when no explicit image is present.
func ImageAttachment(message FeedMessage) (Attachment, bool) {
	for _, attachment := range message.Attachments {
		if strings.HasPrefix(attachment.ContentType, "image/") || looksLikeImage(attachment.Filename) {
			return attachment, true
		}
	}
	if len(message.Attachments) > 0 {
		return message.Attachments[0], true
	}
	return Attachment{}, false
}

func looksLikeImage(filename string) bool {
	lowered := strings.ToLower(filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// ControlIndex extracts a stable 0-based variant index for an action
// control: a label-embedded ordinal first ("U2" → 1), then an ordinal
// parsed out of the internal identifier, then the positional index.
func ControlIndex(control ActionControl, position int) int {
	if match := ordinalPattern.FindStringSubmatch(control.Label); match != nil {
		if ordinal, err := strconv.Atoi(match[1]); err == nil && ordinal > 0 {
			return ordinal - 1
		}
	}
	if match := ordinalPattern.FindStringSubmatch(control.CustomID); match != nil {
		if ordinal, err := strconv.Atoi(match[1]); err == nil && ordinal > 0 {
			return ordinal - 1
		}
	}
	return position
}
