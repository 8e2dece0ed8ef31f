package bus

// InboundMessage represents a message received from a channel (CLI, cron, system).
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`    // file paths or URLs
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionKey returns the canonical session key for this message: {channel}:{chat_id}.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a message to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// Outbound metadata keys. Channels use these to decide whether to deliver
// intermediate output.
const (
	MetaProgress = "_progress"  // intermediate assistant text during a tool run
	MetaToolHint = "_tool_hint" // one-line tool invocation hint
)
