package readaloud

import (
	"regexp"
	"strings"
)

const (
	DefaultLinkPlaceholder    = "URL"
	DefaultEmojiPlaceholder   = "絵文字"
	DefaultMentionPlaceholder = "メンション"
	DefaultMaxLength          = 120

	// placeholders may not contain these. Every replacement then removes one
	// of them from the text, so repeated replacement reaches a fixed point.
	markupChars = "<>/"
)

var (
	linkPattern    = regexp.MustCompile(`https?://[^\s\p{Z}]+`)
	emojiPattern   = regexp.MustCompile(`<a?:\w+:\d+>`)
	mentionPattern = regexp.MustCompile(`<@!?\d+>`)
)

type NormalizerConfig struct {
	LinkPlaceholder    string
	EmojiPlaceholder   string
	MentionPlaceholder string
	MaxLength          int
}

// Normalizer turns raw chat text into text that is safe to hand to the
// synthesizer. It holds no state and is safe for concurrent use.
type Normalizer struct {
	link      string
	emoji     string
	mention   string
	maxLength int
}

// NewNormalizer fills unset fields with the defaults. Placeholders that are
// empty or contain markup characters (< > /) are replaced by the default.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	n := &Normalizer{
		link:      placeholder(cfg.LinkPlaceholder, DefaultLinkPlaceholder),
		emoji:     placeholder(cfg.EmojiPlaceholder, DefaultEmojiPlaceholder),
		mention:   placeholder(cfg.MentionPlaceholder, DefaultMentionPlaceholder),
		maxLength: cfg.MaxLength,
	}
	if n.maxLength <= 0 {
		n.maxLength = DefaultMaxLength
	}
	return n
}

// Normalize returns "" when nothing speakable is left.
func (n *Normalizer) Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	text := raw
	for {
		next := n.replaceMarkup(text)
		if next == text {
			break
		}
		text = next
	}

	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > n.maxLength {
		text = strings.TrimSpace(string(runes[:n.maxLength]))
	}
	return text
}

func (n *Normalizer) replaceMarkup(text string) string {
	text = linkPattern.ReplaceAllLiteralString(text, n.link)
	text = emojiPattern.ReplaceAllLiteralString(text, n.emoji)
	return mentionPattern.ReplaceAllLiteralString(text, n.mention)
}

func placeholder(value, fallback string) string {
	if value == "" || strings.ContainsAny(value, markupChars) {
		return fallback
	}
	return value
}
