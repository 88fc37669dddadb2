package slack

import "strings"

// emojiNames maps the unicode emoji the catalog uses to Slack short names.
var emojiNames = map[string]string{
	"👋":   "wave",
	"📋":   "clipboard",
	"🛒":   "shopping_trolley",
	"📥":   "inbox_tray",
	"✅":   "white_check_mark",
	"💳":   "credit_card",
	"💰":   "moneybag",
	"👨‍🍳": "male-cook",
	"🚚":   "truck",
	"📦":   "package",
	"🎉":   "tada",
	"❌":   "x",
	"🕐":   "clock1",
	"📍":   "round_pushpin",
	"🤝":   "handshake",
	"🙏":   "pray",
	"❤️":  "heart",
	"❤":   "heart",
	"⚠️":  "warning",
	"⚠":   "warning",
	"⏳":   "hourglass_flowing_sand",
	"🚨":   "rotating_light",
	"ℹ️":  "information_source",
	"ℹ":   "information_source",
	"📢":   "loudspeaker",
	"📊":   "bar_chart",
	"👀":   "eyes",
	"🤔":   "thinking_face",
	"👍":   "+1",
	"👑":   "crown",
	"⭐":   "star",
	"💎":   "gem",
	"🔥":   "fire",
	"🧠":   "brain",
	"💬":   "speech_balloon",
}

// EmojiName returns the Slack short name for emoji. Values already written
// as ":name:" or bare names pass through unchanged, so catalog overrides may
// use Slack custom emoji.
func EmojiName(emoji string) (string, bool) {
	if name, ok := emojiNames[emoji]; ok {
		return name, true
	}
	if strings.HasPrefix(emoji, ":") && strings.HasSuffix(emoji, ":") && len(emoji) > 2 {
		return strings.Trim(emoji, ":"), true
	}
	if isShortName(emoji) {
		return emoji, true
	}
	return "", false
}

func isShortName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '+':
		default:
			return false
		}
	}
	return true
}
