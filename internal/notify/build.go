package notify

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/squeezewatch/squeezewatch/internal/config"
)

// Defaults for the audio channel.
const (
	DefaultPlayer   = "aplay"
	DefaultSoundDir = "sounds"
)

// BuildChannels constructs channels from config. banner is the in-process
// banner channel (the WebSocket hub); it is required only if a banner channel
// is configured. Webhook and telegram channels whose secret is missing from
// the environment are skipped with a warning.
func BuildChannels(cfgs []config.ChannelConfig, banner Channel, client *http.Client) ([]Channel, error) {
	var out []Channel
	for _, c := range cfgs {
		name := c.ChannelName()
		if !c.IsEnabled() && c.Type != "audio" {
			slog.Info("notify: channel disabled", "channel", name)
			continue
		}

		switch c.Type {
		case "banner":
			if banner == nil {
				return nil, fmt.Errorf("notify: banner channel configured but no hub available")
			}
			out = append(out, banner)

		case "audio":
			player, dir := c.Player, c.SoundDir
			if player == "" {
				player = DefaultPlayer
			}
			if dir == "" {
				dir = DefaultSoundDir
			}
			out = append(out, NewAudio(name, player, dir, c.IsEnabled()))

		case "desktop":
			cmd := c.Command
			if cmd == "" {
				cmd = config.DefaultDesktopCommand
			}
			out = append(out, NewDesktop(name, cmd))

		case "slack", "teams", "http":
			url := c.URL()
			if url == "" {
				slog.Warn("notify: webhook url not set, skipping channel", "channel", name, "env", c.URLEnv)
				continue
			}
			wh, err := NewWebhook(name, c.Type, url, client)
			if err != nil {
				return nil, err
			}
			out = append(out, wh)

		case "telegram":
			token := c.Token()
			if token == "" {
				slog.Warn("notify: telegram token not set, skipping channel", "channel", name, "env", c.TokenEnv)
				continue
			}
			out = append(out, NewTelegram(name, token, c.ChatID, client, ""))

		case "kafka":
			if len(c.Brokers) == 0 || c.Topic == "" {
				return nil, fmt.Errorf("notify: kafka channel %q needs brokers and topic", name)
			}
			out = append(out, NewKafka(name, c.Brokers, c.Topic))

		case "log":
			out = append(out, NewLog(name))

		default:
			return nil, fmt.Errorf("notify: unknown channel type %q", c.Type)
		}
	}
	return out, nil
}
