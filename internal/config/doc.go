// Package config loads the squeezewatch configuration from a YAML file.
//
// Config sections:
//   - Engine       tick interval, fan-out, cooldown, hysteresis band, history size
//   - MarketHours  operating window gate (timezone, weekdays, inclusive hour range)
//   - Score        score provider adapter (squeeze | prometheus | static)
//   - Storage      persistence backend (file | redis | memory)
//   - Notify       notification channels (banner, audio, desktop, webhooks, telegram, kafka, log)
//   - Watchlist    seed tickers added on startup and on hot reload
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change.
package config
