// Package api implements the squeezewatch HTTP REST API.
//
// New(svc) returns an http.Handler that serves:
//
//	GET    /api/v1/health             engine status
//	GET    /api/v1/watchlist          watched tickers in insertion order
//	POST   /api/v1/watchlist          add {"ticker", "target_score"?, "price_target"?}
//	GET    /api/v1/watchlist/{ticker} one watched ticker; 404 if unknown
//	DELETE /api/v1/watchlist/{ticker} stop watching; history is kept
//	GET    /api/v1/alerts             alert history, oldest first
//	DELETE /api/v1/alerts             clear the alert history
//	GET    /api/v1/alerts/export      history as a CSV download
//	POST   /api/v1/sound              {"enabled": bool} mute or unmute audio
//
// JSON endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Mutations persist immediately; when the store is
// unavailable the change still applies and the response carries a warning.
package api
