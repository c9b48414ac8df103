// Package sight holds the shared vocabulary of the vai-sight live perception client.
//
// vai-sight streams a camera and microphone into a hosted multimodal model over a
// live session, plays the model's speech back without gaps, and derives a coarse
// perception hint (scanning, locking, guiding) from the model's own transcript.
//
// # Packages
//
//   - codec: PCM16 <-> base64 transport and PCM16 -> playable float buffers
//   - capture: microphone and camera acquisition plus the realtime producers
//   - playback: gapless scheduler against an output device clock
//   - speaker: output devices (oto speaker, silent wall-clock device)
//   - channel: the live session contract, with gemini (SDK) and wire (raw websocket) transports
//   - perception: keyword rule table mapping transcript text to a perception state
//   - transcript: per-turn accumulation and bounded history
//   - session: the lifecycle controller that owns the single live session
//   - statusfeed: local HTTP/websocket state feed for a UI
//
// # Data Flow
//
//	mic/camera → codec → channel (out) → model → channel (in)
//	                                               │
//	                     playback ← audio ─────────┤
//	         transcript + perception ← text ───────┘
package sight
