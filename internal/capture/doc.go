// Package capture turns a looping microphone buffer into fixed-size PCM16
// frames ready for the wire. The pipeline polls the ring the way a game
// engine polls its microphone clip: it tracks its own read position,
// handles wraparound, and drains every complete chunk that accumulated
// since the previous poll.
package capture
