// Package subtitle routes recognized speech to listeners as captions and
// renders them on registered displays. The router picks, per listener, the
// translation matching that listener's target language and falls back to
// the recognized text when no matching translation arrived.
package subtitle
