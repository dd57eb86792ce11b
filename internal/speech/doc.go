// Package speech adapts the external speech recognition and translation
// capability. A Recognizer is a live streaming connection fixed to one
// source language and one set of target languages for its lifetime; it
// consumes raw PCM audio and emits recognition events asynchronously.
package speech
