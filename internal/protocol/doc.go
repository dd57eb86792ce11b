// Package protocol implements the binary audio datagram format. Each UDP
// datagram carries one PCM16 frame together with the speaker id and a
// sequence number; language preferences travel over the control channel,
// not here.
package protocol
