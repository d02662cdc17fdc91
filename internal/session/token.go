// Package session mints rendezvous tokens and renders them as URLs and QR
// codes for the capture device to load.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// tokenBytes is the entropy of a session ID. 16 bytes = 128 bits, comfortably
// above the 122-bit guessing-resistance floor.
const tokenBytes = 16

// NewToken returns a fresh unguessable session ID (base64url, no padding).
func NewToken() string {
	b := make([]byte, tokenBytes)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// RendezvousURL builds the URL the capture device loads to join a session.
func RendezvousURL(clientOrigin, sessionID string) string {
	return fmt.Sprintf("%s/scan/%s", strings.TrimRight(clientOrigin, "/"), sessionID)
}

// QRPNG encodes the rendezvous URL as a PNG QR code.
func QRPNG(clientOrigin, sessionID string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(RendezvousURL(clientOrigin, sessionID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// QRTerminal renders the rendezvous QR as a terminal string (for the desktop
// CLI).
func QRTerminal(clientOrigin, sessionID string) (string, error) {
	qr, err := qrcode.New(RendezvousURL(clientOrigin, sessionID), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return qr.ToSmallString(false), nil
}
