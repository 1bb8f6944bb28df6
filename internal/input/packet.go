// Package input encodes mouse and keyboard events into sealed packets for
// the host's input stream.
package input

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"moonlink/native/internal/domain"
)

// Packet types.
const (
	TypeMouseMove   byte = 0x01
	TypeMouseButton byte = 0x02
	TypeKeyboard    byte = 0x03
)

const (
	seqSize    = 8
	nonceSize  = 12
	headerSize = 1
)

var (
	ErrKey       = errors.New("input: invalid remote input key")
	ErrIV        = errors.New("input: invalid remote input iv")
	ErrMalformed = errors.New("input: malformed packet")
	ErrOpen      = errors.New("input: authentication failed")
)

// Event is a decoded plaintext input event.
type Event struct {
	Type      byte
	DX, DY    int16
	Action    byte
	Button    domain.MouseButton
	KeyCode   int16
	Modifiers byte
}

// MouseMove encodes a relative mouse motion.
func MouseMove(dx, dy int16) []byte {
	b := make([]byte, headerSize+4)
	b[0] = TypeMouseMove
	binary.BigEndian.PutUint16(b[1:], uint16(dx))
	binary.BigEndian.PutUint16(b[3:], uint16(dy))
	return b
}

// MouseButton encodes a button press or release.
func MouseButton(action domain.ButtonAction, button domain.MouseButton) []byte {
	return []byte{TypeMouseButton, byte(action), byte(button)}
}

// Keyboard encodes a key event. Key codes are little-endian on the wire.
func Keyboard(keyCode int16, action domain.KeyAction, modifiers byte) []byte {
	b := make([]byte, headerSize+4)
	b[0] = TypeKeyboard
	b[1] = byte(action)
	binary.LittleEndian.PutUint16(b[2:], uint16(keyCode))
	b[4] = modifiers
	return b
}

// Parse decodes a plaintext event.
func Parse(b []byte) (Event, error) {
	if len(b) < headerSize {
		return Event{}, ErrMalformed
	}
	ev := Event{Type: b[0]}
	switch b[0] {
	case TypeMouseMove:
		if len(b) != 5 {
			return Event{}, fmt.Errorf("%w: mouse move length %d", ErrMalformed, len(b))
		}
		ev.DX = int16(binary.BigEndian.Uint16(b[1:]))
		ev.DY = int16(binary.BigEndian.Uint16(b[3:]))
	case TypeMouseButton:
		if len(b) != 3 {
			return Event{}, fmt.Errorf("%w: mouse button length %d", ErrMalformed, len(b))
		}
		ev.Action = b[1]
		ev.Button = domain.MouseButton(b[2])
	case TypeKeyboard:
		if len(b) != 5 {
			return Event{}, fmt.Errorf("%w: keyboard length %d", ErrMalformed, len(b))
		}
		ev.Action = b[1]
		ev.KeyCode = int16(binary.LittleEndian.Uint16(b[2:]))
		ev.Modifiers = b[4]
	default:
		return Event{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformed, b[0])
	}
	return ev, nil
}

// Sealer encrypts plaintext events with AES-128-GCM under the remote
// input key. Each packet is seq(8, big-endian) followed by the ciphertext
// and tag; the nonce is iv[0:4] followed by seq.
type Sealer struct {
	aead   cipher.AEAD
	prefix [4]byte

	mu  sync.Mutex
	seq uint64
}

// NewSealer builds a sealer from the remote input key and iv.
func NewSealer(key, iv []byte) (*Sealer, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(iv) < domain.MinRemoteInputIVLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrIV, len(iv))
	}
	s := &Sealer{aead: aead}
	copy(s.prefix[:], iv)
	return s, nil
}

// Seal encrypts one event. Sequence numbers start at zero and increase by
// one per packet.
func (s *Sealer) Seal(plaintext []byte) []byte {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	out := make([]byte, seqSize, seqSize+len(plaintext)+s.aead.Overhead())
	binary.BigEndian.PutUint64(out, seq)
	nonce := makeNonce(s.prefix, seq)
	return s.aead.Seal(out, nonce[:], plaintext, nil)
}

// Opener reverses Sealer. It rejects replayed or reordered sequence numbers.
type Opener struct {
	aead   cipher.AEAD
	prefix [4]byte
	next   uint64
}

// NewOpener builds an opener from the same key and iv as the sealer.
func NewOpener(key, iv []byte) (*Opener, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(iv) < domain.MinRemoteInputIVLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrIV, len(iv))
	}
	o := &Opener{aead: aead}
	copy(o.prefix[:], iv)
	return o, nil
}

// Open authenticates and decrypts one packet.
func (o *Opener) Open(packet []byte) ([]byte, error) {
	if len(packet) < seqSize+o.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(packet))
	}
	seq := binary.BigEndian.Uint64(packet)
	if seq < o.next {
		return nil, fmt.Errorf("%w: stale sequence %d", ErrOpen, seq)
	}
	nonce := makeNonce(o.prefix, seq)
	pt, err := o.aead.Open(nil, nonce[:], packet[seqSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	o.next = seq + 1
	return pt, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != domain.RemoteInputKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKey, err)
	}
	return cipher.NewGCM(block)
}

func makeNonce(prefix [4]byte, seq uint64) [nonceSize]byte {
	var n [nonceSize]byte
	copy(n[:4], prefix[:])
	binary.BigEndian.PutUint64(n[4:], seq)
	return n
}
