package crypto

import (
	"crypto/aes"
	"errors"
	"fmt"
)

var (
	ErrKeySize   = errors.New("aes key must be 16 bytes")
	ErrBlockSize = errors.New("input is not a multiple of the aes block size")
)

// EncryptECB encrypts plaintext block by block under a 16 byte key. No
// padding is applied.
func EncryptECB(key, plaintext []byte) ([]byte, error) {
	return ecb(key, plaintext, true)
}

// DecryptECB is the inverse of EncryptECB.
func DecryptECB(key, ciphertext []byte) ([]byte, error) {
	return ecb(key, ciphertext, false)
}

func ecb(key, in []byte, encrypt bool) ([]byte, error) {
	if len(key) != DerivedKeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeySize, len(key))
	}
	if len(in)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(in))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(in))
	for off := 0; off < len(in); off += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[off:off+aes.BlockSize], in[off:off+aes.BlockSize])
		} else {
			block.Decrypt(out[off:off+aes.BlockSize], in[off:off+aes.BlockSize])
		}
	}
	return out, nil
}
