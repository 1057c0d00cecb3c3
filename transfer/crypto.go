// Package transfer encrypts built artifacts and moves them into Azure blob
// storage in fixed-size blocks, then drives the Intune commit and polling
// protocol to completion.
package transfer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/catalog"
)

const encryptChunk = 6 * 1024 * 1024

// EncryptFile encrypts src with a fresh AES-256-CBC key and writes the
// package HMAC || IV || ciphertext to dst. The HMAC-SHA256 covers IV || ciphertext;
// the returned encryption info additionally carries the SHA-256 digest of
// the plaintext so the service can verify integrity after decryption.
func EncryptFile(src, dst string) (catalog.FileEncryptionInfo, error) {
	var info catalog.FileEncryptionInfo

	key := make([]byte, 32)
	macKey := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	for _, b := range [][]byte{key, macKey, iv} {
		if _, err := rand.Read(b); err != nil {
			return info, errors.Wrap(err, "generate encryption material")
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return info, errors.Wrap(err, "open plaintext")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return info, errors.Wrap(err, "create encrypted file")
	}
	defer out.Close()

	// reserve space for the HMAC, then write the IV. the MAC is written
	// over the placeholder once the ciphertext is complete.
	if _, err := out.Write(make([]byte, sha256.Size)); err != nil {
		return info, errors.Wrap(err, "write mac placeholder")
	}
	if _, err := out.Write(iv); err != nil {
		return info, errors.Wrap(err, "write iv")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return info, errors.Wrap(err, "init cipher")
	}
	enc := cipher.NewCBCEncrypter(block, iv)
	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	digest := sha256.New()

	buf := make([]byte, encryptChunk)
	for {
		n, rerr := io.ReadFull(in, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return info, errors.Wrap(rerr, "read plaintext")
		}
		digest.Write(buf[:n])

		last := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		chunk := buf[:n]
		if last {
			chunk = pkcs7Pad(chunk, aes.BlockSize)
		}
		ct := make([]byte, len(chunk))
		enc.CryptBlocks(ct, chunk)
		mac.Write(ct)
		if _, err := out.Write(ct); err != nil {
			return info, errors.Wrap(err, "write ciphertext")
		}
		if last {
			break
		}
	}

	sum := mac.Sum(nil)
	if _, err := out.WriteAt(sum, 0); err != nil {
		return info, errors.Wrap(err, "write mac")
	}

	b64 := base64.StdEncoding.EncodeToString
	info = catalog.FileEncryptionInfo{
		EncryptionKey:        b64(key),
		MacKey:               b64(macKey),
		InitializationVector: b64(iv),
		Mac:                  b64(sum),
		ProfileIdentifier:    "ProfileVersion1",
		FileDigest:           b64(digest.Sum(nil)),
		FileDigestAlgorithm:  "SHA256",
	}
	return info, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}
