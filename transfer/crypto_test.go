package transfer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/gilburns/intuneomator/catalog"
)

// decryptPackage reverses the HMAC || IV || ciphertext layout.
func decryptPackage(t *testing.T, data []byte, info catalog.FileEncryptionInfo) []byte {
	t.Helper()
	b64 := func(s string) []byte {
		out, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}
	key := b64(info.EncryptionKey)
	macKey := b64(info.MacKey)

	mac := data[:sha256.Size]
	iv := data[sha256.Size : sha256.Size+aes.BlockSize]
	ct := data[sha256.Size+aes.BlockSize:]

	if string(iv) != string(b64(info.InitializationVector)) {
		t.Fatal("iv in file does not match encryption info")
	}

	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(ct)
	if !hmac.Equal(h.Sum(nil), mac) {
		t.Fatal("package hmac does not verify")
	}
	if string(mac) != string(b64(info.Mac)) {
		t.Fatal("mac in file does not match encryption info")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	// strip pkcs7 padding
	if len(pt) == 0 {
		t.Fatal("empty plaintext")
	}
	pad := int(pt[len(pt)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(pt) {
		t.Fatal("bad padding byte", pad)
	}
	return pt[:len(pt)-pad]
}

func TestEncryptFileRoundTrip(t *testing.T) {
	var sizeTests = []struct {
		name string
		size int
	}{
		{"small", 100},
		{"one block exactly", aes.BlockSize},
		{"chunk multiple", encryptChunk},
		{"spans chunks", encryptChunk + 12345},
		{"empty", 0},
	}

	for _, tt := range sizeTests {
		dir := t.TempDir()
		plaintext := bytes.Repeat([]byte{0xA5}, tt.size)
		src := filepath.Join(dir, "artifact.pkg")
		dst := filepath.Join(dir, "artifact.pkg.bin")
		if err := os.WriteFile(src, plaintext, 0644); err != nil {
			t.Fatal(err)
		}

		info, err := EncryptFile(src, dst)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}

		data, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		// ciphertext is always padded to a whole block
		wantLen := sha256.Size + aes.BlockSize + (tt.size/aes.BlockSize+1)*aes.BlockSize
		if len(data) != wantLen {
			t.Fatalf("%s: expected %d encrypted bytes, got %d", tt.name, wantLen, len(data))
		}

		got := decryptPackage(t, data, info)
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%s: decrypted plaintext differs", tt.name)
		}

		digest := sha256.Sum256(plaintext)
		if info.FileDigest != base64.StdEncoding.EncodeToString(digest[:]) {
			t.Fatalf("%s: file digest mismatch", tt.name)
		}
		if info.ProfileIdentifier != "ProfileVersion1" {
			t.Fatal("expected ProfileVersion1, got", info.ProfileIdentifier)
		}
		if info.FileDigestAlgorithm != "SHA256" {
			t.Fatal("expected SHA256, got", info.FileDigestAlgorithm)
		}
	}
}

func TestEncryptFileFreshMaterial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "artifact.pkg")
	if err := os.WriteFile(src, []byte("same input"), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := EncryptFile(src, filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptFile(src, filepath.Join(dir, "b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if a.EncryptionKey == b.EncryptionKey {
		t.Fatal("encryption key reused across runs")
	}
	if a.InitializationVector == b.InitializationVector {
		t.Fatal("iv reused across runs")
	}
	// the plaintext digest is the only stable field
	if a.FileDigest != b.FileDigest {
		t.Fatal("digest should be identical for identical input")
	}
}
