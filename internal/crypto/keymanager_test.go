package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fileBytes, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(fileBytes, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("decrypted key = %s, want %s", got, testKeyHex)
	}
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	fileBytes, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(fileBytes, "*******"); err == nil {
		t.Fatal("DecryptKey accepted the wrong password")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Fatal("EncryptKey accepted an empty password")
	}
	if _, err := EncryptKey("zz", "hunter2"); err == nil {
		t.Fatal("EncryptKey accepted non-hex input")
	}
	if _, err := EncryptKey("abcd", "hunter2"); err == nil {
		t.Fatal("EncryptKey accepted a short key")
	}
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nonexistent"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey = %s, want raw key without prefix", got)
	}
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	fileBytes, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "oracle.key.json")
	if err := os.WriteFile(path, fileBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey = %s, want %s", got, testKeyHex)
	}
}

func TestLoadKeyNoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	if err == nil || !strings.Contains(err.Error(), "no key source") {
		t.Fatalf("LoadKey = %v, want no-source error", err)
	}
}
