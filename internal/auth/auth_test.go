package auth

import "testing"

func TestVerify(t *testing.T) {
	hash, err := HashPassphrase("our-secret")
	if err != nil {
		t.Fatalf("HashPassphrase failed: %v", err)
	}

	if err := Verify(hash, "our-secret"); err != nil {
		t.Errorf("correct passphrase rejected: %v", err)
	}

	if err := Verify(hash, "wrong"); err == nil {
		t.Error("wrong passphrase accepted")
	}

	// Empty hash disables the gate
	if err := Verify("", "anything"); err != nil {
		t.Errorf("empty hash should disable the gate, got %v", err)
	}
}
