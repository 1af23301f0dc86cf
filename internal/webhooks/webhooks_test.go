package webhooks

import "testing"

func TestGenerateTokenShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatal(err)
		}
		if !ValidTokenShape(tok) {
			t.Fatalf("generated token fails its own shape gate: %q", tok)
		}
		if seen[tok] {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = true
	}
}

func TestValidTokenShape(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"abcDEF123_-", true},
		{"a", true},
		{"", false},
		{"has space", false},
		{"slash/inside", false},
		{"dot.inside", false},
		{"semi;colon", false},
	}
	for _, tc := range cases {
		if got := ValidTokenShape(tc.token); got != tc.want {
			t.Fatalf("ValidTokenShape(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"push"}`)
	sig := Sign("topsecret", body)

	if !VerifySignature("topsecret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if !VerifySignature("topsecret", body, "sha256="+sig) {
		t.Fatal("sha256= prefixed signature rejected")
	}
	if VerifySignature("topsecret", body, sig[:len(sig)-2]+"00") {
		t.Fatal("tampered signature accepted")
	}
	if VerifySignature("wrongsecret", body, sig) {
		t.Fatal("signature verified with wrong secret")
	}
	if VerifySignature("topsecret", []byte(`{"event":"pull"}`), sig) {
		t.Fatal("signature verified over different body")
	}
	if VerifySignature("topsecret", body, "") {
		t.Fatal("empty signature accepted")
	}
}
