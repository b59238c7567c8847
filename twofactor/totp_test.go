package twofactor

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

// RFC 4226 Appendix D and RFC 6238 Appendix B use the same ASCII key.
const rfcKey = "12345678901234567890"

func TestHOTPRFC4226Vectors(t *testing.T) {
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}
	for counter, code := range want {
		if got := HOTP([]byte(rfcKey), uint64(counter), 6); got != code {
			t.Fatalf("HOTP(counter=%d) = %s, want %s", counter, got, code)
		}
	}
}

func TestTOTPRFC6238Vectors(t *testing.T) {
	tests := []struct {
		unix int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}
	for _, tc := range tests {
		got := HOTP([]byte(rfcKey), Counter(time.Unix(tc.unix, 0)), 8)
		if got != tc.code {
			t.Fatalf("TOTP(%d) = %s, want %s", tc.unix, got, tc.code)
		}
	}
}

func TestGenerateSecretShape(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("secret must be unpadded, got %q", secret)
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if len(raw) != SecretBytes {
		t.Fatalf("expected %d secret bytes, got %d", SecretBytes, len(raw))
	}

	other, _ := GenerateSecret()
	if other == secret {
		t.Fatal("expected distinct secrets")
	}
}

func TestVerifyWindow(t *testing.T) {
	a := NewAuthenticator("LendLoop", DefaultWindow)
	secret := secretEncoding.EncodeToString([]byte(rfcKey))

	base := time.Unix(1700000000, 0)
	for _, offset := range []int{0, 1, 7, 13, 22, 29} {
		issued := base.Add(time.Duration(offset) * time.Second)
		code, err := a.Code(secret, issued)
		if err != nil {
			t.Fatalf("Code failed: %v", err)
		}

		for _, delta := range []time.Duration{0, 29 * time.Second, -29 * time.Second} {
			if !a.Verify(secret, code, issued.Add(delta)) {
				t.Fatalf("code issued at +%ds rejected at delta %v", offset, delta)
			}
		}
		if a.Verify(secret, code, issued.Add(65*time.Second)) {
			t.Fatalf("code issued at +%ds accepted 65s later", offset)
		}
		if a.Verify(secret, code, issued.Add(-65*time.Second)) {
			t.Fatalf("code issued at +%ds accepted 65s earlier", offset)
		}
	}
}

func TestVerifyZeroWindow(t *testing.T) {
	a := NewAuthenticator("LendLoop", 0)
	secret, _ := GenerateSecret()
	now := time.Unix(1700000010, 0)

	code, _ := a.Code(secret, now)
	if !a.Verify(secret, code, now) {
		t.Fatal("expected current step to verify")
	}
	if a.Verify(secret, code, now.Add(Period)) {
		t.Fatal("expected next step to reject with zero window")
	}
}

func TestMatchReportsStep(t *testing.T) {
	a := NewAuthenticator("LendLoop", DefaultWindow)
	secret, _ := GenerateSecret()
	issued := time.Unix(1700000010, 0)
	code, _ := a.Code(secret, issued)

	for _, delta := range []time.Duration{0, Period, -Period} {
		step, ok := a.Match(secret, code, issued.Add(delta))
		if !ok {
			t.Fatalf("code rejected at delta %v", delta)
		}
		if step != Counter(issued) {
			t.Fatalf("delta %v: step = %d, want %d", delta, step, Counter(issued))
		}
	}
	if _, ok := a.Match(secret, "12345x", issued); ok {
		t.Fatal("malformed code matched")
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	a := NewAuthenticator("LendLoop", DefaultWindow)
	secret, _ := GenerateSecret()
	now := time.Now()
	code, _ := a.Code(secret, now)

	cases := map[string]struct {
		secret string
		code   string
	}{
		"empty code":     {secret, ""},
		"short code":     {secret, code[:5]},
		"non numeric":    {secret, "12a456"},
		"empty secret":   {"", code},
		"invalid base32": {"!!!!", code},
	}
	for name, tc := range cases {
		if a.Verify(tc.secret, tc.code, now) {
			t.Fatalf("%s: expected rejection", name)
		}
	}

	if !a.Verify(strings.ToLower(secret), " "+code+" ", now) {
		t.Fatal("expected lowercase secret and padded code to verify")
	}
}

func TestOTPAuthURL(t *testing.T) {
	a := NewAuthenticator("LendLoop", DefaultWindow)
	raw := a.OTPAuthURL("alice@example.com", "JBSWY3DPEHPK3PXP")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("unexpected scheme/host: %s", raw)
	}
	if u.Path != "/LendLoop:alice@example.com" {
		t.Fatalf("unexpected label %q", u.Path)
	}

	q := u.Query()
	want := map[string]string{
		"secret":    "JBSWY3DPEHPK3PXP",
		"issuer":    "LendLoop",
		"algorithm": "SHA1",
		"digits":    "6",
		"period":    "30",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Fatalf("query %s = %q, want %q", k, q.Get(k), v)
		}
	}
}
