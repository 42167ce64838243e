package gateway

import "testing"

func TestClassifyKrakenError(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"EAPI:Invalid key", ErrorTypeAuth},
		{"EAPI:Invalid signature", ErrorTypeAuth},
		{"EAPI:Invalid nonce", ErrorTypeAuth},
		{"EGeneral:Permission denied", ErrorTypeAuth},
		{"EAPI:Rate limit exceeded", ErrorTypeRateLimit},
		{"EGeneral:Temporary lockout", ErrorTypeRateLimit},
		{"EService:Unavailable", ErrorTypeServer},
		{"EService:Busy", ErrorTypeServer},
		{"EGeneral:Internal error", ErrorTypeServer},
		{"EGeneral:Invalid arguments", ErrorTypeClient},
		{"something else", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyKrakenError(tt.msg); got != tt.want {
			t.Errorf("ClassifyKrakenError(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	if ClassifyStatus(403) != ErrorTypeAuth || ClassifyStatus(429) != ErrorTypeRateLimit ||
		ClassifyStatus(502) != ErrorTypeServer || ClassifyStatus(404) != ErrorTypeClient ||
		ClassifyStatus(200) != ErrorTypeUnknown {
		t.Fatalf("unexpected status classification")
	}
}

func TestErrorTypeRetriable(t *testing.T) {
	if !ErrorTypeRateLimit.IsRetriable() || !ErrorTypeServer.IsRetriable() {
		t.Fatalf("rate limit and server errors should be retriable")
	}
	if ErrorTypeAuth.IsRetriable() || ErrorTypeClient.IsRetriable() {
		t.Fatalf("auth and client errors should not be retriable")
	}
}

func TestKrakenErrorMessage(t *testing.T) {
	err := &KrakenError{Messages: []string{"EService:Unavailable", "EGeneral:Internal error"}}
	if err.Error() != "kraken: EService:Unavailable; EGeneral:Internal error" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if (&KrakenError{}).Type() != ErrorTypeUnknown {
		t.Fatalf("empty error should be unknown")
	}
}
