package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("sync user: %w", NeedsReconnect(""))

	if !IsCode(err, CodeNeedsReconnect) {
		t.Error("expected wrapped NeedsReconnect to match")
	}
	if IsCode(err, CodeRemoteTransient) {
		t.Error("unexpected RemoteTransient match")
	}
	if IsCode(errors.New("plain"), CodeNeedsReconnect) {
		t.Error("plain error must not match")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"needs reconnect", NeedsReconnect("gone"), true},
		{"config missing", ConfigurationMissing("no client id"), true},
		{"validation", ValidationFailed("no start"), true},
		{"remote transient", RemoteTransient("list", errors.New("503")), false},
		{"plain", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsAppError_Status(t *testing.T) {
	if got := AsAppError(NeedsReconnect("")).Status; got != http.StatusUnauthorized {
		t.Errorf("NeedsReconnect status = %d", got)
	}
	if got := AsAppError(ConfigurationMissing("x")).Status; got != http.StatusServiceUnavailable {
		t.Errorf("ConfigurationMissing status = %d", got)
	}
	if got := AsAppError(errors.New("x")).Status; got != http.StatusInternalServerError {
		t.Errorf("plain status = %d", got)
	}
}
