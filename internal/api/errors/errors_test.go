package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{"ValidationError", ValidationError, http.StatusBadRequest},
		{"Unauthorized", Unauthorized, http.StatusUnauthorized},
		{"Forbidden", Forbidden, http.StatusForbidden},
		{"UpstreamUnavailable", UpstreamUnavailable, http.StatusBadGateway},
		{"InternalError", InternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, "сообщение")

			if rec.Code != tt.status {
				t.Errorf("status = %d, ожидался %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if body := rec.Body.String(); body != "{\"detail\":\"сообщение\"}\n" {
				t.Errorf("body = %q", body)
			}
		})
	}
}
