package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
)

func TestIsKnownEvent(t *testing.T) {
	tests := []struct {
		typ  gateway.EventType
		want bool
	}{
		{gateway.EventPaymentSucceeded, true},
		{gateway.EventSubscriptionCanceled, true},
		{"payment.pending", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, isKnownEvent(tt.typ))
		})
	}
}

func TestPostWebhook_SendsSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(signatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"received"}`))
	}))
	defer srv.Close()

	payload := []byte(`{"id":"evt_1"}`)
	sig := fake.Sign("secret", payload)

	status, resp, err := postWebhook(context.Background(), srv.URL, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"status":"received"}`, string(resp))
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, sig, gotSig)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", d.Format("2006-01-02"))

	_, err = parseDate("14/03/2026")
	assert.Error(t, err)

	d, err = parseDate("")
	require.NoError(t, err)
	assert.False(t, d.IsZero())
}
