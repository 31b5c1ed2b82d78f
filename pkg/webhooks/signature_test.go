package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := Sign(payload, "whsec_test", time.Now())

	require.NoError(t, VerifySignature(payload, header, "whsec_test", 5*time.Minute))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, "whsec_test", time.Now())

	require.Error(t, VerifySignature(payload, header, "whsec_other", 5*time.Minute))
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, "whsec_test", time.Now())

	require.Error(t, VerifySignature([]byte(`{"id":"evt_2"}`), header, "whsec_test", 5*time.Minute))
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, "whsec_test", time.Now().Add(-time.Hour))

	require.Error(t, VerifySignature(payload, header, "whsec_test", 5*time.Minute))
	// Tolerance disabled accepts old timestamps.
	require.NoError(t, VerifySignature(payload, header, "whsec_test", 0))
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	require.Error(t, VerifySignature(payload, "", "whsec_test", time.Minute))
	require.Error(t, VerifySignature(payload, "v1=abc", "whsec_test", time.Minute))
	require.Error(t, VerifySignature(payload, "t=notanumber,v1=abc", "whsec_test", time.Minute))
}
