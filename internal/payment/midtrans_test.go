package payment

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signatureFor(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func TestVerifySignature(t *testing.T) {
	client := NewClient("secret-server-key", "", "")

	valid := signatureFor("42", "200", "150000.00", "secret-server-key")
	if !client.VerifySignature("42", "200", "150000.00", valid) {
		t.Error("expected valid signature to verify")
	}

	if client.VerifySignature("42", "200", "150000.00", valid[:len(valid)-2]+"ff") {
		t.Error("expected tampered signature to fail")
	}

	wrongKey := signatureFor("42", "200", "150000.00", "another-key")
	if client.VerifySignature("42", "200", "150000.00", wrongKey) {
		t.Error("expected signature from wrong key to fail")
	}
}

func TestTransactionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/42/status" {
			http.NotFound(w, r)
			return
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"order_id": "42",
			"transaction_id": "tx-abc",
			"transaction_status": "settlement",
			"fraud_status": "accept",
			"status_code": "200",
			"gross_amount": "150000.00"
		}`))
	}))
	defer server.Close()

	client := NewClient("secret-server-key", server.URL, "")
	status, err := client.TransactionStatus(context.Background(), "42")
	if err != nil {
		t.Fatalf("transaction status: %v", err)
	}
	if status.TransactionStatus != "settlement" {
		t.Errorf("transaction_status = %s", status.TransactionStatus)
	}
	if status.TransactionID != "tx-abc" {
		t.Errorf("transaction_id = %s", status.TransactionID)
	}
}

func TestTransactionStatus_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status_message":"transaction doesn't exist"}`))
	}))
	defer server.Close()

	client := NewClient("secret-server-key", server.URL, "")
	if _, err := client.TransactionStatus(context.Background(), "42"); err == nil {
		t.Error("expected error for non-2xx gateway response")
	}
}

func TestChargeTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"snap-token","redirect_url":"https://pay.example/snap-token"}`))
	}))
	defer server.Close()

	client := NewClient("secret-server-key", "", server.URL)
	result, err := client.ChargeTransaction(context.Background(), ChargeRequest{
		OrderID:     "42",
		GrossAmount: 150000,
		FirstName:   "Alice",
		Email:       "alice@example.com",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.Token != "snap-token" {
		t.Errorf("token = %s", result.Token)
	}
	if result.RedirectURL == "" {
		t.Error("expected redirect url")
	}
}
