package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

func TestErrorIncludesBalanceContext(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		err := fmt.Errorf("settle: %w", &ledger.BalanceError{AccountID: "air-1", Balance: ledger.BalanceTotal, Available: 600_000, Required: 1_000_000})
		return Error(c, http.StatusUnprocessableEntity, err)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["available"] != float64(600_000) || body["required"] != float64(1_000_000) || body["account_id"] != "air-1" {
		t.Fatalf("missing numeric context: %v", body)
	}
}

func TestLedgerStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		ok     bool
	}{
		{ledger.ErrUnknownAccount, http.StatusNotFound, true},
		{&ledger.BalanceError{}, http.StatusUnprocessableEntity, true},
		{fmt.Errorf("wrapped: %w", ledger.ErrKindMismatch), http.StatusConflict, true},
		{ledger.ErrInvalidAmount, http.StatusBadRequest, true},
		{ledger.ErrPurposeNotAllowed, http.StatusUnprocessableEntity, true},
		{errors.New("boom"), 0, false},
	}
	for _, tt := range tests {
		status, ok := LedgerStatus(tt.err)
		if status != tt.status || ok != tt.ok {
			t.Fatalf("%v: got (%d, %v), want (%d, %v)", tt.err, status, ok, tt.status, tt.ok)
		}
	}
}

func TestErrorHandlerKeepsFiberStatus(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/", func(c *fiber.Ctx) error {
		return fiber.NewError(http.StatusConflict, "taken")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
