package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
)

const signatureHeader = "X-Webhook-Signature"

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Drive the webhook endpoint with fake gateway events",
	}
	cmd.AddCommand(webhooksSendCmd())
	return cmd
}

var knownEventTypes = []gateway.EventType{
	gateway.EventPaymentSucceeded,
	gateway.EventPaymentFailed,
	gateway.EventPaymentCanceled,
	gateway.EventRefundSucceeded,
	gateway.EventRefundFailed,
	gateway.EventRefundCanceled,
	gateway.EventPayoutPaid,
	gateway.EventPayoutFailed,
	gateway.EventPayoutCanceled,
	gateway.EventSubscriptionUpdated,
	gateway.EventSubscriptionCanceled,
}

func webhooksSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign and post one fake gateway webhook",
		Example: "  billingctl webhooks send --type payment.succeeded --reference pi_123 --amount 1599\n" +
			"  billingctl webhooks send --type payout.failed --reference po_9 --reason bank_rejected",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			ref, _ := cmd.Flags().GetString("reference")
			amount, _ := cmd.Flags().GetInt64("amount")
			currency, _ := cmd.Flags().GetString("currency")
			reason, _ := cmd.Flags().GetString("reason")
			id, _ := cmd.Flags().GetString("id")
			url, _ := cmd.Flags().GetString("url")
			secret, _ := cmd.Flags().GetString("secret")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			if !isKnownEvent(gateway.EventType(typ)) {
				return fmt.Errorf("--type %q: not a gateway event type", typ)
			}
			if secret == "" {
				return fmt.Errorf("--secret or WEBHOOK_SECRET is required")
			}
			if id == "" {
				id = "evt_" + uuid.NewString()
			}

			body := fake.WebhookBody{
				ID:         id,
				Type:       typ,
				Reference:  ref,
				Amount:     amount,
				Currency:   strings.ToUpper(currency),
				Reason:     reason,
				OccurredAt: time.Now().UTC(),
			}
			payload, sig, err := fake.NewPayments("fake", secret).SignedWebhook(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, resp, err := postWebhook(ctx, url, payload, sig)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %d %s\n", id, status, strings.TrimSpace(string(resp)))
			if status >= 300 {
				return fmt.Errorf("webhook rejected with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringP("type", "t", "", "Event type, e.g. payment.succeeded")
	cmd.Flags().StringP("reference", "r", "", "Gateway reference the event is about")
	cmd.Flags().Int64("amount", 0, "Amount in minor units")
	cmd.Flags().String("currency", "USD", "ISO currency code")
	cmd.Flags().String("reason", "", "Failure reason")
	cmd.Flags().String("id", "", "Event ID (default: random); reuse one to test deduplication")
	cmd.Flags().String("url", "http://localhost:8080/webhooks/fake", "Webhook endpoint")
	cmd.Flags().String("secret", os.Getenv("WEBHOOK_SECRET"), "Signing secret")
	cmd.Flags().Duration("timeout", 10*time.Second, "HTTP timeout")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func isKnownEvent(t gateway.EventType) bool {
	for _, k := range knownEventTypes {
		if k == t {
			return true
		}
	}
	return false
}

func postWebhook(ctx context.Context, url string, payload []byte, sig string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, sig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, b, nil
}
