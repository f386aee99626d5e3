package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"socheath/backend/internal/models"
	"socheath/backend/internal/payments"
)

// TelegramClient represents telegram client.
type TelegramClient struct {
	token  string
	client *http.Client
}

// NewTelegramClient creates telegram client.
func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessage handles send message.
func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	return t.post(ctx, "sendMessage", map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
}

// post handles internal post behavior.
func (t *TelegramClient) post(ctx context.Context, method string, payload map[string]interface{}) error {
	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s status %d", method, resp.StatusCode)
	}
	return nil
}

// TelegramNotifier relays order notifications to the shop chat. A nil
// notifier drops everything so the service can run without a bot token.
type TelegramNotifier struct {
	client *TelegramClient
	chatID int64
}

func NewTelegramNotifier(client *TelegramClient, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{client: client, chatID: chatID}
}

// NotifyOrderPaid sends the confirmation summary once a KHQR payment settles.
func (n *TelegramNotifier) NotifyOrderPaid(ctx context.Context, order models.Order, res payments.Result) error {
	if n == nil || n.client == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("✅ Payment received\n\n")
	writeOrderSummary(&sb, order)
	if res.Hash != "" {
		fmt.Fprintf(&sb, "\nTransaction: %s", res.Hash)
	}
	return n.client.SendMessage(ctx, n.chatID, sb.String())
}

// NotifyOrderPlaced relays an order that is settled manually over Telegram
// instead of through a KHQR payment.
func (n *TelegramNotifier) NotifyOrderPlaced(ctx context.Context, order models.Order) error {
	if n == nil || n.client == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("🛒 New order (pay via Telegram)\n\n")
	writeOrderSummary(&sb, order)
	return n.client.SendMessage(ctx, n.chatID, sb.String())
}

func writeOrderSummary(sb *strings.Builder, order models.Order) {
	fmt.Fprintf(sb, "Order: %s\n", order.ID)
	if order.BillNumber != "" {
		fmt.Fprintf(sb, "Bill: %s\n", order.BillNumber)
	}
	for _, item := range order.Items {
		fmt.Fprintf(sb, "• %s x%d (%s %s)\n", item.Name, item.Quantity, item.Price.String(), order.Currency)
	}
	fmt.Fprintf(sb, "Total: %s %s\n", order.Total.String(), order.Currency)
	if order.Phone != "" {
		fmt.Fprintf(sb, "Phone: %s\n", order.Phone)
	}
	if order.Address != "" {
		fmt.Fprintf(sb, "Address: %s\n", order.Address)
	}
}
