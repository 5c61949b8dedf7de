// Package backend is the HTTP/JSON client for the transport backend that
// hosts the stego encoder and the per-path relay endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veilmsg/veil/internal/model"
	"go.uber.org/zap"
)

// Client talks to the transport backend. All calls honor the passed context.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client. A nil logger disables logging.
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) post(ctx context.Context, route string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", route, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", route, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: status %d: %s", route, resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", route, err)
	}
	return nil
}

// GenerateCover asks the backend for human-readable cover text concealing
// the real message. The recovered echo lets callers sanity-check the pair.
func (c *Client) GenerateCover(ctx context.Context, realText string) (cover, recovered string, err error) {
	var resp struct {
		Cover     string `json:"cover"`
		Recovered string `json:"recovered"`
	}
	if err := c.post(ctx, "/generate_cover", map[string]string{"message": realText}, &resp); err != nil {
		return "", "", err
	}
	return resp.Cover, resp.Recovered, nil
}

// EncodeText encodes real text into a bit payload sized for the given path.
// Satisfies bitcodec.Encoder.
func (c *Client) EncodeText(ctx context.Context, realText, path string) ([]int, error) {
	var resp struct {
		Bitstream []string `json:"bitstream"`
		BitCount  int      `json:"bit_count"`
	}
	body := map[string]string{"message": realText, "path": path}
	if err := c.post(ctx, "/split_cover_chunks", body, &resp); err != nil {
		return nil, err
	}
	bits := make([]int, 0, len(resp.Bitstream))
	for _, b := range resp.Bitstream {
		if b == "1" {
			bits = append(bits, 1)
		} else {
			bits = append(bits, 0)
		}
	}
	return bits, nil
}

// DecodeBits recovers real text from a bit payload. Satisfies
// bitcodec.Encoder; an error means "no real text available".
func (c *Client) DecodeBits(ctx context.Context, bits []int) (string, error) {
	var resp struct {
		DecodedText string `json:"decoded_text"`
	}
	body := map[string]any{"bit_sequence": bits, "compression_method": "default"}
	if err := c.post(ctx, "/decode_cover_chunks", body, &resp); err != nil {
		return "", err
	}
	return resp.DecodedText, nil
}

// FetchMessages polls one delivery path for messages addressed to this
// device. seenIDs suppresses server-side re-delivery; dedup downstream is
// still authoritative.
func (c *Client) FetchMessages(ctx context.Context, deliveryPath, deviceID string, seenIDs []string) ([]model.RawMessage, error) {
	var resp struct {
		Messages []model.RawMessage `json:"messages"`
	}
	body := map[string]any{
		"delivery_path":    deliveryPath,
		"device_id":        deviceID,
		"seen_message_ids": seenIDs,
	}
	if err := c.post(ctx, "/fetch_messages", body, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// StoreMessage persists an outbound record server-side so the peer's
// pollers can fetch it.
func (c *Client) StoreMessage(ctx context.Context, chatID string, msg *model.Message) error {
	body := map[string]any{
		"id":            msg.ID,
		"sender_id":     msg.SenderID,
		"chat_id":       chatID,
		"real_text":     msg.RealText,
		"cover_text":    msg.CoverText,
		"is_auto_reply": msg.IsAutoReply,
		"delivery_path": msg.DeliveryPath,
		"timestamp":     msg.Timestamp,
	}
	if msg.BitCount != nil {
		body["bit_count"] = *msg.BitCount
	}
	if len(msg.ImageData) > 0 {
		body["image_data"] = base64.StdEncoding.EncodeToString(msg.ImageData)
	}
	return c.post(ctx, "/store_message", body, nil)
}

// SendSMS relays a cover message over SMS.
func (c *Client) SendSMS(ctx context.Context, to, message string) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.post(ctx, "/send_sms", map[string]string{"to": to, "message": message}, &resp)
}

// SendEmail relays a cover message over email.
func (c *Client) SendEmail(ctx context.Context, to, subject, message string) error {
	if subject == "" {
		subject = "veil"
	}
	var resp struct {
		Status string `json:"status"`
	}
	body := map[string]string{
		"to":            to,
		"subject":       subject,
		"message":       message,
		"delivery_path": "email",
	}
	return c.post(ctx, "/send_email", body, &resp)
}

// SendEmailWithImage relays an image (with optional caption) over email.
func (c *Client) SendEmailWithImage(ctx context.Context, to, message string, imageData []byte, filename string) error {
	if filename == "" {
		filename = "image.jpg"
	}
	body := map[string]string{
		"to":             to,
		"message":        message,
		"image_data":     base64.StdEncoding.EncodeToString(imageData),
		"image_filename": filename,
	}
	return c.post(ctx, "/send_email_with_image", body, nil)
}

// CheckAvailablePaths asks the backend which paths the region policy allows
// for a contact. The result feeds the router's regionPolicy input.
func (c *Client) CheckAvailablePaths(ctx context.Context, phone, email, region string) ([]string, error) {
	var resp struct {
		AvailablePaths []string `json:"availablePaths"`
	}
	body := map[string]string{"phone": phone, "email": email, "region": region}
	if err := c.post(ctx, "/check_available_paths", body, &resp); err != nil {
		return nil, err
	}
	return resp.AvailablePaths, nil
}

// GenerateReply synthesizes a simulated reply from recent chat history.
func (c *Client) GenerateReply(ctx context.Context, history []string, lastMessage string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
	}
	body := map[string]any{"chat_history": history, "last_message": lastMessage}
	if err := c.post(ctx, "/generate_reply", body, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}
