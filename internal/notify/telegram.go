package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTelegramBase is the public Bot API endpoint.
const DefaultTelegramBase = "https://api.telegram.org"

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramClient sends messages through one bot identity.
type TelegramClient struct {
	http  *resty.Client
	token string
}

func NewTelegramClient(baseURL, token string) *TelegramClient {
	if baseURL == "" {
		baseURL = DefaultTelegramBase
	}
	return &TelegramClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
		token: token,
	}
}

// SendMessage posts an HTML message, optionally with inline buttons.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string, buttons []inlineButton) error {
	req := sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"}
	if len(buttons) > 0 {
		req.ReplyMarkup = &replyMarkup{InlineKeyboard: [][]inlineButton{buttons}}
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + c.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

// OperatorNotifier broadcasts to an operator chat for one role.
type OperatorNotifier struct {
	role           string
	client         *TelegramClient
	chatID         string
	kinds          map[Kind]bool
	callbackPrefix string
}

// NewOperatorNotifier builds the notifier for role, accepting only kinds.
func NewOperatorNotifier(role string, client *TelegramClient, chatID, callbackPrefix string, kinds ...Kind) *OperatorNotifier {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &OperatorNotifier{role: role, client: client, chatID: chatID, kinds: set, callbackPrefix: callbackPrefix}
}

func (n *OperatorNotifier) Name() string { return "telegram:" + n.role }

func (n *OperatorNotifier) Accepts(k Kind) bool { return n.kinds[k] }

func (n *OperatorNotifier) Notify(ctx context.Context, ev Event) error {
	var buttons []inlineButton
	if ev.Kind.IsFileEvent() {
		for _, st := range ev.NextStatuses {
			label := statusLabels[st]
			if label == "" {
				label = st
			}
			buttons = append(buttons, inlineButton{Text: label, CallbackData: CallbackData(n.callbackPrefix, ev.FileID, st)})
		}
	}
	return n.client.SendMessage(ctx, n.chatID, operatorText(ev), buttons)
}

// CustomerNotifier messages the customer's linked chat.
type CustomerNotifier struct {
	client *TelegramClient
}

func NewCustomerNotifier(client *TelegramClient) *CustomerNotifier {
	return &CustomerNotifier{client: client}
}

func (n *CustomerNotifier) Name() string { return "telegram:customer" }

func (n *CustomerNotifier) Accepts(k Kind) bool {
	return k == KindFilePending || k == KindFileReady || k == KindShipmentUpdated
}

func (n *CustomerNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Customer.TelegramChatID == "" {
		return ErrNotLinked
	}
	return n.client.SendMessage(ctx, ev.Customer.TelegramChatID, customerText(ev), nil)
}
