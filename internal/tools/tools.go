// Package tools declares the side-effecting collaborators an agent acts
// through and the typed payloads decoded from a Decision's action map.
package tools

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	xerrors "Agent-Arena/internal/errors"
)

// Result is what a tool reports back to the loop and the model.
type Result map[string]any

// Statuses shared by every tool.
const (
	StatusCompleted      = "completed"
	StatusSent           = "sent"
	StatusError          = "error"
	StatusBlocked        = "blocked"
	StatusReasoningOnly  = "reasoning_only"
	StatusPolicyRejected = "policy_rejected"
)

// Status returns the result's status field.
func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

// ErrorResult converts err into an error result, carrying its code when it
// has one.
func ErrorResult(err error) Result {
	res := Result{"status": StatusError, "error": err.Error()}
	if e, ok := xerrors.From(err); ok {
		res["code"] = string(e.Code())
		res["error"] = e.Message()
	}
	return res
}

// BrowserTask is the browser_task payload.
type BrowserTask struct {
	Task string `mapstructure:"task"`
}

// Email is the send_email payload.
type Email struct {
	To      string `mapstructure:"to"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

// AddressPayment is the send_payment_to_address payload.
type AddressPayment struct {
	ToAddress string          `mapstructure:"to_address"`
	Amount    decimal.Decimal `mapstructure:"amount"`
	Memo      string          `mapstructure:"memo"`
}

// EmailPayment is the send_payment_to_email payload.
type EmailPayment struct {
	Email         string          `mapstructure:"email"`
	Amount        decimal.Decimal `mapstructure:"amount"`
	Memo          string          `mapstructure:"memo"`
	ExpiresInDays int             `mapstructure:"expires_in_days"`
}

// Message is one inbox message.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Transaction is one entry of the payments history.
type Transaction struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Browser runs natural-language browser tasks in a remote session.
type Browser interface {
	Execute(ctx context.Context, task BrowserTask) (Result, error)
	LiveURL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Mailer is the agent's own inbox.
type Mailer interface {
	CheckInbox(ctx context.Context) ([]Message, error)
	Send(ctx context.Context, email Email) (Result, error)
	CountPositiveReplies(ctx context.Context) (int, error)
}

// Payments is the agent's USDC wallet.
type Payments interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	SendToAddress(ctx context.Context, p AddressPayment) (Result, error)
	SendToEmail(ctx context.Context, p EmailPayment) (Result, error)
	History(ctx context.Context, limit int) ([]Transaction, error)
}

// Closer is implemented by tools that hold connections.
type Closer interface {
	Close(ctx context.Context) error
}

// DecodePayload decodes an action map into one of the payload structs.
// Numbers given as strings are accepted.
func DecodePayload(action map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       decimalHook,
	})
	if err != nil {
		return fmt.Errorf("build payload decoder: %w", err)
	}
	if err := decoder.Decode(action); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid action payload")
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		trimmed := strings.TrimPrefix(strings.TrimSpace(v), "$")
		if trimmed == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(trimmed)
	case nil:
		return decimal.Zero, nil
	default:
		return data, nil
	}
}

// PositiveKeywords mark a reply as a booking.
var PositiveKeywords = []string{
	"interested", "sounds good", "let's do it", "book", "schedule", "yes", "count me in", "sign me up",
}

// IsPositive reports whether text contains any positive keyword.
func IsPositive(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range PositiveKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
