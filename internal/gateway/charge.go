package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Charge statuses reported by the gateway
const (
	StatusInitiated  = "INITIATED"
	StatusInProgress = "IN_PROGRESS"
	StatusCaptured   = "CAPTURED"
	StatusAbandoned  = "ABANDONED"
	StatusCancelled  = "CANCELLED"
	StatusFailed     = "FAILED"
	StatusDeclined   = "DECLINED"
	StatusRestricted = "RESTRICTED"
	StatusVoid       = "VOID"
	StatusTimedOut   = "TIMEDOUT"
	StatusUnknown    = "UNKNOWN"
)

// Outcome is the application's view of a charge status
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCaptured
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCaptured:
		return "captured"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Classify maps a gateway status onto captured, pending or failed.
// Anything that is neither captured nor still in flight is a failure.
func Classify(status string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusCaptured:
		return OutcomeCaptured
	case StatusInitiated, StatusInProgress, "":
		return OutcomePending
	default:
		return OutcomeFailed
	}
}

// ChargeRequest is the body of POST /charges
type ChargeRequest struct {
	Amount            float64           `json:"amount"`
	Currency          string            `json:"currency"`
	CustomerInitiated bool              `json:"customer_initiated"`
	ThreeDSecure      bool              `json:"threeDSecure"`
	SaveCard          bool              `json:"save_card"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Reference         Reference         `json:"reference"`
	Receipt           Receipt           `json:"receipt"`
	Customer          Customer          `json:"customer"`
	Source            Source            `json:"source"`
	Post              *Endpoint         `json:"post,omitempty"`
	Redirect          Endpoint          `json:"redirect"`
}

type Reference struct {
	Transaction string `json:"transaction,omitempty"`
	Order       string `json:"order,omitempty"`
	Gateway     string `json:"gateway,omitempty"`
	Payment     string `json:"payment,omitempty"`
}

type Receipt struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     *Phone `json:"phone,omitempty"`
}

type Phone struct {
	CountryCode string `json:"country_code"`
	Number      string `json:"number"`
}

type Source struct {
	ID string `json:"id"`
}

type Endpoint struct {
	URL string `json:"url"`
}

type Transaction struct {
	URL     string `json:"url"`
	Created string `json:"created"`
}

type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Charge is the gateway's charge object
type Charge struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
	Reference   Reference         `json:"reference"`
	Transaction Transaction       `json:"transaction"`
	Response    Response          `json:"response"`
	Customer    Customer          `json:"customer"`

	// Raw is the undecoded response body, kept for the audit log.
	Raw json.RawMessage `json:"-"`
}

// RedirectURL is where the browser must go to complete payment
func (c *Charge) RedirectURL() string {
	return c.Transaction.URL
}

// Outcome classifies the charge status
func (c *Charge) Outcome() Outcome {
	return Classify(c.Status)
}

// currencyDecimals lists currencies the gateway formats with three decimals.
var currencyDecimals = map[string]int{
	"KWD": 3,
	"BHD": 3,
	"OMR": 3,
	"JOD": 3,
}

// FormatAmount renders an amount the way the gateway signs it.
func FormatAmount(amount float64, currency string) string {
	decimals, ok := currencyDecimals[strings.ToUpper(currency)]
	if !ok {
		decimals = 2
	}
	return strconv.FormatFloat(amount, 'f', decimals, 64)
}

// WebhookHash computes the hashstring the gateway sends with a charge webhook.
func WebhookHash(c *Charge, secretKey string) string {
	var b strings.Builder
	b.WriteString("x_id" + c.ID)
	b.WriteString("x_amount" + FormatAmount(c.Amount, c.Currency))
	b.WriteString("x_currency" + c.Currency)
	b.WriteString("x_gateway_reference" + c.Reference.Gateway)
	b.WriteString("x_payment_reference" + c.Reference.Payment)
	b.WriteString("x_status" + c.Status)
	b.WriteString("x_created" + c.Transaction.Created)

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks a webhook hashstring in constant time.
func VerifyWebhook(c *Charge, hashstring, secretKey string) bool {
	if secretKey == "" || hashstring == "" {
		return false
	}
	expected := WebhookHash(c, secretKey)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(hashstring)))
}
