package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutState string

const (
	StateIdle             CheckoutState = "idle"
	StateSubmitting       CheckoutState = "submitting"
	StateAwaitingRedirect CheckoutState = "awaiting_redirect"
	StateConfirmingCommit CheckoutState = "confirming_commit"
	StateAuthorized       CheckoutState = "authorized"
	StateAborted          CheckoutState = "aborted"
	StateRejected         CheckoutState = "rejected"
	StateMissingToken     CheckoutState = "missing_token"
	StateTransportError   CheckoutState = "transport_error"
)

func (s CheckoutState) IsTerminal() bool {
	switch s {
	case StateAuthorized, StateAborted, StateRejected, StateMissingToken, StateTransportError:
		return true
	}
	return false
}

// TransactionIntent is one checkout attempt handed to the payment gateway.
type TransactionIntent struct {
	Items       []Item
	Token       string
	RedirectURL string
	CreatedAt   time.Time
}

// TokenField is the form field and return-page parameter carrying the correlation token.
const TokenField = "token_ws"

// ReturnParams is what the payment leg passes back on the return URL.
type ReturnParams struct {
	Status string
	Order  string
	Token  string
}

func (p ReturnParams) Empty() bool {
	return strings.TrimSpace(p.Status) == "" && strings.TrimSpace(p.Token) == ""
}

// CommitStatus is the gateway's reply to a commit-status query.
type CommitStatus struct {
	Status            string
	Order             string
	Amount            decimal.Decimal
	TransactionDate   string
	ResponseCode      string
	AuthorizationCode string
}

const (
	StatusAuthorized = "AUTHORIZED"
	StatusSuccess    = "SUCCESS"
	StatusAborted    = "ABORTED"
)

type OutcomeKind string

const (
	OutcomeAuthorized     OutcomeKind = "authorized"
	OutcomeAborted        OutcomeKind = "aborted"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeMissingToken   OutcomeKind = "missing_token"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Unknown stands in for any rejection detail the gateway left out.
const Unknown = "UNKNOWN"

// CommitOutcome is the terminal result of one return-page load.
type CommitOutcome struct {
	Kind  OutcomeKind
	Token string

	// Authorized
	Order  string
	Amount decimal.Decimal

	// Rejected
	ResponseCode      string
	AuthorizationCode string

	Timestamp string
}

func Authorized(token, order string, amount decimal.Decimal, timestamp string) CommitOutcome {
	return CommitOutcome{Kind: OutcomeAuthorized, Token: token, Order: order, Amount: amount, Timestamp: timestamp}
}

func Aborted(token string) CommitOutcome {
	return CommitOutcome{Kind: OutcomeAborted, Token: token}
}

func Rejected(token, responseCode, authorizationCode, timestamp string) CommitOutcome {
	return CommitOutcome{
		Kind:              OutcomeRejected,
		Token:             token,
		ResponseCode:      orUnknown(responseCode),
		AuthorizationCode: orUnknown(authorizationCode),
		Timestamp:         orUnknown(timestamp),
	}
}

func MissingToken() CommitOutcome {
	return CommitOutcome{Kind: OutcomeMissingToken}
}

func TransportError(token string) CommitOutcome {
	return CommitOutcome{Kind: OutcomeTransportError, Token: token}
}

// OutcomeFromStatus interprets a gateway status value.
func OutcomeFromStatus(token string, cs CommitStatus) CommitOutcome {
	switch strings.ToUpper(strings.TrimSpace(cs.Status)) {
	case "":
		return TransportError(token)
	case StatusAuthorized, StatusSuccess:
		return Authorized(token, cs.Order, cs.Amount, cs.TransactionDate)
	case StatusAborted:
		return Aborted(token)
	default:
		return Rejected(token, cs.ResponseCode, cs.AuthorizationCode, cs.TransactionDate)
	}
}

func (o CommitOutcome) State() CheckoutState {
	switch o.Kind {
	case OutcomeAuthorized:
		return StateAuthorized
	case OutcomeAborted:
		return StateAborted
	case OutcomeRejected:
		return StateRejected
	case OutcomeMissingToken:
		return StateMissingToken
	default:
		return StateTransportError
	}
}

// Final reports whether the payment's fate is known. A transport error is
// terminal for the page load but not for the payment.
func (o CommitOutcome) Final() bool {
	switch o.Kind {
	case OutcomeAuthorized, OutcomeAborted, OutcomeRejected:
		return true
	}
	return false
}

func (o CommitOutcome) Heading() string {
	switch o.Kind {
	case OutcomeAuthorized:
		return "Payment successful"
	case OutcomeAborted:
		return "Purchase cancelled"
	case OutcomeRejected:
		return "Payment rejected"
	case OutcomeMissingToken:
		return "No payment information"
	default:
		return "Payment status unavailable"
	}
}

func (o CommitOutcome) Message() string {
	switch o.Kind {
	case OutcomeAuthorized:
		return "Your payment was authorized."
	case OutcomeAborted:
		return "The purchase was cancelled. No charge was made."
	case OutcomeRejected:
		return "The bank did not authorize the payment."
	case OutcomeMissingToken:
		return "There is no transaction associated with this page."
	default:
		return "We could not confirm the payment status. Please retry the confirmation before paying again; the payment may have gone through."
	}
}

// Details returns the extra display lines for the outcome.
func (o CommitOutcome) Details() []string {
	switch o.Kind {
	case OutcomeAuthorized:
		var lines []string
		if o.Order != "" {
			lines = append(lines, "Order: "+o.Order)
		}
		if !o.Amount.IsZero() {
			lines = append(lines, "Amount: "+o.Amount.String())
		}
		if o.Timestamp != "" {
			lines = append(lines, "Date: "+o.Timestamp)
		}
		return lines
	case OutcomeRejected:
		return []string{
			"Response code: " + orUnknown(o.ResponseCode),
			"Authorization code: " + orUnknown(o.AuthorizationCode),
			"Date: " + orUnknown(o.Timestamp),
		}
	}
	return nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
