package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// wireID accepts product ids sent as JSON numbers or strings. Canonical
// integers are sent back as numbers, anything else as strings.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = wireID(n.String())
	return nil
}

func (id wireID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// flexString accepts a JSON string, number or null.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
	default:
		*s = flexString(b)
	}
	return nil
}

type wireProduct struct {
	ID          wireID          `json:"id"`
	Name        string          `json:"nombre"`
	Description string          `json:"descripcion"`
	Category    string          `json:"categoria"`
	Price       decimal.Decimal `json:"precio"`
	Stock       int             `json:"stock"`
	Image       string          `json:"imagen"`
}

func (p wireProduct) toDomain() domain.Product {
	return domain.Product{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Stock:       p.Stock,
		Image:       p.Image,
	}
}

type wireItem struct {
	ID       wireID `json:"id"`
	Quantity int    `json:"cantidad"`
}

func toWireItems(items []domain.Item) []wireItem {
	out := make([]wireItem, len(items))
	for i, it := range items {
		out[i] = wireItem{ID: wireID(it.ProductID), Quantity: it.Quantity}
	}
	return out
}

type itemsRequest struct {
	Items []wireItem `json:"items"`
}

type reserveResponse struct {
	Stock *int   `json:"stock"`
	Error string `json:"error"`
}

type transactionResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

type commitResponse struct {
	Status            string          `json:"status"`
	Order             string          `json:"order"`
	BuyOrder          string          `json:"buy_order"`
	Amount            decimal.Decimal `json:"amount"`
	TransactionDate   string          `json:"transaction_date"`
	ResponseCode      flexString      `json:"response_code"`
	AuthorizationCode flexString      `json:"authorization_code"`
}

func (r commitResponse) toDomain() domain.CommitStatus {
	order := r.Order
	if order == "" {
		order = r.BuyOrder
	}
	return domain.CommitStatus{
		Status:            r.Status,
		Order:             order,
		Amount:            r.Amount,
		TransactionDate:   r.TransactionDate,
		ResponseCode:      string(r.ResponseCode),
		AuthorizationCode: string(r.AuthorizationCode),
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
