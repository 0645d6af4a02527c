package ventes

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/sales/installments"
	"github.com/serat-auto/backoffice/internal/sales/pricing"
	"github.com/serat-auto/backoffice/internal/shared"
)

// ref is an entity reference: a bare id (number or numeric string) or an embedded object
// carrying "id" or "_id".
type ref int64

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = 0
		return nil
	}
	switch b[0] {
	case '{':
		var obj struct {
			ID      *ref `json:"id"`
			MongoID *ref `json:"_id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.ID != nil:
			*r = *obj.ID
		case obj.MongoID != nil:
			*r = *obj.MongoID
		default:
			*r = 0
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*r = 0
			return nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return shared.Invalid("id", "must be a numeric id")
		}
		*r = ref(id)
		return nil
	}
	var id int64
	if err := json.Unmarshal(b, &id); err != nil {
		return shared.Invalid("id", "must be a numeric id")
	}
	*r = ref(id)
	return nil
}

// articleLine is an article as a bare product reference or {product|_id, quantity}.
type articleLine struct {
	ProductID int64
	Quantity  int
}

func (a *articleLine) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	a.Quantity = 1
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Product  *ref `json:"product"`
			MongoID  *ref `json:"_id"`
			Quantity *int `json:"quantity"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.Product != nil && *obj.Product != 0:
			a.ProductID = int64(*obj.Product)
		case obj.MongoID != nil:
			a.ProductID = int64(*obj.MongoID)
		}
		if obj.Quantity != nil && *obj.Quantity != 0 {
			a.Quantity = *obj.Quantity
		}
		return nil
	}
	var id ref
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	a.ProductID = int64(id)
	return nil
}

// serviceLine is a service as a bare reference or {service|_id, cost?, description?}.
type serviceLine struct {
	ServiceID   int64
	Cost        *decimal.Decimal
	Description string
}

func (s *serviceLine) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Service     *ref             `json:"service"`
			MongoID     *ref             `json:"_id"`
			Cost        *decimal.Decimal `json:"cost"`
			Description string           `json:"description"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.Service != nil && *obj.Service != 0:
			s.ServiceID = int64(*obj.Service)
		case obj.MongoID != nil:
			s.ServiceID = int64(*obj.MongoID)
		}
		s.Cost = obj.Cost
		s.Description = strings.TrimSpace(obj.Description)
		return nil
	}
	var id ref
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	s.ServiceID = int64(id)
	return nil
}

// dueDate accepts RFC 3339 timestamps and plain calendar dates.
type dueDate struct {
	time.Time
}

func (d *dueDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return shared.Invalid("dueDate", "must be a date string")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return shared.Invalid("dueDate", "must be an ISO 8601 date")
}

type installmentDraft struct {
	Amount  *decimal.Decimal `json:"amount"`
	DueDate *dueDate         `json:"dueDate"`
}

// saleRequest is the body of POST and PUT /ventes.
type saleRequest struct {
	Customer      *ref                `json:"customer"`
	Articles      []articleLine       `json:"articles"`
	Services      []serviceLine       `json:"services"`
	Reduction     *decimal.Decimal    `json:"reduction"`
	ReductionType sales.ReductionType `json:"reductionType" validate:"omitempty,oneof=amount percent"`
	PaymentType   sales.PaymentType   `json:"paymentType" validate:"required,oneof=comptant facilite"`
	Installments  []installmentDraft  `json:"installments"`
	Notes         *string             `json:"notes" validate:"omitempty,max=500"`
}

// input converts the request into service input. Lines without a reference are rejected here,
// before any lookup runs.
func (req saleRequest) input() (Input, error) {
	in := Input{
		ReductionType: req.ReductionType,
		PaymentType:   req.PaymentType,
		Notes:         req.Notes,
		Reduction:     decimal.Zero,
	}
	if req.Customer != nil {
		in.CustomerID = int64(*req.Customer)
	}
	if req.Reduction != nil {
		in.Reduction = *req.Reduction
	}
	for _, a := range req.Articles {
		if a.ProductID <= 0 {
			return Input{}, shared.Invalid("articles", "product id missing in one of the articles")
		}
		in.Articles = append(in.Articles, pricing.ArticleLine{ProductID: a.ProductID, Quantity: a.Quantity})
	}
	for _, s := range req.Services {
		if s.ServiceID <= 0 {
			return Input{}, shared.Invalid("services", "service id missing in one of the services")
		}
		in.Services = append(in.Services, pricing.ServiceLine{ServiceID: s.ServiceID, Cost: s.Cost, Description: s.Description})
	}
	for _, d := range req.Installments {
		draft := installments.Draft{Amount: d.Amount}
		if d.DueDate != nil {
			due := d.DueDate.Time
			draft.DueDate = &due
		}
		in.Installments = append(in.Installments, draft)
	}
	return in, nil
}
