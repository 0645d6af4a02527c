package installments

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Accepted view parameter values.
const (
	FilterAll     = "all"
	SortDueDate   = "dueDate"
	SortAmount    = "amount"
	OrderAsc      = "asc"
	OrderDesc     = "desc"
	DefaultWindow = 30
)

// Query parameterises the flattened installment list.
type Query struct {
	Status    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Normalize fills defaults and rejects unknown values.
func (q Query) Normalize() (Query, error) {
	switch q.Status {
	case "":
		q.Status = FilterAll
	case FilterAll, string(sales.StatusPending), string(sales.StatusPaid), string(sales.StatusOverdue):
	default:
		return q, shared.Invalid("status", "must be pending, paid, overdue or all")
	}
	switch q.SortBy {
	case "":
		q.SortBy = SortDueDate
	case SortDueDate, SortAmount:
	default:
		return q, shared.Invalid("sortBy", "must be dueDate or amount")
	}
	switch q.SortOrder {
	case "":
		q.SortOrder = OrderAsc
	case OrderAsc, OrderDesc:
	default:
		return q, shared.Invalid("sortOrder", "must be asc or desc")
	}
	q.Page, q.Limit = shared.NormalizePage(q.Page, q.Limit)
	return q, nil
}

// CustomerRef is the denormalised customer shown next to an installment.
type CustomerRef struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	CIN         string `json:"cin"`
}

// ArticleSummary is a display line of the owning sale.
type ArticleSummary struct {
	Product    string          `json:"product"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// ServiceSummary is a display service of the owning sale.
type ServiceSummary struct {
	Service string          `json:"service"`
	Cost    decimal.Decimal `json:"cost"`
}

// SaleInfo summarises the sale an installment belongs to.
type SaleInfo struct {
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	PaymentType sales.PaymentType `json:"paymentType"`
	CreatedAt   time.Time         `json:"createdAt"`
	Articles    []ArticleSummary  `json:"articles"`
	Services    []ServiceSummary  `json:"services"`
}

// InstallmentView is an installment with its status as of the view time.
type InstallmentView struct {
	Amount        decimal.Decimal         `json:"amount"`
	DueDate       time.Time               `json:"dueDate"`
	Status        sales.InstallmentStatus `json:"status"`
	PaymentDate   *time.Time              `json:"paymentDate"`
	PaymentMethod *sales.PaymentMethod    `json:"paymentMethod"`
	Notes         *string                 `json:"notes"`
	DaysUntilDue  int                     `json:"daysUntilDue"`
}

// Entry is one flattened installment.
type Entry struct {
	ID          string          `json:"id"`
	SaleID      int64           `json:"venteId"`
	Index       int             `json:"installmentIndex"`
	Customer    *CustomerRef    `json:"customer,omitempty"`
	Sale        SaleInfo        `json:"venteInfo"`
	Installment InstallmentView `json:"installment"`
}

// Stats aggregates a filtered installment set. Amounts are rendered with two decimals.
type Stats struct {
	TotalPending    int    `json:"totalPending"`
	TotalPaid       int    `json:"totalPaid"`
	TotalOverdue    int    `json:"totalOverdue"`
	TotalAmount     string `json:"totalAmount"`
	PaidAmount      string `json:"paidAmount"`
	RemainingAmount string `json:"remainingAmount"`
}

// Listing is the response of the global installment list.
type Listing struct {
	Installments []Entry           `json:"installments"`
	Pagination   shared.Pagination `json:"pagination"`
	Stats        Stats             `json:"stats"`
}

// CustomerListing is the installment list of one customer.
type CustomerListing struct {
	Customer     CustomerRef       `json:"customer"`
	Installments []Entry           `json:"installments"`
	Pagination   shared.Pagination `json:"pagination"`
	Stats        Stats             `json:"stats"`
}

// DaysUntilDue is the number of started days between now and due; negative once past due.
func DaysUntilDue(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

func customerRef(c masterdata.Customer, id int64) CustomerRef {
	return CustomerRef{ID: id, Name: c.DisplayName(), PhoneNumber: c.PhoneNumber, CIN: c.CIN}
}

func saleInfo(s sales.Sale) SaleInfo {
	info := SaleInfo{
		TotalAmount: s.TotalCost,
		PaymentType: s.PaymentType,
		CreatedAt:   s.CreatedAt,
		Articles:    make([]ArticleSummary, 0, len(s.Articles)),
		Services:    make([]ServiceSummary, 0, len(s.Services)),
	}
	for _, a := range s.Articles {
		title := a.ProductTitle
		if title == "" {
			title = "Produit"
		}
		info.Articles = append(info.Articles, ArticleSummary{Product: title, Quantity: a.Quantity, TotalPrice: a.TotalPrice})
	}
	for _, sv := range s.Services {
		name := sv.ServiceType
		if name == "" {
			name = "Service"
		}
		info.Services = append(info.Services, ServiceSummary{Service: name, Cost: sv.Cost})
	}
	return info
}

func view(inst sales.Installment, now time.Time) InstallmentView {
	return InstallmentView{
		Amount:        inst.Amount,
		DueDate:       inst.DueDate,
		Status:        inst.EffectiveStatus(now),
		PaymentDate:   inst.PaymentDate,
		PaymentMethod: inst.PaymentMethod,
		Notes:         inst.Notes,
		DaysUntilDue:  DaysUntilDue(inst.DueDate, now),
	}
}

// Flatten expands every installment of every sale into entries keyed "{saleId}_{index}", using the
// real position of the installment in its sale. withCustomer controls whether entries embed the
// customer reference.
func Flatten(list []sales.Sale, customers map[int64]masterdata.Customer, now time.Time, withCustomer bool) []Entry {
	var out []Entry
	for _, s := range list {
		info := saleInfo(s)
		var ref *CustomerRef
		if withCustomer {
			r := customerRef(customers[s.CustomerID], s.CustomerID)
			ref = &r
		}
		for i, inst := range s.Installments {
			out = append(out, Entry{
				ID:          sales.InstallmentID(s.ID, i),
				SaleID:      s.ID,
				Index:       i,
				Customer:    ref,
				Sale:        info,
				Installment: view(inst, now),
			})
		}
	}
	return out
}

// FilterStatus keeps entries whose effective status matches; "all" keeps everything.
func FilterStatus(entries []Entry, status string) []Entry {
	if status == "" || status == FilterAll {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if string(e.Installment.Status) == status {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders entries by due date or amount. Ties keep a deterministic order by sale and index.
func Sort(entries []Entry, by, order string) {
	desc := order == OrderDesc
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Installment, entries[j].Installment
		var cmp int
		switch by {
		case SortAmount:
			cmp = a.Amount.Cmp(b.Amount)
		default:
			cmp = a.DueDate.Compare(b.DueDate)
		}
		if cmp == 0 {
			if entries[i].SaleID != entries[j].SaleID {
				return entries[i].SaleID < entries[j].SaleID
			}
			return entries[i].Index < entries[j].Index
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// ComputeStats aggregates counts and amounts over entries.
func ComputeStats(entries []Entry) Stats {
	var st Stats
	total, paid := decimal.Zero, decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Installment.Amount)
		switch e.Installment.Status {
		case sales.StatusPending:
			st.TotalPending++
		case sales.StatusPaid:
			st.TotalPaid++
			paid = paid.Add(e.Installment.Amount)
		case sales.StatusOverdue:
			st.TotalOverdue++
		}
	}
	st.TotalAmount = total.StringFixed(2)
	st.PaidAmount = paid.StringFixed(2)
	st.RemainingAmount = total.Sub(paid).StringFixed(2)
	return st
}

// BuildListing filters, sorts, computes stats over the whole filtered set and then paginates.
func BuildListing(entries []Entry, q Query) Listing {
	filtered := FilterStatus(entries, q.Status)
	Sort(filtered, q.SortBy, q.SortOrder)
	start, end := shared.Window(q.Page, q.Limit, len(filtered))
	page := append([]Entry{}, filtered[start:end]...)
	return Listing{
		Installments: page,
		Pagination:   shared.NewPagination(q.Page, q.Limit, len(filtered)),
		Stats:        ComputeStats(filtered),
	}
}

// ============================================================================
// DASHBOARD
// ============================================================================

// DashboardQuery parameterises the upcoming-installments dashboard.
type DashboardQuery struct {
	DaysAhead  int
	IncludeAll bool
	Page       int
	Limit      int
}

// Normalize fills defaults.
func (q DashboardQuery) Normalize() (DashboardQuery, error) {
	if q.DaysAhead < 0 {
		return q, shared.Invalid("daysAhead", "must not be negative")
	}
	if q.DaysAhead == 0 {
		q.DaysAhead = DefaultWindow
	}
	q.Page, q.Limit = shared.NormalizePage(q.Page, q.Limit)
	return q, nil
}

// CustomerGroup is one dashboard row.
type CustomerGroup struct {
	Customer             CustomerRef     `json:"customer"`
	UpcomingInstallments []Entry         `json:"upcomingInstallments"`
	TotalUpcomingAmount  decimal.Decimal `json:"totalUpcomingAmount"`
	OverdueCount         int             `json:"overdueCount"`
	PendingCount         int             `json:"pendingCount"`
}

// DashboardStats aggregates every group, not only the current page.
type DashboardStats struct {
	TotalCustomers      int    `json:"totalCustomers"`
	TotalUpcomingAmount string `json:"totalUpcomingAmount"`
	TotalOverdueCount   int    `json:"totalOverdueCount"`
	TotalPendingCount   int    `json:"totalPendingCount"`
	DaysAhead           int    `json:"daysAhead"`
}

// Dashboard is the response of the upcoming-installments dashboard.
type Dashboard struct {
	Customers  []CustomerGroup   `json:"customers"`
	Pagination shared.Pagination `json:"pagination"`
	Stats      DashboardStats    `json:"stats"`
}

// ClientUpcoming is the upcoming installments of one customer.
type ClientUpcoming struct {
	Customer             CustomerRef         `json:"customer"`
	UpcomingInstallments []Entry             `json:"upcomingInstallments"`
	Stats                ClientUpcomingStats `json:"stats"`
}

// ClientUpcomingStats aggregates a customer's upcoming installments.
type ClientUpcomingStats struct {
	TotalInstallments   int    `json:"totalInstallments"`
	TotalUpcomingAmount string `json:"totalUpcomingAmount"`
	OverdueCount        int    `json:"overdueCount"`
	PendingCount        int    `json:"pendingCount"`
	DaysAhead           int    `json:"daysAhead"`
}

// upcoming reports whether inst belongs on the dashboard: open, and either anything when
// includeAll is set or due within [now, now+daysAhead].
func upcoming(inst sales.Installment, now time.Time, daysAhead int, includeAll bool) bool {
	status := inst.EffectiveStatus(now)
	if status != sales.StatusPending && status != sales.StatusOverdue {
		return false
	}
	if includeAll {
		return true
	}
	horizon := now.AddDate(0, 0, daysAhead)
	return !inst.DueDate.Before(now) && !inst.DueDate.After(horizon)
}

func upcomingEntries(s sales.Sale, now time.Time, daysAhead int, includeAll bool) []Entry {
	info := saleInfo(s)
	var out []Entry
	for i, inst := range s.Installments {
		if !upcoming(inst, now, daysAhead, includeAll) {
			continue
		}
		out = append(out, Entry{
			ID:          sales.InstallmentID(s.ID, i),
			SaleID:      s.ID,
			Index:       i,
			Sale:        info,
			Installment: view(inst, now),
		})
	}
	return out
}

// BuildDashboard groups upcoming installments per customer. Customers with an overdue
// installment come first, then by earliest due date, then by name in French collation order.
func BuildDashboard(list []sales.Sale, customers map[int64]masterdata.Customer, q DashboardQuery, now time.Time) Dashboard {
	groups := make(map[int64]*CustomerGroup)
	earliest := make(map[int64]time.Time)
	var order []int64
	for _, s := range list {
		entries := upcomingEntries(s, now, q.DaysAhead, q.IncludeAll)
		if len(entries) == 0 {
			continue
		}
		g, ok := groups[s.CustomerID]
		if !ok {
			g = &CustomerGroup{Customer: customerRef(customers[s.CustomerID], s.CustomerID), TotalUpcomingAmount: decimal.Zero}
			groups[s.CustomerID] = g
			order = append(order, s.CustomerID)
		}
		for _, e := range entries {
			g.UpcomingInstallments = append(g.UpcomingInstallments, e)
			g.TotalUpcomingAmount = g.TotalUpcomingAmount.Add(e.Installment.Amount)
			if e.Installment.Status == sales.StatusOverdue {
				g.OverdueCount++
			} else {
				g.PendingCount++
			}
			if cur, ok := earliest[s.CustomerID]; !ok || e.Installment.DueDate.Before(cur) {
				earliest[s.CustomerID] = e.Installment.DueDate
			}
		}
	}

	rows := make([]CustomerGroup, 0, len(order))
	for _, id := range order {
		g := groups[id]
		sortByUrgency(g.UpcomingInstallments)
		rows = append(rows, *g)
	}
	coll := collate.New(language.French, collate.IgnoreCase)
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.OverdueCount > 0) != (b.OverdueCount > 0) {
			return a.OverdueCount > 0
		}
		ea, eb := earliest[a.Customer.ID], earliest[b.Customer.ID]
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		if c := coll.CompareString(a.Customer.Name, b.Customer.Name); c != 0 {
			return c < 0
		}
		return a.Customer.ID < b.Customer.ID
	})

	stats := DashboardStats{TotalCustomers: len(rows), DaysAhead: q.DaysAhead}
	total := decimal.Zero
	for _, g := range rows {
		total = total.Add(g.TotalUpcomingAmount)
		stats.TotalOverdueCount += g.OverdueCount
		stats.TotalPendingCount += g.PendingCount
	}
	stats.TotalUpcomingAmount = total.StringFixed(2)

	start, end := shared.Window(q.Page, q.Limit, len(rows))
	return Dashboard{
		Customers:  append([]CustomerGroup{}, rows[start:end]...),
		Pagination: shared.NewPagination(q.Page, q.Limit, len(rows)),
		Stats:      stats,
	}
}

// BuildClientUpcoming lists one customer's installments due within the window, overdue first.
func BuildClientUpcoming(list []sales.Sale, customer masterdata.Customer, daysAhead int, now time.Time) ClientUpcoming {
	out := ClientUpcoming{
		Customer:             customerRef(customer, customer.ID),
		UpcomingInstallments: []Entry{},
	}
	total := decimal.Zero
	for _, s := range list {
		for _, e := range upcomingEntries(s, now, daysAhead, false) {
			out.UpcomingInstallments = append(out.UpcomingInstallments, e)
			total = total.Add(e.Installment.Amount)
			if e.Installment.Status == sales.StatusOverdue {
				out.Stats.OverdueCount++
			} else {
				out.Stats.PendingCount++
			}
		}
	}
	sortByUrgency(out.UpcomingInstallments)
	out.Stats.TotalInstallments = len(out.UpcomingInstallments)
	out.Stats.TotalUpcomingAmount = total.StringFixed(2)
	out.Stats.DaysAhead = daysAhead
	return out
}

func sortByUrgency(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Installment, entries[j].Installment
		aOver, bOver := a.Status == sales.StatusOverdue, b.Status == sales.StatusOverdue
		if aOver != bOver {
			return aOver
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return entries[i].ID < entries[j].ID
	})
}
