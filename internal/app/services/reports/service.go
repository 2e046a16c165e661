package reports

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/domain/loan"
	"github.com/qltv/library_service/internal/app/domain/patron"
	"github.com/qltv/library_service/internal/app/domain/payment"
	catalogsvc "github.com/qltv/library_service/internal/app/services/catalog"
	"github.com/qltv/library_service/internal/app/services/membership"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	lowStockThreshold = 3
	dashboardMonths   = 6
	maxLimit          = 100
)

// Stores are the read models reports aggregate over.
type Stores struct {
	Catalog  storage.CatalogStore
	Copies   storage.CopyStore
	Loans    storage.LoanStore
	Payments storage.PaymentStore
	Patrons  storage.PatronStore
}

// Rankings supplies borrowing popularity.
type Rankings interface {
	MostBorrowed(ctx context.Context, limit int) ([]catalogsvc.BookCount, error)
}

// TierCounter supplies membership distribution.
type TierCounter interface {
	Distribution(ctx context.Context) ([]membership.TierCount, error)
}

// Service builds staff reports and analytics.
type Service struct {
	stores   Stores
	rankings Rankings
	tiers    TierCounter
	pingers  map[string]storage.Pinger
	started  time.Time
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the report service.
func New(stores Stores, rankings Rankings, tiers TierCounter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reports")
	}
	return &Service{
		stores:   stores,
		rankings: rankings,
		tiers:    tiers,
		pingers:  make(map[string]storage.Pinger),
		started:  time.Now(),
		log:      log,
		now:      time.Now,
	}
}

// AttachPinger adds a dependency to the system health check.
func (s *Service) AttachPinger(name string, p storage.Pinger) {
	if p != nil {
		s.pingers[name] = p
	}
}

// MonthCount is the number of loans started in one month.
type MonthCount struct {
	Period string `json:"period"`
	Loans  int    `json:"totalLoans"`
}

// Dashboard is the landing page summary of the back office.
type Dashboard struct {
	TotalBooks       int          `json:"totalBooks"`
	TotalCopies      int          `json:"totalCopies"`
	AvailableCopies  int          `json:"availableCopies"`
	AvailableBooks   int          `json:"availableBooks"`
	TotalAuthors     int          `json:"totalAuthors"`
	TotalCategories  int          `json:"totalCategories"`
	TotalPublishers  int          `json:"totalPublishers"`
	TotalPatrons     int          `json:"totalPatrons"`
	ActivePatrons    int          `json:"activePatrons"`
	TotalLoans       int          `json:"totalLoans"`
	ActiveLoans      int          `json:"activeLoans"`
	OverdueLoans     int          `json:"overdueLoans"`
	LoansToday       int          `json:"loansToday"`
	LoansDueToday    int          `json:"loansDueToday"`
	PendingPayments  int          `json:"pendingPayments"`
	OutstandingFines int64        `json:"outstandingFines"`
	CollectedFines   int64        `json:"collectedFines"`
	MonthlyLoans     []MonthCount `json:"monthlyBorrowings"`
}

// Dashboard aggregates the headline numbers.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	books, err := s.stores.Catalog.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return d, err
	}
	d.TotalBooks = len(books)
	for _, b := range books {
		d.TotalCopies += b.TotalCopies
		d.AvailableCopies += b.AvailableCopies
		if b.AvailableCopies > 0 {
			d.AvailableBooks++
		}
	}
	authors, err := s.stores.Catalog.ListAuthors(ctx)
	if err != nil {
		return d, err
	}
	categories, err := s.stores.Catalog.ListCategories(ctx)
	if err != nil {
		return d, err
	}
	publishers, err := s.stores.Catalog.ListPublishers(ctx)
	if err != nil {
		return d, err
	}
	d.TotalAuthors, d.TotalCategories, d.TotalPublishers = len(authors), len(categories), len(publishers)

	patrons, err := s.stores.Patrons.ListPatrons(ctx, storage.PatronFilter{})
	if err != nil {
		return d, err
	}
	d.TotalPatrons = len(patrons)
	for _, p := range patrons {
		if p.Active {
			d.ActivePatrons++
		}
	}

	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return d, err
	}
	today := loan.Day(s.now())
	d.TotalLoans = len(loans)
	for _, l := range loans {
		if l.Status.Active() {
			d.ActiveLoans++
			if loan.Day(l.DueDate).Equal(today) {
				d.LoansDueToday++
			}
		}
		if l.Status == loan.StatusOverdue {
			d.OverdueLoans++
		}
		if l.Status != loan.StatusCancelled && loan.Day(l.LoanDate).Equal(today) {
			d.LoansToday++
		}
		if l.Status == loan.StatusReturned {
			d.OutstandingFines += l.OutstandingFine()
		}
	}

	payments, err := s.stores.Payments.ListPayments(ctx, storage.PaymentFilter{})
	if err != nil {
		return d, err
	}
	for _, p := range payments {
		switch {
		case p.Status == payment.StatusPending:
			d.PendingPayments++
		case p.Status == payment.StatusConfirmed && p.Kind == payment.KindFine:
			d.CollectedFines += p.Amount
		}
	}
	d.MonthlyLoans = monthly(loans, monthStart(today).AddDate(0, -(dashboardMonths-1), 0), today)
	return d, nil
}

// MonthlyReport counts loans per month in a date range.
type MonthlyReport struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Months []MonthCount `json:"monthlyData"`
	Total  int          `json:"totalLoans"`
}

// MonthlyLoans counts loans started between from and to inclusive.
func (s *Service) MonthlyLoans(ctx context.Context, from, to time.Time) (MonthlyReport, error) {
	from, to = loan.Day(from), loan.Day(to)
	if to.Before(from) {
		return MonthlyReport{}, svcerrors.InvalidInput("end date is before start date")
	}
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return MonthlyReport{}, err
	}
	months := monthly(loans, from, to)
	total := 0
	for _, m := range months {
		total += m.Loans
	}
	return MonthlyReport{
		From:   from.Format("2006-01-02"),
		To:     to.Format("2006-01-02"),
		Months: months,
		Total:  total,
	}, nil
}

// DailyReport is one day of desk activity.
type DailyReport struct {
	Date     string      `json:"date"`
	NewLoans []loan.Loan `json:"loans"`
	Returns  []loan.Loan `json:"returns"`
	DueToday int         `json:"dueToday"`
}

// DailyLoans lists loans started, returned and due on date.
func (s *Service) DailyLoans(ctx context.Context, date time.Time) (DailyReport, error) {
	day := loan.Day(date)
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return DailyReport{}, err
	}
	r := DailyReport{Date: day.Format("2006-01-02"), NewLoans: []loan.Loan{}, Returns: []loan.Loan{}}
	for _, l := range loans {
		if l.Status != loan.StatusCancelled && loan.Day(l.LoanDate).Equal(day) {
			r.NewLoans = append(r.NewLoans, l)
		}
		if l.ReturnDate != nil && loan.Day(*l.ReturnDate).Equal(day) {
			r.Returns = append(r.Returns, l)
		}
		if l.Status.Active() && loan.Day(l.DueDate).Equal(day) {
			r.DueToday++
		}
	}
	return r, nil
}

// PopularBooks ranks books by loan count.
func (s *Service) PopularBooks(ctx context.Context, limit int) ([]catalogsvc.BookCount, error) {
	if s.rankings == nil {
		return nil, svcerrors.Unavailable("popularity ranking is not configured", nil)
	}
	return s.rankings.MostBorrowed(ctx, clamp(limit))
}

// ActivePatronsReport summarises active accounts per role.
type ActivePatronsReport struct {
	Total   int                 `json:"totalActivePatrons"`
	ByRole  map[patron.Role]int `json:"roleDistribution"`
	Patrons []patron.Patron     `json:"activePatrons"`
}

// ActivePatrons lists active accounts grouped by role.
func (s *Service) ActivePatrons(ctx context.Context) (ActivePatronsReport, error) {
	active := true
	patrons, err := s.stores.Patrons.ListPatrons(ctx, storage.PatronFilter{Active: &active})
	if err != nil {
		return ActivePatronsReport{}, err
	}
	r := ActivePatronsReport{Total: len(patrons), ByRole: make(map[patron.Role]int), Patrons: patrons}
	for _, p := range patrons {
		r.ByRole[p.Role]++
	}
	return r, nil
}

// OverdueReport summarises loans past due.
type OverdueReport struct {
	Loans           []loan.Loan `json:"overdueLoans"`
	Total           int         `json:"totalOverdue"`
	TotalFines      int64       `json:"totalFines"`
	AffectedPatrons int         `json:"affectedPatrons"`
}

// OverdueReport lists OVERDUE loans with their accrued fines.
func (s *Service) OverdueReport(ctx context.Context) (OverdueReport, error) {
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{Statuses: []loan.Status{loan.StatusOverdue}})
	if err != nil {
		return OverdueReport{}, err
	}
	patrons := make(map[string]bool)
	r := OverdueReport{Loans: loans, Total: len(loans)}
	for _, l := range loans {
		r.TotalFines += l.FineAmount
		patrons[l.PatronID] = true
	}
	r.AffectedPatrons = len(patrons)
	return r, nil
}

// FinesReport summarises assessed fines.
type FinesReport struct {
	Loans       []loan.Loan `json:"loansWithFines"`
	Count       int         `json:"fineCount"`
	TotalFines  int64       `json:"totalFines"`
	Paid        int64       `json:"paidFines"`
	Outstanding int64       `json:"outstandingFines"`
}

// FinesReport lists loans carrying a fine.
func (s *Service) FinesReport(ctx context.Context) (FinesReport, error) {
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return FinesReport{}, err
	}
	r := FinesReport{Loans: []loan.Loan{}}
	for _, l := range loans {
		if l.FineAmount <= 0 {
			continue
		}
		r.Loans = append(r.Loans, l)
		r.TotalFines += l.FineAmount
		if l.FinePaid {
			r.Paid += l.FineAmount
		} else {
			r.Outstanding += l.FineAmount
		}
	}
	r.Count = len(r.Loans)
	return r, nil
}

// Share is a labelled count with its percentage of the whole.
type Share struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percentage"`
}

// GenreDistribution counts books per genre.
func (s *Service) GenreDistribution(ctx context.Context) ([]Share, error) {
	books, err := s.stores.Catalog.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, b := range books {
		if g := strings.TrimSpace(b.Genre); g != "" {
			counts[g]++
		}
	}
	return shares(counts, len(books)), nil
}

// CategoryDistribution counts books per category name.
func (s *Service) CategoryDistribution(ctx context.Context) ([]Share, error) {
	books, err := s.stores.Catalog.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	categories, err := s.stores.Catalog.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	counts := make(map[string]int)
	for _, b := range books {
		if name, ok := names[b.CategoryID]; ok {
			counts[name]++
		}
	}
	return shares(counts, len(books)), nil
}

// InventoryReport breaks copies down by status and condition.
type InventoryReport struct {
	TotalBooks      int                         `json:"totalBooks"`
	TotalCopies     int                         `json:"totalCopies"`
	AvailableCopies int                         `json:"availableCopies"`
	OnLoanCopies    int                         `json:"onLoanCopies"`
	ByStatus        map[inventory.Status]int    `json:"byStatus"`
	ByCondition     map[inventory.Condition]int `json:"byCondition"`
	LowStock        []catalog.Book              `json:"lowStockBooks"`
}

// Inventory reports copy counts and titles running low.
func (s *Service) Inventory(ctx context.Context) (InventoryReport, error) {
	books, err := s.stores.Catalog.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return InventoryReport{}, err
	}
	copies, err := s.stores.Copies.ListCopies(ctx, "")
	if err != nil {
		return InventoryReport{}, err
	}
	r := InventoryReport{
		TotalBooks:  len(books),
		TotalCopies: len(copies),
		ByStatus:    make(map[inventory.Status]int),
		ByCondition: make(map[inventory.Condition]int),
		LowStock:    []catalog.Book{},
	}
	for _, c := range copies {
		r.ByStatus[c.Status]++
		r.ByCondition[c.Condition]++
	}
	r.AvailableCopies = r.ByStatus[inventory.StatusAvailable]
	r.OnLoanCopies = r.ByStatus[inventory.StatusBorrowed]
	for _, b := range books {
		if b.Status != catalog.StatusDiscontinued && b.AvailableCopies < lowStockThreshold {
			r.LowStock = append(r.LowStock, b)
		}
	}
	return r, nil
}

// Trend is one month of loan activity.
type Trend struct {
	Period     string  `json:"period"`
	Loans      int     `json:"totalLoans"`
	ReturnRate float64 `json:"returnRate"`
	NewMembers int     `json:"newMembers"`
}

// LoanTrends reports loans, return rate and sign-ups for the last months.
func (s *Service) LoanTrends(ctx context.Context, months int) ([]Trend, error) {
	if months <= 0 {
		months = dashboardMonths
	}
	if months > 36 {
		months = 36
	}
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return nil, err
	}
	patrons, err := s.stores.Patrons.ListPatrons(ctx, storage.PatronFilter{})
	if err != nil {
		return nil, err
	}
	start := monthStart(loan.Day(s.now())).AddDate(0, -(months - 1), 0)
	trends := make([]Trend, months)
	index := func(t time.Time) int {
		m := monthStart(loan.Day(t))
		i := (m.Year()-start.Year())*12 + int(m.Month()) - int(start.Month())
		if i < 0 || i >= months {
			return -1
		}
		return i
	}
	returned := make([]int, months)
	for i := range trends {
		trends[i].Period = start.AddDate(0, i, 0).Format("Jan 2006")
	}
	for _, l := range loans {
		if l.Status == loan.StatusCancelled {
			continue
		}
		if i := index(l.LoanDate); i >= 0 {
			trends[i].Loans++
			if l.ReturnDate != nil {
				returned[i]++
			}
		}
	}
	for _, p := range patrons {
		if i := index(p.CreatedAt); i >= 0 {
			trends[i].NewMembers++
		}
	}
	for i := range trends {
		if trends[i].Loans > 0 {
			trends[i].ReturnRate = math.Round(float64(returned[i])*10000/float64(trends[i].Loans)) / 100
		}
	}
	return trends, nil
}

// MembershipDistribution counts patrons per tier.
func (s *Service) MembershipDistribution(ctx context.Context) ([]membership.TierCount, error) {
	if s.tiers == nil {
		return nil, svcerrors.Unavailable("membership is not configured", nil)
	}
	return s.tiers.Distribution(ctx)
}

// PatronActivity ranks one patron by loans.
type PatronActivity struct {
	PatronID    string `json:"userId"`
	Name        string `json:"userName"`
	Email       string `json:"email"`
	TotalLoans  int    `json:"totalLoans"`
	LateReturns int    `json:"lateReturns"`
	Rating      string `json:"rating,omitempty"`
}

// TopActivePatrons ranks patrons by number of loans.
func (s *Service) TopActivePatrons(ctx context.Context, limit int) ([]PatronActivity, error) {
	activity, err := s.activity(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(activity, func(i, j int) bool { return activity[i].TotalLoans > activity[j].TotalLoans })
	return head(activity, clamp(limit)), nil
}

// FrequentLateReturners ranks patrons by late returns and rates their
// punctuality.
func (s *Service) FrequentLateReturners(ctx context.Context, limit int) ([]PatronActivity, error) {
	activity, err := s.activity(ctx)
	if err != nil {
		return nil, err
	}
	late := make([]PatronActivity, 0)
	for _, a := range activity {
		if a.LateReturns == 0 {
			continue
		}
		ratio := float64(a.LateReturns) * 100 / float64(a.TotalLoans)
		switch {
		case ratio > 50:
			a.Rating = "POOR"
		case ratio > 20:
			a.Rating = "FAIR"
		default:
			a.Rating = "GOOD"
		}
		late = append(late, a)
	}
	sort.SliceStable(late, func(i, j int) bool { return late[i].LateReturns > late[j].LateReturns })
	return head(late, clamp(limit)), nil
}

func (s *Service) activity(ctx context.Context) ([]PatronActivity, error) {
	loans, err := s.stores.Loans.ListLoans(ctx, storage.LoanFilter{})
	if err != nil {
		return nil, err
	}
	patrons, err := s.stores.Patrons.ListPatrons(ctx, storage.PatronFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*PatronActivity, len(patrons))
	out := make([]PatronActivity, 0, len(patrons))
	for _, p := range patrons {
		out = append(out, PatronActivity{PatronID: p.ID, Name: p.Name, Email: p.Email})
	}
	for i := range out {
		byID[out[i].PatronID] = &out[i]
	}
	for _, l := range loans {
		a, ok := byID[l.PatronID]
		if !ok || l.Status == loan.StatusCancelled {
			continue
		}
		a.TotalLoans++
		if l.ReturnDate != nil && loan.Day(*l.ReturnDate).After(loan.Day(l.DueDate)) {
			a.LateReturns++
		}
	}
	active := out[:0]
	for _, a := range out {
		if a.TotalLoans > 0 {
			active = append(active, a)
		}
	}
	return active, nil
}

func monthly(loans []loan.Loan, from, to time.Time) []MonthCount {
	out := make([]MonthCount, 0)
	for m := monthStart(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		out = append(out, MonthCount{Period: m.Format("January 2006")})
	}
	for _, l := range loans {
		day := loan.Day(l.LoanDate)
		if l.Status == loan.StatusCancelled || day.Before(from) || day.After(to) {
			continue
		}
		m := monthStart(day)
		i := (m.Year()-from.Year())*12 + int(m.Month()) - int(from.Month())
		if i >= 0 && i < len(out) {
			out[i].Loans++
		}
	}
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func shares(counts map[string]int, total int) []Share {
	out := make([]Share, 0, len(counts))
	for label, n := range counts {
		sh := Share{Label: label, Count: n}
		if total > 0 {
			sh.Percent = math.Round(float64(n)*10000/float64(total)) / 100
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func clamp(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
