package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"secscan.app/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[string]*User
	submissions map[string]*Submission
	partners    map[string]*Partner
	masters     map[string]*MasterPartner
	sales       map[string]*PartnerSale
	usages      map[string]*CouponUsage
	recovery    map[string]*RecoveryCode
	coupons     map[string]string // code -> owner kind
	settings    RegistrationSettings
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store with default registration settings.
func NewInMemory() *InMemory {
	return &InMemory{
		now:         func() time.Time { return time.Now().UTC() },
		users:       make(map[string]*User),
		submissions: make(map[string]*Submission),
		partners:    make(map[string]*Partner),
		masters:     make(map[string]*MasterPartner),
		sales:       make(map[string]*PartnerSale),
		usages:      make(map[string]*CouponUsage),
		recovery:    make(map[string]*RecoveryCode),
		coupons:     make(map[string]string),
		settings:    DefaultRegistrationSettings(),
	}
}

func (s *InMemory) Ping(context.Context) error { return nil }

// ---- users ----

func (s *InMemory) CreateUser(_ context.Context, u User) (User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := u
	s.users[u.ID] = &cp
	return u, nil
}

func (s *InMemory) UserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *InMemory) UserByEmail(_ context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) UpdatePassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now()
	return nil
}

func (s *InMemory) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// ---- submissions ----

func (s *InMemory) CreateSubmission(_ context.Context, sub Submission) (Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	if sub.AnalysisStatus == "" {
		sub.AnalysisStatus = AnalysisPending
	}
	if sub.ContactStatus == "" {
		sub.ContactStatus = ContactPending
	}
	now := s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	cp := sub
	s.submissions[sub.ID] = &cp
	return sub, nil
}

func (s *InMemory) SubmissionByID(_ context.Context, id string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return *sub, nil
}

func (s *InMemory) SubmissionByPaymentID(_ context.Context, paymentID string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub := s.byPaymentLocked(paymentID); sub != nil {
		return *sub, nil
	}
	return Submission{}, ErrNotFound
}

func (s *InMemory) byPaymentLocked(paymentID string) *Submission {
	if paymentID == "" {
		return nil
	}
	for _, sub := range s.submissions {
		if sub.PaymentID == paymentID {
			return sub
		}
	}
	return nil
}

func (s *InMemory) AttachPayment(_ context.Context, id, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	sub.PaymentID = paymentID
	sub.PaymentStatus = PaymentPending
	sub.UpdatedAt = s.now()
	return nil
}

func (s *InMemory) MarkApproved(_ context.Context, paymentID string) (Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.byPaymentLocked(paymentID)
	if sub == nil {
		return Submission{}, false, ErrNotFound
	}
	if sub.PaymentStatus == PaymentApproved {
		return *sub, false, nil
	}
	sub.PaymentStatus = PaymentApproved
	sub.UpdatedAt = s.now()
	return *sub, true, nil
}

func (s *InMemory) SetPaymentStatus(_ context.Context, paymentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.byPaymentLocked(paymentID)
	if sub == nil {
		return ErrNotFound
	}
	if sub.PaymentStatus == PaymentApproved {
		return nil
	}
	sub.PaymentStatus = status
	sub.UpdatedAt = s.now()
	return nil
}

func (s *InMemory) ListSubmissions(_ context.Context, f SubmissionFilter) ([]Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Submission, 0)
	for _, sub := range s.submissions {
		if f.PaymentStatus != "" && sub.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.NotPaymentStatus != "" && sub.PaymentStatus == f.NotPaymentStatus {
			continue
		}
		if f.Analysis != "" && sub.AnalysisStatus != f.Analysis {
			continue
		}
		if f.UserID != "" && sub.UserID != f.UserID {
			continue
		}
		out = append(out, *sub)
	}
	// newest first; ULIDs break ties within the same instant
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) UpdateSubmissionStatus(_ context.Context, id, analysis, contact string) (Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	if analysis != "" {
		sub.AnalysisStatus = analysis
	}
	if contact != "" {
		sub.ContactStatus = contact
	}
	sub.UpdatedAt = s.now()
	return *sub, nil
}

func (s *InMemory) DeleteSubmission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return ErrNotFound
	}
	delete(s.submissions, id)
	return nil
}

func (s *InMemory) SubmissionStats(_ context.Context) (SubmissionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st SubmissionStats
	for _, sub := range s.submissions {
		if sub.PaymentStatus != PaymentApproved {
			continue
		}
		st.Total++
		switch sub.AnalysisStatus {
		case AnalysisPending:
			st.Pending++
		case AnalysisVulnerable:
			st.Vulnerable++
		case AnalysisSafe:
			st.Safe++
		}
	}
	return st, nil
}

// ---- affiliates ----

func (s *InMemory) CouponOwner(_ context.Context, code string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, ok := s.coupons[code]
	if !ok {
		return "", ErrNotFound
	}
	return kind, nil
}

func (s *InMemory) CreatePartner(_ context.Context, p Partner) (Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.partners {
		if existing.CPF == p.CPF {
			return Partner{}, ErrCPFTaken
		}
		if p.RegistrationPaymentID != "" && existing.RegistrationPaymentID == p.RegistrationPaymentID {
			return Partner{}, ErrPaymentUsed
		}
	}
	if _, taken := s.coupons[p.CouponCode]; taken {
		return Partner{}, ErrCouponTaken
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := p
	s.partners[p.ID] = &cp
	s.coupons[p.CouponCode] = CouponOwnerPartner
	return p, nil
}

func (s *InMemory) PartnerByCoupon(_ context.Context, code string) (Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partners {
		if p.CouponCode == code {
			return *p, nil
		}
	}
	return Partner{}, ErrNotFound
}

func (s *InMemory) PartnerByUserID(_ context.Context, userID string) (Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partners {
		if p.UserID == userID {
			return *p, nil
		}
	}
	return Partner{}, ErrNotFound
}

func (s *InMemory) ListPartners(_ context.Context) ([]Partner, error) {
	return s.partnersWhere(func(*Partner) bool { return true }), nil
}

func (s *InMemory) PartnersByMaster(_ context.Context, masterID string) ([]Partner, error) {
	return s.partnersWhere(func(p *Partner) bool { return p.MasterPartnerID == masterID }), nil
}

func (s *InMemory) partnersWhere(keep func(*Partner) bool) []Partner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Partner, 0)
	for _, p := range s.partners {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *InMemory) CreateMasterPartner(_ context.Context, m MasterPartner) (MasterPartner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.masters {
		if existing.CPF == m.CPF {
			return MasterPartner{}, ErrCPFTaken
		}
	}
	if _, taken := s.coupons[m.CouponCode]; taken {
		return MasterPartner{}, ErrCouponTaken
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := m
	s.masters[m.ID] = &cp
	s.coupons[m.CouponCode] = CouponOwnerMaster
	return m, nil
}

func (s *InMemory) MasterByCoupon(_ context.Context, code string) (MasterPartner, error) {
	return s.masterWhere(func(m *MasterPartner) bool { return m.CouponCode == code })
}

func (s *InMemory) MasterByID(_ context.Context, id string) (MasterPartner, error) {
	return s.masterWhere(func(m *MasterPartner) bool { return m.ID == id })
}

func (s *InMemory) MasterByUserID(_ context.Context, userID string) (MasterPartner, error) {
	return s.masterWhere(func(m *MasterPartner) bool { return m.UserID == userID })
}

func (s *InMemory) masterWhere(match func(*MasterPartner) bool) (MasterPartner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.masters {
		if match(m) {
			return *m, nil
		}
	}
	return MasterPartner{}, ErrNotFound
}

func (s *InMemory) ListMasterPartners(_ context.Context) ([]MasterPartner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MasterPartner, 0, len(s.masters))
	for _, m := range s.masters {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ---- commissions ----

func (s *InMemory) CreateSale(_ context.Context, sale PartnerSale) (PartnerSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sales {
		if existing.SubmissionID == sale.SubmissionID {
			return PartnerSale{}, ErrDuplicate
		}
	}
	if sale.ID == "" {
		sale.ID = ids.New()
	}
	if sale.PaymentStatus == "" {
		sale.PaymentStatus = PayoutPending
	}
	sale.CreatedAt = s.now()
	cp := sale
	s.sales[sale.ID] = &cp
	return sale, nil
}

func (s *InMemory) CreateUsage(_ context.Context, u CouponUsage) (CouponUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.usages {
		if existing.SubmissionID == u.SubmissionID && existing.MasterPartnerID == u.MasterPartnerID {
			return CouponUsage{}, ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.PaymentStatus == "" {
		u.PaymentStatus = PayoutPending
	}
	u.CreatedAt = s.now()
	cp := u
	s.usages[u.ID] = &cp
	return u, nil
}

func (s *InMemory) SalesByPartner(_ context.Context, partnerID string) ([]PartnerSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PartnerSale, 0)
	for _, sale := range s.sales {
		if sale.PartnerID == partnerID {
			out = append(out, *sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemory) UsagesByMaster(_ context.Context, masterID string) ([]CouponUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CouponUsage, 0)
	for _, u := range s.usages {
		if u.MasterPartnerID == masterID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemory) MarkSalePaid(_ context.Context, id, receiptURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return ErrNotFound
	}
	if sale.PaymentStatus == PayoutPaid {
		return ErrAlreadyPaid
	}
	sale.PaymentStatus = PayoutPaid
	sale.ReceiptURL = receiptURL
	sale.PaidAt = &at
	return nil
}

func (s *InMemory) MarkUsagePaid(_ context.Context, id, receiptURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usages[id]
	if !ok {
		return ErrNotFound
	}
	if u.PaymentStatus == PayoutPaid {
		return ErrAlreadyPaid
	}
	u.PaymentStatus = PayoutPaid
	u.ReceiptURL = receiptURL
	u.PaidAt = &at
	return nil
}

// ---- recovery codes ----

func (s *InMemory) CreateRecoveryCode(_ context.Context, rc RecoveryCode) (RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rc.ID == "" {
		rc.ID = ids.New()
	}
	rc.Email = strings.ToLower(strings.TrimSpace(rc.Email))
	rc.CreatedAt = s.now()
	cp := rc
	s.recovery[rc.ID] = &cp
	return rc, nil
}

func (s *InMemory) ActiveRecoveryCode(_ context.Context, email string, now time.Time) (RecoveryCode, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *RecoveryCode
	for _, rc := range s.recovery {
		if rc.Email != email || rc.Used || !rc.ExpiresAt.After(now) {
			continue
		}
		if best == nil || rc.ID > best.ID {
			best = rc
		}
	}
	if best == nil {
		return RecoveryCode{}, ErrNotFound
	}
	return *best, nil
}

func (s *InMemory) RecoveryCodeByID(_ context.Context, id string) (RecoveryCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.recovery[id]
	if !ok {
		return RecoveryCode{}, ErrNotFound
	}
	return *rc, nil
}

func (s *InMemory) IncrementRecoveryAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.recovery[id]
	if !ok {
		return 0, ErrNotFound
	}
	rc.Attempts++
	return rc.Attempts, nil
}

func (s *InMemory) MarkRecoveryCodeUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.recovery[id]
	if !ok {
		return ErrNotFound
	}
	rc.Used = true
	return nil
}

// ---- settings ----

func (s *InMemory) RegistrationSettings(context.Context) (RegistrationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *InMemory) UpdateRegistrationSettings(_ context.Context, st RegistrationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
	return nil
}

func (s *InMemory) ClaimMasterRegistration(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.MasterEnabled {
		return false, nil
	}
	s.settings.MasterEnabled = false
	return true, nil
}

func (s *InMemory) ReopenMasterRegistration(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.MasterEnabled = true
	return nil
}
