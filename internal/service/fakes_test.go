package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/redisclient"
	"workshop-service/internal/store"
	"workshop-service/internal/util"

	"go.uber.org/zap"
)

func init() {
	util.SetLogger(zap.NewNop())
}

// fakeStore is an in-memory stand-in for *store.Store
type fakeStore struct {
	mu sync.Mutex

	workshops     map[int64]*models.Workshop
	firstSession  map[int64]time.Time
	registrations map[int64]*models.Registration
	nextID        int64
	logs          []models.PaymentLogEntry
	events        map[string]bool

	createErr error
	countErr  error
	deleteErr error
	updates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workshops:     make(map[int64]*models.Workshop),
		firstSession:  make(map[int64]time.Time),
		registrations: make(map[int64]*models.Registration),
		events:        make(map[string]bool),
	}
}

func (f *fakeStore) addWorkshop(w models.Workshop) *models.Workshop {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := w
	f.workshops[w.ID] = &ws
	return &ws
}

func (f *fakeStore) addRegistration(r models.Registration) *models.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	reg := r
	reg.ID = f.nextID
	if reg.UpdatedAt.IsZero() {
		reg.UpdatedAt = time.Now()
	}
	f.registrations[reg.ID] = &reg
	return &reg
}

func (f *fakeStore) registration(id int64) models.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.registrations[id]
}

func (f *fakeStore) registrationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registrations)
}

func (f *fakeStore) workshop(id int64) models.Workshop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.workshops[id]
}

func (f *fakeStore) logActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		actions = append(actions, l.Action)
	}
	return actions
}

func (f *fakeStore) GetWorkshopByID(ctx context.Context, id int64) (*models.Workshop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workshops[id]
	if !ok {
		return nil, fmt.Errorf("workshop %d: %w", id, store.ErrNotFound)
	}
	copied := *w
	return &copied, nil
}

func (f *fakeStore) ListWorkshops(ctx context.Context) ([]models.Workshop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]models.Workshop, 0, len(f.workshops))
	for _, w := range f.workshops {
		list = append(list, *w)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (f *fakeStore) UpdateAvailableSeats(ctx context.Context, workshopID int64, seats int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workshops[workshopID]
	if !ok {
		return store.ErrNotFound
	}
	w.AvailableSeats = seats
	f.updates++
	return nil
}

func (f *fakeStore) CloseWorkshopsStartingBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, start := range f.firstSession {
		w := f.workshops[id]
		if w.RegistrationClosed || start.After(cutoff) {
			continue
		}
		w.RegistrationClosed = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeStore) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.registrations {
		if existing.WorkshopID == reg.WorkshopID && existing.UserID == reg.UserID {
			return fmt.Errorf("%w: workshop_registrations_workshop_id_user_id_key", store.ErrDuplicate)
		}
	}
	f.nextID++
	reg.ID = f.nextID
	reg.CreatedAt = time.Now()
	reg.UpdatedAt = reg.CreatedAt
	stored := *reg
	f.registrations[reg.ID] = &stored
	return nil
}

func (f *fakeStore) GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration %d: %w", id, store.ErrNotFound)
	}
	copied := *reg
	return &copied, nil
}

func (f *fakeStore) GetRegistrationByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range f.registrations {
		if reg.PaymentID != nil && *reg.PaymentID == paymentID {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("registration for charge %s: %w", paymentID, store.ErrNotFound)
}

func (f *fakeStore) GetRegistrationByWorkshopAndUser(ctx context.Context, workshopID int64, userID string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range f.registrations {
		if reg.WorkshopID == workshopID && reg.UserID == userID {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("registration of %s for workshop %d: %w", userID, workshopID, store.ErrNotFound)
}

func (f *fakeStore) SetRegistrationPaymentID(ctx context.Context, registrationID int64, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok {
		return store.ErrNotFound
	}
	id := paymentID
	reg.PaymentID = &id
	return nil
}

func (f *fakeStore) TransitionPaymentStatus(ctx context.Context, registrationID int64, paymentStatus, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok || reg.Status == models.RegistrationStatusCancelled ||
		!models.CanTransitionPayment(reg.PaymentStatus, paymentStatus) {
		return false, nil
	}
	reg.PaymentStatus = paymentStatus
	if status != "" {
		reg.Status = status
	}
	reg.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) CountPaidRegistrations(ctx context.Context, workshopID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, reg := range f.registrations {
		if reg.WorkshopID == workshopID && reg.PaymentStatus == models.PaymentStatusPaid {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteStaleRegistrations(ctx context.Context, workshopID int64, userID string, processingBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var removed int64
	for id, reg := range f.registrations {
		if reg.WorkshopID != workshopID || (userID != "" && reg.UserID != userID) {
			continue
		}
		stale := false
		for _, s := range models.StalePaymentStatuses {
			if reg.PaymentStatus == s {
				stale = true
			}
		}
		if !stale {
			continue
		}
		if !processingBefore.IsZero() && reg.PaymentStatus == models.PaymentStatusProcessing &&
			!reg.UpdatedAt.Before(processingBefore) {
			continue
		}
		delete(f.registrations, id)
		removed++
	}
	return removed, nil
}

func (f *fakeStore) InsertPaymentLog(ctx context.Context, entry *models.PaymentLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[eventID] = true
	return nil
}

type fetchResult struct {
	charge *gateway.Charge
	err    error
}

// fakeGateway replays queued GetCharge results; the last one repeats.
type fakeGateway struct {
	mu sync.Mutex

	createCharge *gateway.Charge
	createErr    error
	createReqs   []*gateway.ChargeRequest

	fetches   []fetchResult
	getCalls  int
	onGetCall func(n int)
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createReqs = append(g.createReqs, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createCharge, nil
}

func (g *fakeGateway) GetCharge(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	g.mu.Lock()
	g.getCalls++
	n := g.getCalls
	var res fetchResult
	if len(g.fetches) > 0 {
		idx := n - 1
		if idx >= len(g.fetches) {
			idx = len(g.fetches) - 1
		}
		res = g.fetches[idx]
	}
	hook := g.onGetCall
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.charge == nil {
		return nil, fmt.Errorf("no charge queued for %s", chargeID)
	}
	return res.charge, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

func charge(id, status string, registrationID int64) *gateway.Charge {
	return &gateway.Charge{
		ID:       id,
		Status:   status,
		Amount:   25,
		Currency: "KWD",
		Metadata: map[string]string{"registration_id": fmt.Sprint(registrationID)},
		Raw:      []byte(fmt.Sprintf(`{"id":%q,"status":%q}`, id, status)),
	}
}

type fakeCache struct {
	mu          sync.Mutex
	snapshots   map[int64]redisclient.SeatSnapshot
	invalidated []int64
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: make(map[int64]redisclient.SeatSnapshot)}
}

func (c *fakeCache) SetSeats(ctx context.Context, workshopID int64, snap redisclient.SeatSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[workshopID] = snap
	return nil
}

func (c *fakeCache) GetSeats(ctx context.Context, workshopID int64) (*redisclient.SeatSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	snap, ok := c.snapshots[workshopID]
	if !ok {
		return nil, redisclient.ErrCacheMiss
	}
	return &snap, nil
}

func (c *fakeCache) InvalidateSeats(ctx context.Context, workshopID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, workshopID)
	c.invalidated = append(c.invalidated, workshopID)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[lockKey]; ok {
		return "", nil
	}
	token := fmt.Sprintf("token-%d", len(l.held)+len(l.released)+1)
	l.held[lockKey] = token
	return token, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, lockKey, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lockKey] == token {
		delete(l.held, lockKey)
		l.released = append(l.released, lockKey)
	}
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func (p *fakePublisher) PublishRegistrationInitiated(ctx context.Context, e *models.RegistrationInitiatedEvent) error {
	return p.record(e.EventType)
}

func (p *fakePublisher) PublishRegistrationConfirmed(ctx context.Context, e *models.RegistrationConfirmedEvent) error {
	return p.record(e.EventType)
}

func (p *fakePublisher) PublishPaymentCaptured(ctx context.Context, e *models.PaymentCapturedEvent) error {
	return p.record(e.EventType)
}

func (p *fakePublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	return p.record(e.EventType)
}

func (p *fakePublisher) PublishWorkshopsClosed(ctx context.Context, e *models.WorkshopsClosedEvent) error {
	return p.record(e.EventType)
}

// harness wires every service over the fakes
type harness struct {
	store  *fakeStore
	gw     *fakeGateway
	cache  *fakeCache
	locker *fakeLocker
	pub    *fakePublisher

	seats        *SeatAccountant
	cleanup      *RegistrationCleanup
	paymentLog   *PaymentLogger
	reconciler   *PaymentReconciler
	verifier     *PaymentVerifier
	registration *RegistrationService
	closer       *SeatCloser
	admin        *AdminService
}

func newHarness() *harness {
	h := &harness{
		store:  newFakeStore(),
		gw:     &fakeGateway{},
		cache:  newFakeCache(),
		locker: newFakeLocker(),
		pub:    &fakePublisher{},
	}

	h.seats = NewSeatAccountant(h.store, h.store, h.cache)
	h.cleanup = NewRegistrationCleanup(h.store, DefaultProcessingGrace)
	h.paymentLog = NewPaymentLogger(h.store)
	h.reconciler = NewPaymentReconciler(h.store, h.store, h.seats, h.paymentLog, h.pub)
	h.verifier = NewPaymentVerifier(h.gw, h.reconciler, h.seats, h.paymentLog, RetryPolicy{MaxAttempts: 2})
	h.registration = NewRegistrationService(h.store, h.store, h.gw, h.cleanup, h.seats, h.paymentLog, h.pub, h.locker,
		RegistrationOptions{
			Currency:         "KWD",
			CallbackURL:      "https://workshops.example.com/payment/callback",
			WebhookURL:       "https://api.workshops.example.com/api/v1/payments/webhook",
			PhoneCountryCode: "965",
			LockTTL:          30 * time.Second,
		})
	h.closer = NewSeatCloser(h.store, h.seats, h.pub, DefaultCloseWindow)
	h.admin = NewAdminService(h.cleanup, h.seats)
	return h
}
