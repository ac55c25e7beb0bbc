package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/sender"
	"github.com/lenmanean/logbloga/services"
)

// --- Orders ---

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.Order
	updateErr error
	createErr error
	downloads map[uuid.UUID]int
}

func newFakeOrderRepo(orders ...*models.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[uuid.UUID]*models.Order), downloads: make(map[uuid.UUID]int)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) CreateOrder(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) copyOf(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func (r *fakeOrderRepo) GetOrderWithItems(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return r.copyOf(o), nil
	}
	return nil, nil
}

func (r *fakeOrderRepo) FindOrderByPaymentIntentID(_ context.Context, pi string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripePaymentIntentID != nil && *o.StripePaymentIntentID == pi {
			return r.copyOf(o), nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) FindOrderByCheckoutSessionID(_ context.Context, cs string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripeCheckoutSessionID != nil && *o.StripeCheckoutSessionID == cs {
			return r.copyOf(o), nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) UpdateOrderPaymentInfo(_ context.Context, id uuid.UUID, update models.PaymentInfoUpdate) (*models.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	res := &models.TransitionResult{PreviousStatus: o.Status}
	if update.Status != "" && update.Status != o.Status {
		if err := o.Status.ValidateTransition(update.Status); err != nil {
			return nil, err
		}
		o.Status = update.Status
		res.StatusChanged = true
	}
	if update.CheckoutSessionID != nil {
		v := *update.CheckoutSessionID
		o.StripeCheckoutSessionID = &v
	}
	if update.PaymentIntentID != nil {
		v := *update.PaymentIntentID
		o.StripePaymentIntentID = &v
	}
	res.Order = r.copyOf(o)
	res.Order.Items = nil
	return res, nil
}

func (r *fakeOrderRepo) ListOrdersForUser(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, *r.copyOf(o))
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeOrderRepo) FindItemByDownloadKey(_ context.Context, key string) (*models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for _, item := range o.Items {
			if item.DownloadKey == key {
				it := item
				return &it, nil
			}
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) IncrementDownloadCount(_ context.Context, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads[itemID]++
	return nil
}

func (r *fakeOrderRepo) status(id uuid.UUID) models.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

// --- Products ---

type fakeProductRepo struct {
	products map[uuid.UUID]models.Product
	err      error
}

func newFakeProductRepo(products ...models.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[uuid.UUID]models.Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeProductRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *fakeProductRepo) FindActiveByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Licenses ---

type fakeLicenseRepo struct {
	mu       sync.Mutex
	licenses []models.License
	// takenKeys simulates keys held by other licenses.
	takenKeys map[string]bool
	// insertErrs are returned by the next Create calls, in order.
	insertErrs []error
}

func newFakeLicenseRepo() *fakeLicenseRepo {
	return &fakeLicenseRepo{takenKeys: make(map[string]bool)}
}

func (r *fakeLicenseRepo) Create(_ context.Context, l *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.insertErrs) > 0 {
		err := r.insertErrs[0]
		r.insertErrs = r.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range r.licenses {
		if existing.OrderID == l.OrderID && existing.ProductID == l.ProductID {
			return repository.ErrLicenseExists
		}
		if existing.LicenseKey == l.LicenseKey {
			return repository.ErrDuplicateLicenseKey
		}
	}
	l.ID = uuid.New()
	r.licenses = append(r.licenses, *l)
	return nil
}

func (r *fakeLicenseRepo) LicenseKeyExists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.takenKeys[key] {
		return true, nil
	}
	for _, l := range r.licenses {
		if l.LicenseKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeLicenseRepo) FindByKey(_ context.Context, key string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if l.LicenseKey == key {
			lc := l
			return &lc, nil
		}
	}
	return nil, nil
}

func (r *fakeLicenseRepo) FindByOrderAndProduct(_ context.Context, orderID, productID uuid.UUID) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if l.OrderID == orderID && l.ProductID == productID {
			lc := l
			return &lc, nil
		}
	}
	return nil, nil
}

func (r *fakeLicenseRepo) FindByUserAndProduct(_ context.Context, userID, productID uuid.UUID) ([]models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.License
	for _, l := range r.licenses {
		if l.UserID == userID && l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeLicenseRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.License
	for _, l := range r.licenses {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeLicenseRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.licenses)
}

// --- Notifications ---

type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications []models.Notification
	logs          []models.NotificationLog
	prefs         map[uuid.UUID]models.NotificationPreference
	createErr     error
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{prefs: make(map[uuid.UUID]models.NotificationPreference)}
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	n.ID = uuid.New()
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *fakeNotificationRepo) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, _, _ int) ([]models.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == id && r.notifications[i].UserID == userID {
			r.notifications[i].IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeNotificationRepo) SaveLog(_ context.Context, log *models.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeNotificationRepo) GetPreference(_ context.Context, userID uuid.UUID) (*models.NotificationPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prefs[userID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *fakeNotificationRepo) UpsertPreference(_ context.Context, pref *models.NotificationPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[pref.UserID] = *pref
	return nil
}

func (r *fakeNotificationRepo) notificationTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notifications {
		out = append(out, n.Type)
	}
	return out
}

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []sender.Message
	err  error
}

func (s *fakeEmailSender) SendEmail(_ context.Context, msg sender.Message) (sender.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sender.SendResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return sender.SendResult{MessageID: "msg-" + msg.Tags["category"], SentAt: time.Now()}, nil
}

func (s *fakeEmailSender) categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		out = append(out, m.Tags["category"])
	}
	return out
}

// --- Coupons ---

type fakeCouponRepo struct {
	mu      sync.Mutex
	coupons []models.Coupon
}

func (r *fakeCouponRepo) Create(_ context.Context, c *models.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.coupons {
		if existing.Code == c.Code {
			return repository.ErrDuplicate
		}
		if existing.SourceOrderID != nil && c.SourceOrderID != nil && *existing.SourceOrderID == *c.SourceOrderID {
			return repository.ErrDuplicate
		}
	}
	c.ID = uuid.New()
	r.coupons = append(r.coupons, *c)
	return nil
}

func (r *fakeCouponRepo) FindByCode(_ context.Context, code string) (*models.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.Code == code {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (r *fakeCouponRepo) FindBySourceOrder(_ context.Context, orderID uuid.UUID) (*models.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.SourceOrderID != nil && *c.SourceOrderID == orderID {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (r *fakeCouponRepo) IncrementUsage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.coupons {
		c := &r.coupons[i]
		if c.ID == id && (c.UsageLimit == 0 || c.UsedCount < c.UsageLimit) {
			c.UsedCount++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeCouponRepo) ReleaseUsage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.coupons {
		c := &r.coupons[i]
		if c.ID == id && c.UsedCount > 0 {
			c.UsedCount--
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeCouponRepo) usedCount(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.Code == code {
			return c.UsedCount
		}
	}
	return -1
}

// --- Ledger and failures ---

type fakeEventRepo struct {
	mu        sync.Mutex
	processed map[string]bool
	attempts  map[string]int
	errors    map[string]string
	beginErr  error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{processed: map[string]bool{}, attempts: map[string]int{}, errors: map[string]string{}}
}

func (r *fakeEventRepo) Begin(_ context.Context, _, eventID, _ string, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return false, r.beginErr
	}
	r.attempts[eventID]++
	return !r.processed[eventID], nil
}

func (r *fakeEventRepo) MarkProcessed(ctx context.Context, _, eventID string, procErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if procErr != nil {
		r.errors[eventID] = procErr.Error()
		return nil
	}
	r.processed[eventID] = true
	return nil
}

type fakeFailureRepo struct {
	mu       sync.Mutex
	failures []models.SideEffectFailure
}

func (r *fakeFailureRepo) Record(ctx context.Context, f *models.SideEffectFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f.ID = uuid.New()
	r.failures = append(r.failures, *f)
	return nil
}

func (r *fakeFailureRepo) ListUnresolved(_ context.Context, _ int) ([]models.SideEffectFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SideEffectFailure(nil), r.failures...), nil
}

func (r *fakeFailureRepo) Resolve(_ context.Context, _ uuid.UUID) error { return nil }

// --- Publishing and metrics ---

type fakePublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
	// onPublish runs before every publish.
	onPublish func()
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, evt models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{counts: map[string]int{}} }

func (m *fakeMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *fakeMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

// --- Payments ---

type fakeGateway struct {
	services.PaymentGateway
	sessions []services.CheckoutSessionRequest
	refunds  []string
	err      error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req services.CheckoutSessionRequest) (*services.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.sessions = append(g.sessions, req)
	return &services.CheckoutSession{ID: "cs_test_" + req.OrderNumber, URL: "https://checkout.stripe.com/c/pay/cs_test"}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, pi, _ string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.refunds = append(g.refunds, pi)
	return "re_test_1", nil
}

var errBoom = errors.New("boom")
