package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/channel-router/internal/database"
	"github.com/openclaw/channel-router/internal/events"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is an in-memory stand-in for the postgres tables, mirroring the
// conditional updates the SQL repositories perform.
type memStore struct {
	mu       sync.Mutex
	clock    *fakeClock
	pairings []*model.PairingCode
	devices  map[string]*model.DeviceLink
	convs    []*model.Conversation
	users    map[string]bool
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:   clock,
		devices: make(map[string]*model.DeviceLink),
		users:   make(map[string]bool),
	}
}

func (s *memStore) addUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.users[id] = true
	return id
}

func (s *memStore) pairing(id string) model.PairingCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairings {
		if p.ID == id {
			return *p
		}
	}
	return model.PairingCode{}
}

func (s *memStore) setPairingStatus(id string, status model.PairingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.pairings {
		if pc.ID == id {
			pc.Status = status
		}
	}
}

func (s *memStore) device(phone string) *model.DeviceLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[phone]; ok {
		cp := *d
		return &cp
	}
	return nil
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

type memPairingRepo struct{ *memStore }

var _ repository.PairingCodeRepository = memPairingRepo{}

func (r memPairingRepo) WithTx(*sqlx.Tx) repository.PairingCodeRepository { return r }

func (r memPairingRepo) SweepExpired(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var n int64
	for _, p := range r.pairings {
		if p.Status == model.PairingStatusPending && !now.Before(p.ExpiresAt) {
			p.Status = model.PairingStatusExpired
			n++
		}
	}
	return n, nil
}

func (r memPairingRepo) Create(_ context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairings {
		if p.Code == params.Code && p.Status != model.PairingStatusExpired {
			return nil, fmt.Errorf("duplicate key value violates unique constraint")
		}
	}
	pc := &model.PairingCode{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Code:      params.Code,
		Command:   params.Command,
		Status:    model.PairingStatusPending,
		Label:     params.Label,
		CreatedAt: r.clock.Now(),
		ExpiresAt: params.ExpiresAt,
	}
	r.pairings = append(r.pairings, pc)
	cp := *pc
	return &cp, nil
}

func (r memPairingRepo) FindByID(_ context.Context, id string) (*model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairings {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memPairingRepo) FindLatestByCode(_ context.Context, code string) (*model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.pairings) - 1; i >= 0; i-- {
		if r.pairings[i].Code == code {
			cp := *r.pairings[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memPairingRepo) ExistsActiveCode(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairings {
		if p.Code == code && p.Status != model.PairingStatusExpired {
			return true, nil
		}
	}
	return false, nil
}

func (r memPairingRepo) MarkLinked(_ context.Context, id, phone, messageSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, p := range r.pairings {
		if p.ID == id && p.Status == model.PairingStatusPending && now.Before(p.ExpiresAt) {
			p.Status = model.PairingStatusLinked
			p.BoundPhone = &phone
			p.LinkedAt = &now
			if messageSID != "" {
				p.ConsumedMessageSID = &messageSID
			}
			return true, nil
		}
	}
	return false, nil
}

func (r memPairingRepo) transition(id string, to model.PairingStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairings {
		if p.ID == id && p.Status == model.PairingStatusPending {
			p.Status = to
			return true
		}
	}
	return false
}

func (r memPairingRepo) MarkExpired(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.PairingStatusExpired), nil
}

func (r memPairingRepo) Cancel(_ context.Context, id string) (bool, error) {
	return r.transition(id, model.PairingStatusCanceled), nil
}

func (r memPairingRepo) filtered(filter model.PairingFilter) []model.PairingCode {
	var out []model.PairingCode
	for _, p := range r.pairings {
		if p.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r memPairingRepo) List(_ context.Context, filter model.PairingFilter) ([]model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filtered(filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memPairingRepo) Count(_ context.Context, filter model.PairingFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filtered(filter)), nil
}

func (r memPairingRepo) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*model.PairingCode
	var n int64
	for _, p := range r.pairings {
		if (p.Status == model.PairingStatusExpired || p.Status == model.PairingStatusCanceled) && p.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	r.pairings = kept
	return n, nil
}

type memDeviceRepo struct{ *memStore }

var _ repository.DeviceLinkRepository = memDeviceRepo{}

func (r memDeviceRepo) WithTx(*sqlx.Tx) repository.DeviceLinkRepository { return r }

func (r memDeviceRepo) Upsert(_ context.Context, params model.UpsertDeviceParams) (*model.DeviceLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	d, ok := r.devices[params.Phone]
	if !ok {
		d = &model.DeviceLink{ID: uuid.NewString(), Phone: params.Phone}
		r.devices[params.Phone] = d
	} else if d.UserID != params.UserID {
		d.LastConversationID = nil
	}
	d.UserID = params.UserID
	if params.Label != nil {
		d.Label = params.Label
	}
	d.LinkedAt = now
	d.UpdatedAt = now
	d.LastSeenAt = &now
	cp := *d
	return &cp, nil
}

func (r memDeviceRepo) FindByPhone(_ context.Context, phone string) (*model.DeviceLink, error) {
	return r.device(phone), nil
}

func (r memDeviceRepo) FindByID(_ context.Context, id string) (*model.DeviceLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memDeviceRepo) List(_ context.Context, filter model.DeviceFilter) ([]model.DeviceLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DeviceLink
	for _, d := range r.devices {
		if d.UserID == filter.UserID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r memDeviceRepo) Count(ctx context.Context, filter model.DeviceFilter) (int, error) {
	out, _ := r.List(ctx, filter)
	return len(out), nil
}

func (r memDeviceRepo) Touch(_ context.Context, phone, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[phone]; ok {
		now := r.clock.Now()
		d.LastSeenAt = &now
		d.LastConversationID = &conversationID
	}
	return nil
}

func (r memDeviceRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for phone, d := range r.devices {
		if d.ID == id {
			delete(r.devices, phone)
			return true, nil
		}
	}
	return false, nil
}

type memConvRepo struct {
	*memStore
	createDelay time.Duration
}

var _ repository.ConversationRepository = memConvRepo{}

func (r memConvRepo) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memConvRepo) FindLatestByLabel(_ context.Context, userID, label string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Conversation
	for _, c := range r.convs {
		if c.UserID == userID && c.SessionLabel == label {
			if latest == nil || !c.UpdatedAt.Before(latest.UpdatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r memConvRepo) Create(_ context.Context, params model.CreateConversationParams) (*model.Conversation, error) {
	if r.createDelay > 0 {
		time.Sleep(r.createDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	c := &model.Conversation{
		ID:           uuid.NewString(),
		UserID:       params.UserID,
		SessionLabel: params.SessionLabel,
		Title:        params.Title,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.convs = append(r.convs, c)
	cp := *c
	return &cp, nil
}

func (r memConvRepo) TouchLastMessage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.ID == id {
			now := r.clock.Now()
			c.LastMessageAt = &now
			c.UpdatedAt = now
		}
	}
	return nil
}

type memUserRepo struct{ *memStore }

var _ repository.UserRepository = memUserRepo{}

func (r memUserRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id], nil
}

func (r memUserRepo) FindByTokenHash(context.Context, string) (*model.User, error) {
	return nil, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type fakeTransport struct {
	mu         sync.Mutex
	configured bool
	from       string
	sent       []sentMessage
	err        error
}

type sentMessage struct {
	To   string
	Body string
}

func (t *fakeTransport) Configured() bool   { return t.configured }
func (t *fakeTransport) FromAddress() string { return t.from }

func (t *fakeTransport) Send(_ context.Context, to, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{To: to, Body: body})
	return t.err
}

func (t *fakeTransport) messages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

type fakeSink struct {
	mu      sync.Mutex
	records []events.Record
}

func (s *fakeSink) Publish(rec events.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *fakeSink) withTopic(topic string) []events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Record
	for _, r := range s.records {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeSink) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Topic)
	}
	return out
}

type fakeFlags map[string]bool

func (f fakeFlags) Enabled(_ context.Context, name string) bool { return f[name] }

// harness wires the real services over the in-memory store.
type harness struct {
	clock     *fakeClock
	store     *memStore
	transport *fakeTransport
	sink      *fakeSink
	pairing   *PairingService
	routing   *RoutingService
}

func newHarness(defaultRouteUserID string) *harness {
	clock := newFakeClock()
	store := newMemStore(clock)
	transport := &fakeTransport{configured: true, from: "whatsapp:+15550001111"}
	sink := &fakeSink{}

	pairing := NewPairingService(fakeTx{}, memPairingRepo{store}, memDeviceRepo{store}, transport, sink, PairingOptions{
		CommandPrefix:  "link",
		QRImageBaseURL: "https://qr.example/?data=",
	})
	pairing.now = clock.Now

	routing := NewRoutingService(memDeviceRepo{store}, memConvRepo{memStore: store}, memUserRepo{store}, defaultRouteUserID)

	return &harness{
		clock:     clock,
		store:     store,
		transport: transport,
		sink:      sink,
		pairing:   pairing,
		routing:   routing,
	}
}
