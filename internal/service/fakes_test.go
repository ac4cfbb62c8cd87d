package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
)

var testLoc = time.FixedZone("ICT", 7*60*60)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, testLoc)
}

func strPtr(s string) *string { return &s }

// memStore 内存版的目录与签到存储，条件更新在锁内完成
// Transaction 不做回滚，测试只依赖条件更新的原子性
type memStore struct {
	mu sync.Mutex

	departures map[int64]*model.Departure
	guests     map[int64]*model.DepartureGuest
	activities map[int64]*model.ItineraryActivity
	checkins   map[int64]*model.GuestActivityCheckin
	statuses   map[statusKey]model.ActivityStatus
	nextID     int64

	// 状态读取时停顿，用于观察同时刷新的团期数
	statusReadDelay time.Duration
	statusReaders   int
	maxStatusReader int

	createBatchErr  error
	createErrPairs  map[model.CheckinPair]error
	transitionErrOn map[int64]error // departure_id -> error
}

func newMemStore() *memStore {
	return &memStore{
		departures:      map[int64]*model.Departure{},
		guests:          map[int64]*model.DepartureGuest{},
		activities:      map[int64]*model.ItineraryActivity{},
		checkins:        map[int64]*model.GuestActivityCheckin{},
		statuses:        map[statusKey]model.ActivityStatus{},
		nextID:          1000,
		createErrPairs:  map[model.CheckinPair]error{},
		transitionErrOn: map[int64]error{},
	}
}

func (s *memStore) addDeparture(d model.Departure) {
	s.departures[d.ID] = &d
}

func (s *memStore) addGuest(g model.DepartureGuest) {
	s.guests[g.ID] = &g
}

func (s *memStore) addActivity(a model.ItineraryActivity) {
	if a.ActivityStatus == "" {
		a.ActivityStatus = model.ActivityStatusNotStarted
	}
	s.activities[a.ID] = &a
}

// seedCheckin 直接写入一条记录，返回 ID
func (s *memStore) seedCheckin(c model.GuestActivityCheckin) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	if c.Status == "" {
		c.Status = model.CheckinStatusPending
	}
	s.checkins[c.ID] = &c
	return c.ID
}

func (s *memStore) checkin(id int64) model.GuestActivityCheckin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.checkins[id]
}

func (s *memStore) guest(id int64) model.DepartureGuest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.guests[id]
}

func (s *memStore) findCheckin(guestID, activityID int64) *model.GuestActivityCheckin {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.checkins {
		if c.DepartureGuestID == guestID && c.ActivityID == activityID {
			cp := *c
			return &cp
		}
	}
	return nil
}

// activityStatus 活动在团期上的状态，与 StatusOn 相同的取值规则
func (s *memStore) activityStatus(departureID, activityID int64) model.ActivityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := map[int64]model.ActivityStatus{}
	if status, ok := s.statuses[statusKey{departureID, activityID}]; ok {
		stored[activityID] = status
	}
	return s.activities[activityID].StatusOn(stored)
}

func (s *memStore) countCheckins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkins)
}

// ========== DirectoryRepository ==========

func (s *memStore) GetDeparture(_ context.Context, id int64) (*model.Departure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departures[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) ListDeparturesCovering(_ context.Context, day time.Time, statuses []model.DepartureStatus) ([]*model.Departure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Departure
	for _, d := range s.departures {
		if !containsDepartureStatus(statuses, d.Status) || !d.Covers(day) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsDepartureStatus(list []model.DepartureStatus, s model.DepartureStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *memStore) ListGuests(_ context.Context, departureID int64) ([]*model.DepartureGuest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DepartureGuest
	for _, g := range s.guests {
		if g.DepartureID == departureID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListActivities(_ context.Context, tourVersionID int64, requiresCheckInOnly bool) ([]*model.ItineraryActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ItineraryActivity
	for _, a := range s.activities {
		if a.TourVersionID != tourVersionID {
			continue
		}
		if requiresCheckInOnly && !a.RequiresCheckIn {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayNumber != out[j].DayNumber {
			return out[i].DayNumber < out[j].DayNumber
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

func (s *memStore) GetActivity(_ context.Context, id int64) (*model.ItineraryActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

// ========== ActivityStatusRepository ==========

type statusKey struct{ departure, activity int64 }

func (s *memStore) ListByDeparture(_ context.Context, departureID int64) (map[int64]model.ActivityStatus, error) {
	s.mu.Lock()
	s.statusReaders++
	if s.statusReaders > s.maxStatusReader {
		s.maxStatusReader = s.statusReaders
	}
	delay := s.statusReadDelay
	s.mu.Unlock()

	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusReaders--
	out := map[int64]model.ActivityStatus{}
	for k, status := range s.statuses {
		if k.departure == departureID {
			out[k.activity] = status
		}
	}
	return out, nil
}

func (s *memStore) Advance(_ context.Context, departureID, activityID int64, from, to model.ActivityStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statusKey{departureID, activityID}
	current, ok := s.statuses[k]
	if !ok {
		current = model.ActivityStatusNotStarted
	}
	if current != from {
		return false, nil
	}
	s.statuses[k] = to
	return true, nil
}

// ========== CheckinRepository ==========

func (s *memStore) Transaction(_ context.Context, fn func(tx repository.CheckinRepository) error) error {
	return fn(s)
}

func (s *memStore) GetByID(_ context.Context, id int64) (*model.GuestActivityCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkins[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) Transition(_ context.Context, id int64, from []model.CheckinStatus, update model.CheckinUpdate, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkins[id]
	if !ok {
		return false, nil
	}
	if err := s.transitionErrOn[c.DepartureID]; err != nil {
		return false, err
	}
	from, err := repository.ValidateTransition(from, update.Status)
	if err != nil {
		return false, err
	}
	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	applyUpdate(c, update)
	c.UpdatedAt = now
	return true, nil
}

// applyUpdate 与 CheckinUpdate.Columns 写入相同的字段
func applyUpdate(c *model.GuestActivityCheckin, u model.CheckinUpdate) {
	c.Status = u.Status
	if u.CheckedInAt != nil {
		t := *u.CheckedInAt
		c.CheckedInAt = &t
	}
	if u.CheckedInBy != nil {
		v := *u.CheckedInBy
		c.CheckedInBy = &v
	}
	if u.Method != nil {
		m := *u.Method
		c.Method = &m
	}
	if u.Latitude != nil {
		v := *u.Latitude
		c.Latitude = &v
	}
	if u.Longitude != nil {
		v := *u.Longitude
		c.Longitude = &v
	}
	if u.ExcuseReason != nil {
		r := *u.ExcuseReason
		c.ExcuseReason = &r
	}
	if u.ExcusedBy != nil {
		v := *u.ExcusedBy
		c.ExcusedBy = &v
	}
}

func (s *memStore) ListByActivityGuests(_ context.Context, activityID int64, departureID *int64, guestIDs []int64) ([]*model.GuestActivityCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range guestIDs {
		want[id] = true
	}
	var out []*model.GuestActivityCheckin
	for _, c := range s.checkins {
		if c.ActivityID != activityID || !want[c.DepartureGuestID] {
			continue
		}
		if departureID != nil && c.DepartureID != *departureID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) ListPendingDue(_ context.Context, now time.Time) ([]*repository.PendingCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.PendingCheckin
	for _, c := range s.checkins {
		if c.Status != model.CheckinStatusPending || c.ScheduledAt.After(now) {
			continue
		}
		a, ok := s.activities[c.ActivityID]
		if !ok {
			continue
		}
		out = append(out, &repository.PendingCheckin{
			GuestActivityCheckin: *c,
			AutoCheckIn:          a.AutoCheckIn,
			CheckInWindowAfter:   a.CheckInWindowAfter,
			ActivityStatus:       a.ActivityStatus,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureID != out[j].DepartureID {
			return out[i].DepartureID < out[j].DepartureID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) ExistingPairs(_ context.Context, departureID int64) ([]model.CheckinPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CheckinPair
	for _, c := range s.checkins {
		if c.DepartureID == departureID {
			out = append(out, c.Pair())
		}
	}
	return out, nil
}

func (s *memStore) CreateBatch(ctx context.Context, records []*model.GuestActivityCheckin) (int64, error) {
	if s.createBatchErr != nil {
		return 0, s.createBatchErr
	}
	var created int64
	for _, r := range records {
		ok, err := s.Create(ctx, r)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *memStore) Create(_ context.Context, record *model.GuestActivityCheckin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErrPairs[record.Pair()]; err != nil {
		return false, err
	}
	for _, c := range s.checkins {
		if c.DepartureID == record.DepartureID && c.Pair() == record.Pair() {
			return false, nil
		}
	}
	s.nextID++
	record.ID = s.nextID
	cp := *record
	s.checkins[cp.ID] = &cp
	return true, nil
}

func (s *memStore) RecomputeGuestCounters(_ context.Context, guestIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range guestIDs {
		g, ok := s.guests[id]
		if !ok {
			continue
		}
		g.TotalActivities, g.CheckedInActivities, g.MissedActivities = 0, 0, 0
		for _, c := range s.checkins {
			if c.DepartureGuestID != id {
				continue
			}
			g.TotalActivities++
			if c.Status.IsAttended() {
				g.CheckedInActivities++
			}
			if c.Status == model.CheckinStatusMissed {
				g.MissedActivities++
			}
		}
	}
	return nil
}

func (s *memStore) CountByStatus(_ context.Context, departureID int64, activityID *int64) (repository.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := repository.StatusCount{}
	for _, c := range s.checkins {
		if c.DepartureID != departureID {
			continue
		}
		if activityID != nil && c.ActivityID != *activityID {
			continue
		}
		counts[c.Status]++
	}
	return counts, nil
}

func (s *memStore) CountByActivity(_ context.Context, departureID int64, activityIDs []int64) (map[int64]repository.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range activityIDs {
		want[id] = true
	}
	out := map[int64]repository.StatusCount{}
	for _, c := range s.checkins {
		if c.DepartureID != departureID || !want[c.ActivityID] {
			continue
		}
		if out[c.ActivityID] == nil {
			out[c.ActivityID] = repository.StatusCount{}
		}
		out[c.ActivityID][c.Status]++
	}
	return out, nil
}

func (s *memStore) ListOpenWindows(_ context.Context, now time.Time, departureID *int64) ([]*repository.OpenWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct{ departure, activity int64 }
	groups := map[key]*repository.OpenWindow{}
	for _, c := range s.checkins {
		if departureID != nil && c.DepartureID != *departureID {
			continue
		}
		a, ok := s.activities[c.ActivityID]
		if !ok || a.ActivityStatus == model.ActivityStatusCancelled {
			continue
		}
		opens := c.ScheduledAt.Add(-time.Duration(a.CheckInWindowBefore) * time.Minute)
		closes := c.ScheduledAt.Add(time.Duration(a.CheckInWindowAfter) * time.Minute)
		if now.Before(opens) || now.After(closes) {
			continue
		}
		k := key{c.DepartureID, c.ActivityID}
		w, ok := groups[k]
		if !ok {
			w = &repository.OpenWindow{
				DepartureID:         c.DepartureID,
				ActivityID:          c.ActivityID,
				ActivityName:        a.Name,
				Location:            a.Location,
				ActivityDate:        c.ActivityDate,
				ScheduledTime:       c.ScheduledTime,
				ScheduledAt:         c.ScheduledAt,
				CheckInWindowBefore: a.CheckInWindowBefore,
				CheckInWindowAfter:  a.CheckInWindowAfter,
			}
			groups[k] = w
		}
		w.Total++
		if c.Status == model.CheckinStatusPending {
			w.Pending++
		}
	}
	var out []*repository.OpenWindow
	for _, w := range groups {
		if w.Pending > 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memStore) List(_ context.Context, filter repository.CheckinFilter) ([]*model.GuestActivityCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.GuestActivityCheckin
	for _, c := range s.checkins {
		if c.DepartureID != filter.DepartureID {
			continue
		}
		if filter.ActivityID != nil && c.ActivityID != *filter.ActivityID {
			continue
		}
		if filter.GuestID != nil && c.DepartureGuestID != *filter.GuestID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ========== EventPublisher ==========

type fakePublisher struct {
	mu          sync.Mutex
	transitions []model.CheckinTransitionedEvent
	rollups     []model.DailyRollupEvent
	rollupErr   error
}

func (p *fakePublisher) PublishCheckinTransitioned(_ context.Context, event model.CheckinTransitionedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, event)
	return nil
}

func (p *fakePublisher) PublishDailyRollup(_ context.Context, event model.DailyRollupEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rollupErr != nil {
		return p.rollupErr
	}
	p.rollups = append(p.rollups, event)
	return nil
}

func (p *fakePublisher) transitionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transitions)
}

// ========== RollupMarker ==========

type fakeMarkers struct {
	mu      sync.Mutex
	marked  map[string]bool
	unmarks int
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{marked: map[string]bool{}}
}

func (m *fakeMarkers) key(date string, departureID int64) string {
	return date + "/" + strconv.FormatInt(departureID, 10)
}

func (m *fakeMarkers) TryMark(_ context.Context, date string, departureID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(date, departureID)
	if m.marked[k] {
		return false, nil
	}
	m.marked[k] = true
	return true, nil
}

func (m *fakeMarkers) Unmark(_ context.Context, date string, departureID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marked, m.key(date, departureID))
	m.unmarks++
	return nil
}

type fakeRollups struct {
	mu    sync.Mutex
	saved []*model.DepartureDailyRollup
}

func (r *fakeRollups) Upsert(_ context.Context, rollup *model.DepartureDailyRollup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, rollup)
	return nil
}

var errBoom = errors.New("boom")

// ========== fixture ==========

const (
	tourVersionID = 100
	departureID   = 1

	activityTemple = 201 // 第 2 天 09:00，窗口 30/15
	activityLunch  = 202 // 第 2 天 12:00，自动签到
	activityFree   = 203 // 第 1 天，不需要签到
	activityDinner = 204 // 第 3 天 18:00-20:00
)

var fixtureGuests = []int64{11, 12, 13}

// newFixture 团期 2024-01-10 ~ 2024-01-12，三位客人，四个活动
func newFixture() *memStore {
	s := newMemStore()
	s.addDeparture(model.Departure{
		BaseModel:     model.BaseModel{ID: departureID},
		TourVersionID: tourVersionID,
		Code:          "HAN-240110",
		StartDate:     time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
		Status:        model.DepartureStatusInProgress,
	})
	for _, id := range fixtureGuests {
		s.addGuest(model.DepartureGuest{BaseModel: model.BaseModel{ID: id}, DepartureID: departureID, GuestName: "guest"})
	}
	s.addActivity(model.ItineraryActivity{
		BaseModel: model.BaseModel{ID: activityTemple}, TourVersionID: tourVersionID,
		DayNumber: 2, Name: "Temple of Literature", StartTime: "09:00:00",
		RequiresCheckIn: true, CheckInWindowBefore: 30, CheckInWindowAfter: 15,
	})
	s.addActivity(model.ItineraryActivity{
		BaseModel: model.BaseModel{ID: activityLunch}, TourVersionID: tourVersionID,
		DayNumber: 2, Name: "Lunch", StartTime: "12:00:00",
		RequiresCheckIn: true, AutoCheckIn: true, CheckInWindowBefore: 30, CheckInWindowAfter: 15,
	})
	s.addActivity(model.ItineraryActivity{
		BaseModel: model.BaseModel{ID: activityFree}, TourVersionID: tourVersionID,
		DayNumber: 1, Name: "Free time", StartTime: "15:00:00",
	})
	s.addActivity(model.ItineraryActivity{
		BaseModel: model.BaseModel{ID: activityDinner}, TourVersionID: tourVersionID,
		DayNumber: 3, Name: "Farewell dinner", StartTime: "18:00:00", EndTime: strPtr("20:00:00"),
		RequiresCheckIn: true, CheckInWindowBefore: 30, CheckInWindowAfter: 15,
	})
	return s
}

const secondDepartureID = 2

// addSecondDeparture 同一行程版本一周后出发的团期，两位客人
func addSecondDeparture(s *memStore) {
	s.addDeparture(model.Departure{
		BaseModel:     model.BaseModel{ID: secondDepartureID},
		TourVersionID: tourVersionID,
		Code:          "HAN-240117",
		StartDate:     time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC),
		Status:        model.DepartureStatusConfirmed,
	})
	for _, id := range []int64{21, 22} {
		s.addGuest(model.DepartureGuest{BaseModel: model.BaseModel{ID: id}, DepartureID: secondDepartureID, GuestName: "guest"})
	}
}
