package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	pkgerrors "TourCheckin/pkg/errors"
)

// initializedFixture 初始化后的 fixture，返回 store 与签到服务
func initializedFixture(t *testing.T, policy ExcusePolicy) (*memStore, *CheckinService, *fakePublisher) {
	t.Helper()
	store := newFixture()
	initializer := NewInitializerService(store, store, nil, testLoc, zap.NewNop())
	if _, err := initializer.InitializeCheckins(context.Background(), departureID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	pub := &fakePublisher{}
	svc := NewCheckinService(store, pub, policy, zap.NewNop())
	return store, svc, pub
}

func mustRecord(t *testing.T, store *memStore, guestID, activityID int64) model.GuestActivityCheckin {
	t.Helper()
	rec := store.findCheckin(guestID, activityID)
	if rec == nil {
		t.Fatalf("no check-in for guest %d activity %d", guestID, activityID)
	}
	return *rec
}

func TestCheckInAppliesOnce(t *testing.T) {
	store, svc, pub := initializedFixture(t, ExcusePolicyOverride)
	svc.now = func() time.Time { return at(2024, 1, 11, 8, 50) }
	rec := mustRecord(t, store, 11, activityTemple)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(staff int64) {
			defer wg.Done()
			out, err := svc.CheckIn(context.Background(), rec.ID, staff, model.CheckinMethodQRScan, GeoPoint{})
			if err != nil {
				t.Errorf("check-in: %v", err)
				return
			}
			if out.Status != model.CheckinStatusCheckedIn {
				t.Errorf("status = %s, want checked_in", out.Status)
			}
			if out.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(int64(500 + i))
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("applied %d times, want exactly once", applied)
	}
	if pub.transitionCount() != 1 {
		t.Fatalf("published %d events, want 1", pub.transitionCount())
	}

	got := store.checkin(rec.ID)
	if got.CheckedInAt == nil || got.CheckedInBy == nil || got.Method == nil || *got.Method != model.CheckinMethodQRScan {
		t.Fatalf("check-in fields not recorded: %+v", got)
	}
	if g := store.guest(11); g.CheckedInActivities != 1 || g.TotalActivities != 3 {
		t.Fatalf("guest counters = %+v", g)
	}
}

func TestCheckInValidation(t *testing.T) {
	store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
	ctx := context.Background()
	rec := mustRecord(t, store, 12, activityTemple)

	if _, err := svc.CheckIn(ctx, rec.ID, 1, model.CheckinMethodAuto, GeoPoint{}); !errors.Is(err, pkgerrors.InvalidCheckinMethod) {
		t.Fatalf("auto method should be rejected, got %v", err)
	}
	if _, err := svc.CheckIn(ctx, 999999, 1, "", GeoPoint{}); !errors.Is(err, pkgerrors.CheckinNotFound) {
		t.Fatalf("unknown record should be not found, got %v", err)
	}

	lat, lng := 21.0285, 105.8542
	out, err := svc.CheckIn(ctx, rec.ID, 1, "", GeoPoint{Latitude: &lat, Longitude: &lng})
	if err != nil || !out.Applied {
		t.Fatalf("check-in: out=%+v err=%v", out, err)
	}
	got := store.checkin(rec.ID)
	if got.Method == nil || *got.Method != model.CheckinMethodManual {
		t.Fatalf("default method should be manual, got %v", got.Method)
	}
	if got.Latitude == nil || *got.Latitude != lat {
		t.Fatalf("location not stored: %+v", got)
	}

	// 已签到的记录不再变化
	out, err = svc.CheckIn(ctx, rec.ID, 2, "", GeoPoint{})
	if err != nil {
		t.Fatalf("repeat check-in: %v", err)
	}
	if out.Applied || out.Status != model.CheckinStatusCheckedIn {
		t.Fatalf("repeat check-in should be a no-op, got %+v", out)
	}
	if *store.checkin(rec.ID).CheckedInBy != 1 {
		t.Fatal("original staff must be kept")
	}
}

func TestBulkCheckIn(t *testing.T) {
	store, svc, pub := initializedFixture(t, ExcusePolicyOverride)
	ctx := context.Background()

	if _, err := svc.BulkCheckIn(ctx, activityTemple, nil, nil, 1, ""); !errors.Is(err, pkgerrors.GuestIDsRequired) {
		t.Fatalf("empty guests should fail, got %v", err)
	}

	already := mustRecord(t, store, 12, activityTemple)
	if _, err := svc.CheckIn(ctx, already.ID, 1, "", GeoPoint{}); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	dep := int64(departureID)
	result, err := svc.BulkCheckIn(ctx, activityTemple, &dep, []int64{11, 12, 12, 99}, 7, "")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if result.Applied != 1 || result.NotPending != 1 || result.NotFound != 1 {
		t.Fatalf("unexpected totals %+v", result)
	}
	if len(result.Items) != 3 {
		t.Fatalf("duplicate guest ids should be collapsed, items=%+v", result.Items)
	}

	want := map[int64]BulkOutcome{11: BulkOutcomeApplied, 12: BulkOutcomeNotPending, 99: BulkOutcomeNotFound}
	for _, item := range result.Items {
		if want[item.GuestID] != item.Outcome {
			t.Errorf("guest %d outcome = %s, want %s", item.GuestID, item.Outcome, want[item.GuestID])
		}
	}

	got := mustRecord(t, store, 11, activityTemple)
	if got.Method == nil || *got.Method != model.CheckinMethodBulk || *got.CheckedInBy != 7 {
		t.Fatalf("bulk fields not recorded: %+v", got)
	}
	if pub.transitionCount() != 2 {
		t.Fatalf("published %d events, want 2", pub.transitionCount())
	}
}

func TestMarkExcusedPolicies(t *testing.T) {
	ctx := context.Background()
	staff := int64(3)

	t.Run("reason required", func(t *testing.T) {
		store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
		rec := mustRecord(t, store, 11, activityTemple)
		if _, err := svc.MarkExcused(ctx, rec.ID, "   ", &staff); !errors.Is(err, pkgerrors.ExcuseReasonRequired) {
			t.Fatalf("blank reason should fail, got %v", err)
		}
	})

	t.Run("override replaces checked in", func(t *testing.T) {
		store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
		rec := mustRecord(t, store, 11, activityTemple)
		if _, err := svc.CheckIn(ctx, rec.ID, 1, "", GeoPoint{}); err != nil {
			t.Fatal(err)
		}
		out, err := svc.MarkExcused(ctx, rec.ID, "feeling unwell", &staff)
		if err != nil {
			t.Fatal(err)
		}
		if !out.Applied || out.Status != model.CheckinStatusExcused {
			t.Fatalf("override should excuse checked-in record, got %+v", out)
		}
		got := store.checkin(rec.ID)
		if got.ExcuseReason == nil || *got.ExcuseReason != "feeling unwell" {
			t.Fatalf("reason not stored: %+v", got)
		}
		// 原签到人保留，请假人单独记录
		if got.CheckedInBy == nil || *got.CheckedInBy != 1 {
			t.Fatalf("checked_in_by should stay the confirming staff, got %v", got.CheckedInBy)
		}
		if got.ExcusedBy == nil || *got.ExcusedBy != staff {
			t.Fatalf("excused_by = %v, want %d", got.ExcusedBy, staff)
		}
		if g := store.guest(11); g.CheckedInActivities != 0 {
			t.Fatalf("counters should be recomputed, got %+v", g)
		}

		// 已是 excused 不再变化
		out, err = svc.MarkExcused(ctx, rec.ID, "again", &staff)
		if err != nil || out.Applied {
			t.Fatalf("second excuse should be a no-op, out=%+v err=%v", out, err)
		}
	})

	t.Run("pending only leaves terminal records", func(t *testing.T) {
		store, svc, _ := initializedFixture(t, ExcusePolicyPendingOnly)
		checked := mustRecord(t, store, 11, activityTemple)
		if _, err := svc.CheckIn(ctx, checked.ID, 1, "", GeoPoint{}); err != nil {
			t.Fatal(err)
		}
		out, err := svc.MarkExcused(ctx, checked.ID, "late", &staff)
		if err != nil {
			t.Fatal(err)
		}
		if out.Applied || out.Status != model.CheckinStatusCheckedIn {
			t.Fatalf("pending_only must not override, got %+v", out)
		}

		pending := mustRecord(t, store, 12, activityTemple)
		out, err = svc.MarkExcused(ctx, pending.ID, "late", nil)
		if err != nil || !out.Applied {
			t.Fatalf("pending record should be excused, out=%+v err=%v", out, err)
		}
	})
}

func TestAutoMarkMissedWindow(t *testing.T) {
	// 团期 2024-01-10 开始，第 2 天 09:00 的活动，窗口前 30 分钟后 15 分钟
	store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
	ctx := context.Background()

	result, err := svc.AutoMarkMissed(ctx, at(2024, 1, 11, 8, 45))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 0 {
		t.Fatalf("nothing should be missed before the window closes, got %+v", result)
	}

	// 08:45 仍可以签到
	rec := mustRecord(t, store, 11, activityTemple)
	svc.now = func() time.Time { return at(2024, 1, 11, 8, 45) }
	out, err := svc.CheckIn(ctx, rec.ID, 1, "", GeoPoint{})
	if err != nil || !out.Applied {
		t.Fatalf("check-in inside window: out=%+v err=%v", out, err)
	}

	result, err = svc.AutoMarkMissed(ctx, at(2024, 1, 11, 9, 20))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 2 || result.Departures != 1 {
		t.Fatalf("two pending guests should be missed, got %+v", result)
	}

	for _, guestID := range []int64{12, 13} {
		got := mustRecord(t, store, guestID, activityTemple)
		if got.Status != model.CheckinStatusMissed {
			t.Fatalf("guest %d status = %s, want missed", guestID, got.Status)
		}
		if got.Method == nil || *got.Method != model.CheckinMethodSystem {
			t.Fatalf("missed record should carry system method, got %v", got.Method)
		}
		if g := store.guest(guestID); g.MissedActivities != 1 {
			t.Fatalf("guest %d missed counter = %d", guestID, g.MissedActivities)
		}
	}
	if got := mustRecord(t, store, 11, activityTemple); got.Status != model.CheckinStatusCheckedIn {
		t.Fatalf("checked-in record must not be touched, got %s", got.Status)
	}
	// 午餐 12:00 尚未开始
	if got := mustRecord(t, store, 12, activityLunch); got.Status != model.CheckinStatusPending {
		t.Fatalf("future activity must stay pending, got %s", got.Status)
	}
}

func TestAutoCheckIn(t *testing.T) {
	store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
	ctx := context.Background()

	result, err := svc.AutoCheckIn(ctx, at(2024, 1, 11, 12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 3 {
		t.Fatalf("lunch should be auto checked for all guests, got %+v", result)
	}
	for _, guestID := range fixtureGuests {
		if got := mustRecord(t, store, guestID, activityLunch); got.Status != model.CheckinStatusAutoChecked {
			t.Fatalf("guest %d lunch = %s", guestID, got.Status)
		}
		// 寺庙活动不允许自动签到
		if got := mustRecord(t, store, guestID, activityTemple); got.Status != model.CheckinStatusPending {
			t.Fatalf("guest %d temple = %s, want pending", guestID, got.Status)
		}
		if g := store.guest(guestID); g.CheckedInActivities != 1 {
			t.Fatalf("auto_checked should count as attended, guest %+v", g)
		}
	}

	// 再跑一次没有新变化
	result, err = svc.AutoCheckIn(ctx, at(2024, 1, 11, 12, 5))
	if err != nil || result.Applied != 0 {
		t.Fatalf("rerun should be a no-op, result=%+v err=%v", result, err)
	}
}

func TestSweepSettlesCancelledActivities(t *testing.T) {
	store := newFixture()
	store.activities[activityTemple].ActivityStatus = model.ActivityStatusCancelled
	store.activities[activityLunch].ActivityStatus = model.ActivityStatusCancelled
	initializer := NewInitializerService(store, store, nil, testLoc, zap.NewNop())
	if _, err := initializer.InitializeCheckins(context.Background(), departureID); err != nil {
		t.Fatal(err)
	}
	svc := NewCheckinService(store, &fakePublisher{}, ExcusePolicyOverride, zap.NewNop())
	ctx := context.Background()

	// 取消的午餐不自动签到
	result, err := svc.AutoCheckIn(ctx, at(2024, 1, 11, 12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 0 {
		t.Fatalf("cancelled activity must not be auto checked, got %+v", result)
	}

	// 窗口结束后仍为 pending 的记录一律 missed，包括取消的活动
	result, err = svc.AutoMarkMissed(ctx, at(2024, 1, 11, 12, 20))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied != 6 {
		t.Fatalf("temple and lunch records should be missed, got %+v", result)
	}
	for _, guestID := range fixtureGuests {
		for _, activityID := range []int64{activityTemple, activityLunch} {
			if got := mustRecord(t, store, guestID, activityID); got.Status != model.CheckinStatusMissed {
				t.Fatalf("guest %d activity %d = %s, want missed", guestID, activityID, got.Status)
			}
		}
		if g := store.guest(guestID); g.MissedActivities != 2 || g.TotalActivities != 3 {
			t.Fatalf("guest counters should settle, got %+v", g)
		}
	}
}

func TestTransitionRejectsInvalidSources(t *testing.T) {
	store, _, _ := initializedFixture(t, ExcusePolicyOverride)
	rec := mustRecord(t, store, 11, activityTemple)
	ctx := context.Background()
	now := at(2024, 1, 11, 9, 0)

	tests := []struct {
		name string
		from []model.CheckinStatus
		to   model.CheckinStatus
	}{
		{"missed cannot be checked in", []model.CheckinStatus{model.CheckinStatusMissed}, model.CheckinStatusCheckedIn},
		{"excused is final", []model.CheckinStatus{model.CheckinStatusExcused}, model.CheckinStatusMissed},
		{"nothing returns to pending", nil, model.CheckinStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := store.Transition(ctx, rec.ID, tt.from, model.CheckinUpdate{Status: tt.to}, now)
			if !errors.Is(err, repository.ErrInvalidTransition) || ok {
				t.Fatalf("expected invalid transition, ok=%v err=%v", ok, err)
			}
		})
	}
	if got := store.checkin(rec.ID); got.Status != model.CheckinStatusPending {
		t.Fatalf("record changed by rejected transition: %s", got.Status)
	}

	// 未指定源状态时按状态机取值
	ok, err := store.Transition(ctx, rec.ID, nil, model.CheckinUpdate{Status: model.CheckinStatusMissed}, now)
	if err != nil || !ok {
		t.Fatalf("pending -> missed should apply, ok=%v err=%v", ok, err)
	}
}

func TestSweepIsolatesDepartureFailures(t *testing.T) {
	store, svc, _ := initializedFixture(t, ExcusePolicyOverride)
	ctx := context.Background()

	// 第二个团期，同一行程版本
	store.addDeparture(model.Departure{
		BaseModel:     model.BaseModel{ID: 2},
		TourVersionID: tourVersionID,
		Code:          "HAN-240110-B",
		StartDate:     time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
		Status:        model.DepartureStatusInProgress,
	})
	store.addGuest(model.DepartureGuest{BaseModel: model.BaseModel{ID: 21}, DepartureID: 2, GuestName: "guest"})
	initializer := NewInitializerService(store, store, nil, testLoc, zap.NewNop())
	if _, err := initializer.InitializeCheckins(ctx, 2); err != nil {
		t.Fatal(err)
	}
	store.transitionErrOn[2] = errBoom

	result, err := svc.AutoMarkMissed(ctx, at(2024, 1, 11, 9, 20))
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if result.Failed != 1 || result.Applied != 3 || result.Departures != 2 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	for _, guestID := range fixtureGuests {
		if got := mustRecord(t, store, guestID, activityTemple); got.Status != model.CheckinStatusMissed {
			t.Fatalf("healthy departure should still be processed, guest %d = %s", guestID, got.Status)
		}
	}
}

func TestUniqueIDs(t *testing.T) {
	got := uniqueIDs([]int64{3, 1, 3, 0, -2, 1, 5})
	want := []int64{3, 1, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
