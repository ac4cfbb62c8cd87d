package repository

import (
	"errors"
	"testing"

	"TourCheckin/internal/model"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    []model.CheckinStatus
		to      model.CheckinStatus
		want    []model.CheckinStatus
		wantErr bool
	}{
		{"defaults to pending for check-in", nil, model.CheckinStatusCheckedIn, []model.CheckinStatus{model.CheckinStatusPending}, false},
		{"override excuse", []model.CheckinStatus{model.CheckinStatusMissed}, model.CheckinStatusExcused, []model.CheckinStatus{model.CheckinStatusMissed}, false},
		{"terminal cannot become missed", []model.CheckinStatus{model.CheckinStatusCheckedIn}, model.CheckinStatusMissed, nil, true},
		{"one bad source rejects all", []model.CheckinStatus{model.CheckinStatusPending, model.CheckinStatusExcused}, model.CheckinStatusExcused, nil, true},
		{"nothing reaches pending", nil, model.CheckinStatusPending, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
