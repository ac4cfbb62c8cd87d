package database

import "testing"

func TestOperationName(t *testing.T) {
	tests := map[string]string{
		"SELECT * FROM guest_activity_checkins":                 "select",
		"  insert into guest_activity_checkins (id) values (1)": "insert",
		"UPDATE guest_activity_checkins SET check_in_status=$1": "update",
		"DELETE FROM departures":                                "delete",
		"WITH counts AS (SELECT 1) UPDATE departure_guests":     "cte",
		"":                                                      "query",
	}

	for sql, want := range tests {
		if got := OperationName(sql); got != want {
			t.Errorf("OperationName(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("truncate without limit = %q", got)
	}
}
