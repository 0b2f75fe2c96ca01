package domain

import (
	"testing"
	"time"
)

func TestRoomStatusOpen(t *testing.T) {
	tests := []struct {
		status RoomStatus
		open   bool
	}{
		{RoomStatusWaiting, true},
		{RoomStatusActive, true},
		{RoomStatusClosed, false},
	}
	for _, tt := range tests {
		if got := tt.status.Open(); got != tt.open {
			t.Errorf("%s.Open() = %v, want %v", tt.status, got, tt.open)
		}
	}
}

func TestAdminEntryLookup(t *testing.T) {
	room := ChatRoom{
		Admins: []AdminEntry{
			{AdminID: "admin-1", Name: "bob", JoinedAt: time.Now(), IsActive: false},
			{AdminID: "admin-2", Name: "carol", JoinedAt: time.Now(), IsActive: true},
		},
	}

	if entry := room.AdminEntry("admin-1"); entry == nil || entry.Name != "bob" {
		t.Errorf("AdminEntry(admin-1) = %+v", entry)
	}
	if entry := room.AdminEntry("admin-9"); entry != nil {
		t.Errorf("AdminEntry(admin-9) = %+v, want nil", entry)
	}
	if !room.HasActiveAdmin() {
		t.Error("HasActiveAdmin() = false, want true")
	}

	room.Admins[1].IsActive = false
	if room.HasActiveAdmin() {
		t.Error("HasActiveAdmin() = true with no active entries")
	}
}
