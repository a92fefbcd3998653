// Package models defines the data shared between the registry, its collaborators and the
// transport layer.
package models

import "time"

// Schedule is a booked mentoring slot. It is owned by the schedule store and only read here.
type Schedule struct {
	ID        int64     `gorm:"primaryKey"`
	MentorID  int64     `gorm:"not null;index"`
	MenteeID  int64     `gorm:"not null;index"`
	StartedAt time.Time
	EndedAt   time.Time
}

func (Schedule) TableName() string { return "schedules" }

// Role is the part a user plays in a schedule.
type Role int

const (
	RoleNone Role = iota
	RoleMentor
	RoleMentee
)

func (r Role) String() string {
	switch r {
	case RoleMentor:
		return "mentor"
	case RoleMentee:
		return "mentee"
	default:
		return "none"
	}
}

// RoleOf reports which side of the schedule userID is on.
func (s Schedule) RoleOf(userID int64) Role {
	switch userID {
	case s.MentorID:
		return RoleMentor
	case s.MenteeID:
		return RoleMentee
	default:
		return RoleNone
	}
}

// EnterRequest asks the registry to put a user into a room.
type EnterRequest struct {
	ScheduleID    int64
	UserID        int64
	UserName      string // display name recorded in the membership set
	RoomName      string
	ExpiryMinutes int64
}

// EnterResult is what a successful enter resolves to.
type EnterResult struct {
	RoomName string
	UserName string
	RoomURL  string
}

// RemoveRequest asks the registry to tear a room down.
type RemoveRequest struct {
	ScheduleID     int64
	UserID         int64
	RoomName       string
	ExternalRoomID string // provider-side identifier used for teardown
}

// RemoveResult reports how much registry state a remove deleted.
type RemoveResult struct {
	RoomName       string
	MembersDeleted int64 // number of membership keys removed (0 or 1)
}

// RoomView is one room in a session snapshot.
type RoomView struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Members []string `json:"members"`
}

// SessionSnapshot is a point-in-time read of every known room. It is not atomic across rooms.
type SessionSnapshot struct {
	Rooms []RoomView `json:"rooms"`
}

// URLs projects the snapshot to room name -> room URL.
func (s SessionSnapshot) URLs() map[string]string {
	out := make(map[string]string, len(s.Rooms))
	for _, r := range s.Rooms {
		out[r.Name] = r.URL
	}
	return out
}

// Members projects the snapshot to room name -> member display names.
func (s SessionSnapshot) Members() map[string][]string {
	out := make(map[string][]string, len(s.Rooms))
	for _, r := range s.Rooms {
		members := r.Members
		if members == nil {
			members = []string{}
		}
		out[r.Name] = members
	}
	return out
}
