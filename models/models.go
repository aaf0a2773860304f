// models.go
// Defines the core data structures shared by the store, the live coordinator and the HTTP layer.

package models

import (
	"time"
)

// TestType identifies which kind of exam a ping or submission refers to.
type TestType string

const (
	TestTypeAcademie TestType = "academie"
	TestTypeRadio    TestType = "radio"
	TestTypeMDT      TestType = "mdt"
)

// TestResult is the outcome of a submitted test.
type TestResult string

const (
	ResultAdmis   TestResult = "ADMIS"
	ResultRespins TestResult = "RESPINS"
)

// Valid reports whether r is one of the known results.
func (r TestResult) Valid() bool {
	return r == ResultAdmis || r == ResultRespins
}

// DutyRole is a capability an instructor covers while on duty.
type DutyRole string

const (
	DutyRoleRadio   DutyRole = "radio"
	DutyRoleMDT     DutyRole = "mdt"
	DutyRoleGeneral DutyRole = "general"
)

// PingStatus is the lifecycle state of a help request. Accepted is terminal.
type PingStatus string

const (
	PingOpen     PingStatus = "open"
	PingAccepted PingStatus = "accepted"
)

// Capabilities are derived from guild role membership at login.
type Capabilities struct {
	IsTester bool `firestore:"is_tester" json:"isTester"`
	IsEditor bool `firestore:"is_editor" json:"isEditor"`
	CanRadio bool `firestore:"can_radio" json:"canRadio"`
	CanMDT   bool `firestore:"can_mdt" json:"canMDT"`
}

// Identity is an authenticated user as seen by request handlers.
type Identity struct {
	UserID       string       `json:"id"`
	Tag          string       `json:"tag"`
	Capabilities Capabilities `json:"capabilities"`
}

// Person is the public part of an identity embedded in pings.
type Person struct {
	ID  string `firestore:"id" json:"id"`
	Tag string `firestore:"tag" json:"tag"`
}

// Tester maps a tester code to the identity that owns it.
type Tester struct {
	Code      string    `firestore:"code" json:"-"`
	UserID    string    `firestore:"user_id" json:"userId"`
	CreatedAt time.Time `firestore:"created_at" json:"createdAt"`
}

// TestSubmission is an immutable record of a completed test.
type TestSubmission struct {
	ID         string                 `firestore:"id" json:"id"`
	TesterCode string                 `firestore:"tester_code" json:"testerCode"`
	UserID     string                 `firestore:"user_id" json:"userId"`
	TestType   TestType               `firestore:"test_type" json:"testType"`
	Result     TestResult             `firestore:"result" json:"result"`
	Details    map[string]interface{} `firestore:"details" json:"details,omitempty"`
	CreatedAt  time.Time              `firestore:"created_at" json:"createdAt"`
}

// TestConfig is the editor-managed configuration of a named test.
type TestConfig struct {
	TestName         string `firestore:"test_name" json:"testName"`
	TimeLimitSeconds int    `firestore:"time_limit_seconds" json:"timeLimitSeconds"`
	QuestionsCount   int    `firestore:"questions_count" json:"questionsCount"`
	MaxMistakes      int    `firestore:"max_mistakes" json:"maxMistakes"`
}

// DutyRecord marks a user as available for capability-gated requests.
type DutyRecord struct {
	ID       string     `firestore:"id" json:"id"`
	Tag      string     `firestore:"tag" json:"tag"`
	Roles    []DutyRole `firestore:"roles" json:"roles"`
	Since    time.Time  `firestore:"since" json:"since"`
	LastSeen time.Time  `firestore:"last_seen" json:"lastSeen"`
}

// HasRole reports whether the record covers role.
func (d DutyRecord) HasRole(role DutyRole) bool {
	for _, r := range d.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Ping is a help request from a candidate to on-duty instructors.
type Ping struct {
	ID         string     `firestore:"id" json:"id"`
	TestType   TestType   `firestore:"test_type" json:"testType"`
	Note       string     `firestore:"note" json:"note"`
	Requester  Person     `firestore:"requester" json:"requester"`
	Time       time.Time  `firestore:"time" json:"time"`
	Status     PingStatus `firestore:"status" json:"status"`
	AcceptedBy *Person    `firestore:"accepted_by,omitempty" json:"acceptedBy,omitempty"`
	AcceptedAt *time.Time `firestore:"accepted_at,omitempty" json:"acceptedAt,omitempty"`
}

// Document is the shape of the flat-file store on disk.
type Document struct {
	Testers map[string]Tester         `json:"testers"`
	Tests   map[string]TestSubmission `json:"tests"`
	Configs map[string]TestConfig     `json:"configs"`
	Duty    map[string]DutyRecord     `json:"duty"`
	Pings   []Ping                    `json:"pings"`
}

// Event is a message pushed over the live event stream.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventHello      = "hello"
	EventDutyUpdate = "duty-update"
	EventPing       = "ping"
	EventAck        = "ack"
)

// TestStats aggregates submissions along three dimensions.
type TestStats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"byType"`
	ByResult map[string]int `json:"byResult"`
	ByDay    map[string]int `json:"byDay"`
}
