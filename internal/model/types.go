package model

import "time"

// ActivityType classifies an entry in the activity log.
type ActivityType string

const (
	ActivityCheckIn          ActivityType = "CHECK_IN"
	ActivityKillSwitch       ActivityType = "KILL_SWITCH_ACTIVATED"
	ActivityKillSwitchFailed ActivityType = "KILL_SWITCH_FAILED"
	ActivityTriggerFired     ActivityType = "TRIGGER_FIRED"
	ActivitySystemTest       ActivityType = "SYSTEM_TEST"
	ActivityReleaseDelivered ActivityType = "RELEASE_DELIVERED"
	ActivityReleaseFailed    ActivityType = "RELEASE_FAILED"
	// ActivityReleaseFinished marks a release whose every pair has an
	// outcome. A TRIGGER_FIRED without one was interrupted.
	ActivityReleaseFinished ActivityType = "RELEASE_FINISHED"
)

var activityTypes = map[ActivityType]struct{}{
	ActivityCheckIn:          {},
	ActivityKillSwitch:       {},
	ActivityKillSwitchFailed: {},
	ActivityTriggerFired:     {},
	ActivitySystemTest:       {},
	ActivityReleaseDelivered: {},
	ActivityReleaseFailed:    {},
	ActivityReleaseFinished:  {},
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	_, ok := activityTypes[t]
	return ok
}

// ActivityRecord is an immutable entry in the append-only activity log.
type ActivityRecord struct {
	ID        int64        `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      ActivityType `json:"activityType"`
	Origin    string       `json:"origin,omitempty"`
	Note      string       `json:"note,omitempty"`
}

// Medium is the kind of address a notification channel delivers to.
type Medium string

const (
	MediumEmail    Medium = "email"
	MediumPhone    Medium = "phone"
	MediumWhatsApp Medium = "whatsapp"
)

// Recipient receives released documents. Email is the unique key.
type Recipient struct {
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone"`
	WhatsApp          string    `json:"whatsapp,omitempty"`
	PreferredLanguage string    `json:"preferredLanguage,omitempty"`
	AddedAt           time.Time `json:"addedAt"`
}

// AddressFor returns the recipient's address for a medium, or "" when the
// recipient has none.
func (r Recipient) AddressFor(m Medium) string {
	switch m {
	case MediumEmail:
		return r.Email
	case MediumPhone:
		return r.Phone
	case MediumWhatsApp:
		if r.WhatsApp != "" {
			return r.WhatsApp
		}
		return r.Phone
	}
	return ""
}

// Document is a stored file released to every recipient on trigger.
type Document struct {
	Name        string    `json:"name"`
	StoredName  string    `json:"storedName"`
	Path        string    `json:"filePath"`
	URL         string    `json:"cloudUrl"`
	Description string    `json:"description"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
