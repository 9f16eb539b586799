package models

import "time"

// MinLiveActivityTokenLen is the shortest push-to-start token we will
// attempt a live update against. Anything shorter is treated as absent.
const MinLiveActivityTokenLen = 32

// Recipient is the push-addressing view of a user, owned by the user
// store. DeviceToken and LiveActivityToken are separate credential
// namespaces; conflating them is a correctness bug.
type Recipient struct {
	UserID            string    `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	DeviceToken       string    `json:"device_token"`
	LiveActivityToken string    `json:"live_activity_token,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasLiveActivityToken reports whether the recipient carries a
// push-to-start token that is plausibly deliverable.
func (r *Recipient) HasLiveActivityToken() bool {
	return len(r.LiveActivityToken) >= MinLiveActivityTokenLen
}
