package registry

import "fmt"

// AccessDeniedError means the user is authenticated but not a member of
// the trip (or the trip does not exist). It is reported to the acting
// connection only.
type AccessDeniedError struct {
	TripID string
	UserID string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %s denied access to trip %s", e.UserID, e.TripID)
}

// InvalidLocationError means the submitted coordinates failed
// validation. It is reported to the acting connection only.
type InvalidLocationError struct {
	Reason string
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location coordinates: %s", e.Reason)
}
