package router

import "bot-dashboard-go/internal/models"

// Applies reports whether a session-scoped event for eventID should affect
// what is shown for selectedID. Both ids must be concrete.
func Applies(eventID, selectedID models.SessionID) bool {
	return eventID != models.NoSession && selectedID != models.NoSession && eventID == selectedID
}

// Relevant is Applies for session-scoped events and true for every other event.
func Relevant(ev Event, selectedID models.SessionID) bool {
	scoped, ok := ev.(SessionScoped)
	if !ok {
		return true
	}
	return Applies(scoped.SessionScope(), selectedID)
}
