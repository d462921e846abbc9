package model

import "time"

// BookingTransaction records one committed multi-seat reservation.  It
// is created atomically with the availability change of every seat it
// references and is never modified afterwards.
//
// Fields:
//   - ID: authority-scoped identifier (TXN_<n>).
//   - SeatIDs: seats reserved by the transaction, in request order.
//   - Class: class shared by every seat.
//   - TotalPrice: sum of the seat prices.
//   - ConversationID: conversation id of the requesting participant, if any.
//   - CreatedAt: commit timestamp.
type BookingTransaction struct {
	ID             string
	SeatIDs        []string
	Class          SeatClass
	TotalPrice     int
	ConversationID string
	CreatedAt      time.Time
}
