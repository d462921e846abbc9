package message

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	InfoPrefix         = "REQUEST_INFO:"
	BookingPrefix      = "BOOKING:"
	AlternativePrefix  = "ALTERNATIVE:"
	AlternativesPrefix = "Alternatif kursi tersedia: "
	ErrorPrefix        = "Error: "

	Showtimes = "10:00, 13:00, 16:00, 19:00, 22:00"

	// DisconfirmText is the content of every contention reply.
	DisconfirmText = "Booking gagal! Kursi tidak tersedia atau sudah terpesan. Silakan pilih kursi lain."
)

// ErrMalformed is returned by the Parse functions when content does not
// follow the wire format.
var ErrMalformed = errors.New("malformed content")

// ErrInvalidField is returned by Validate when a value would not survive
// encoding: it contains a field or list separator.
var ErrInvalidField = errors.New("invalid field value")

const (
	fieldSeparators = ",=\r\n"
	seatSeparators  = fieldSeparators + ";"
)

func checkField(name, value, separators string) error {
	if i := strings.IndexAny(value, separators); i >= 0 {
		return fmt.Errorf("%w: %s must not contain %q", ErrInvalidField, name, value[i])
	}
	return nil
}

// InfoRequest asks the authority for the available seats of a class.
type InfoRequest struct {
	Film    string
	Date    string
	Time    string
	Class   string
	Tickets int
}

func (r InfoRequest) String() string {
	return fmt.Sprintf("%sFilm=%s,Date=%s,Time=%s,Class=%s,Tickets=%d",
		InfoPrefix, r.Film, r.Date, r.Time, r.Class, r.Tickets)
}

// Validate reports whether every field can be encoded and parsed back
// unchanged.
func (r InfoRequest) Validate() error {
	return errors.Join(
		checkField("film", r.Film, fieldSeparators),
		checkField("date", r.Date, fieldSeparators),
		checkField("time", r.Time, fieldSeparators),
		checkField("class", r.Class, fieldSeparators),
	)
}

// ParseInfoRequest decodes REQUEST_INFO content.  A ticket count that is
// missing or not a positive number defaults to 1.
func ParseInfoRequest(content string) (InfoRequest, error) {
	body, ok := strings.CutPrefix(content, InfoPrefix)
	if !ok {
		return InfoRequest{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, InfoPrefix)
	}
	r := InfoRequest{Tickets: 1}
	for key, value := range fields(body) {
		switch key {
		case "Film":
			r.Film = value
		case "Date":
			r.Date = value
		case "Time":
			r.Time = value
		case "Class":
			r.Class = value
		case "Tickets":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				r.Tickets = n
			}
		}
	}
	return r, nil
}

// BookingRequest names the exact seats to reserve.
type BookingRequest struct {
	Time  string
	Seats []string
	Class string
}

func (r BookingRequest) String() string {
	return fmt.Sprintf("%sTime=%s,Seats=%s,Class=%s",
		BookingPrefix, r.Time, strings.Join(r.Seats, ";"), r.Class)
}

// Validate reports whether every field can be encoded and parsed back
// unchanged.
func (r BookingRequest) Validate() error {
	errs := []error{
		checkField("time", r.Time, fieldSeparators),
		checkField("class", r.Class, fieldSeparators),
	}
	for _, id := range r.Seats {
		errs = append(errs, checkField("seat", id, seatSeparators))
	}
	return errors.Join(errs...)
}

// ParseBookingRequest decodes BOOKING content.  Empty seat ids are
// dropped; an empty list is left to the caller to reject.
func ParseBookingRequest(content string) (BookingRequest, error) {
	body, ok := strings.CutPrefix(content, BookingPrefix)
	if !ok {
		return BookingRequest{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, BookingPrefix)
	}
	var r BookingRequest
	for key, value := range fields(body) {
		switch key {
		case "Time":
			r.Time = value
		case "Class":
			r.Class = value
		case "Seats":
			for _, id := range strings.Split(value, ";") {
				if id = strings.TrimSpace(id); id != "" {
					r.Seats = append(r.Seats, id)
				}
			}
		}
	}
	return r, nil
}

// AlternativeRequest asks for seats to offer after a rejected booking.
type AlternativeRequest struct {
	Class string
}

func (r AlternativeRequest) String() string { return AlternativePrefix + r.Class }

func ParseAlternativeRequest(content string) (AlternativeRequest, error) {
	body, ok := strings.CutPrefix(content, AlternativePrefix)
	if !ok {
		return AlternativeRequest{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, AlternativePrefix)
	}
	return AlternativeRequest{Class: strings.TrimSpace(body)}, nil
}

// fields splits "k=v,k=v" into a map.  Pairs without '=' are skipped.
func fields(body string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// OfferedSeat is one seat listed in an info or alternatives reply.
// Price is zero for alternatives; Class is empty for info replies.
type OfferedSeat struct {
	ID    string
	Class string
	Price int
}

// InfoOffer is the decoded form of an info reply.
type InfoOffer struct {
	Class string
	Seats []OfferedSeat
	Total int
}

// InfoResponse renders the reply to an info request.
func InfoResponse(film, date, class string, seats []OfferedSeat) string {
	items := make([]string, 0, len(seats))
	for _, s := range seats {
		items = append(items, fmt.Sprintf("%s(%d)", s.ID, s.Price))
	}
	return fmt.Sprintf("Movie: %s, Date: %s, Showtimes: %s, Available %s seats: %s, Total available: %d",
		film, date, Showtimes, class, strings.Join(items, ", "), len(seats))
}

var (
	offerClassRe = regexp.MustCompile(`Available (\S+) seats: `)
	pricedSeatRe = regexp.MustCompile(`([A-Za-z0-9]+)\((\d+)\)`)
	classSeatRe  = regexp.MustCompile(`([A-Za-z0-9]+)\(([A-Za-z]+)\)`)
	totalRe      = regexp.MustCompile(`Total available: (\d+)`)
)

// ParseInfoResponse extracts the offered seats from an info reply.
func ParseInfoResponse(content string) (InfoOffer, error) {
	loc := offerClassRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return InfoOffer{}, fmt.Errorf("%w: no seat listing", ErrMalformed)
	}
	offer := InfoOffer{Class: content[loc[2]:loc[3]]}
	list := content[loc[1]:]
	if i := strings.Index(list, "Total available:"); i >= 0 {
		list = list[:i]
	}
	for _, m := range pricedSeatRe.FindAllStringSubmatch(list, -1) {
		price, _ := strconv.Atoi(m[2])
		offer.Seats = append(offer.Seats, OfferedSeat{ID: m[1], Class: offer.Class, Price: price})
	}
	offer.Total = len(offer.Seats)
	if m := totalRe.FindStringSubmatch(content); m != nil {
		offer.Total, _ = strconv.Atoi(m[1])
	}
	return offer, nil
}

// AlternativesResponse renders the reply to an alternative request.
func AlternativesResponse(seats []OfferedSeat) string {
	items := make([]string, 0, len(seats))
	for _, s := range seats {
		items = append(items, fmt.Sprintf("%s(%s)", s.ID, s.Class))
	}
	return AlternativesPrefix + strings.Join(items, ", ")
}

// IsAlternatives reports whether an INFORM carries alternatives rather
// than an info listing.
func IsAlternatives(content string) bool {
	return strings.HasPrefix(content, AlternativesPrefix)
}

func ParseAlternativesResponse(content string) ([]OfferedSeat, error) {
	body, ok := strings.CutPrefix(content, AlternativesPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrMalformed, AlternativesPrefix)
	}
	var out []OfferedSeat
	for _, m := range classSeatRe.FindAllStringSubmatch(body, -1) {
		out = append(out, OfferedSeat{ID: m[1], Class: m[2]})
	}
	return out, nil
}

// ConfirmResponse renders a successful booking reply.
func ConfirmResponse(txnID string, seats []string, showTime string) string {
	return fmt.Sprintf("Booking berhasil! Transaction ID: %s, Kursi: %s, Waktu: %s",
		txnID, strings.Join(seats, ","), showTime)
}

// ParseTransactionID pulls the transaction id out of a confirm reply.
func ParseTransactionID(content string) (string, bool) {
	_, rest, ok := strings.Cut(content, "Transaction ID:")
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(strings.TrimSpace(rest), ",")
	id = strings.TrimSpace(id)
	return id, id != ""
}

// ErrorContent renders a refuse/failure reason.
func ErrorContent(reason string) string { return ErrorPrefix + reason }

// ErrorReason strips the error prefix, returning content unchanged when
// it has none.
func ErrorReason(content string) string {
	return strings.TrimPrefix(content, ErrorPrefix)
}
