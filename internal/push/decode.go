// Package push ingests attendance pushed by ZKTeco devices in ADMS mode: a
// pseudo-HTTP request written straight onto a TCP connection.
package push

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/ports/device"
)

const (
	TableAttLog = "ATTLOG"

	PathCData      = "/iclock/cdata"
	PathGetRequest = "/iclock/getrequest"
)

// ErrMalformedRequest is returned when the request line carries no absolute path.
var ErrMalformedRequest = fmt.Errorf("%w: no request path", core.ErrParse)

// Punch is one tab-separated ATTLOG line. Fields the device left off are empty.
type Punch struct {
	UID          string
	Timestamp    string
	Status       string
	Verification string
}

// ADMSDecoder decodes the request line, query and body of one push chunk.
// It never touches the connection.
type ADMSDecoder struct{}

var _ device.FrameDecoder = ADMSDecoder{}

func (ADMSDecoder) DecodeFrame(raw []byte) (device.Frame, error) {
	text := strings.TrimSpace(string(raw))

	head, body, hasBody := strings.Cut(text, "\r\n\r\n")
	requestLine, _, _ := strings.Cut(head, "\r\n")

	parts := strings.Fields(requestLine)
	if len(parts) < 2 {
		return device.Frame{}, ErrMalformedRequest
	}
	path, rawQuery, _ := strings.Cut(parts[1], "?")
	if !strings.HasPrefix(path, "/") {
		return device.Frame{}, ErrMalformedRequest
	}

	// Firmware query strings are not always well-formed; keep whatever parsed.
	values, _ := url.ParseQuery(rawQuery)
	query := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	body = strings.TrimSpace(body)
	return device.Frame{
		Method:  parts[0],
		Path:    path,
		Query:   query,
		Body:    body,
		HasBody: hasBody && body != "",
	}, nil
}

// DecodeAttLog splits an ATTLOG body into punches. Blank lines are dropped and
// anything past the fourth field is ignored.
func DecodeAttLog(body string) []Punch {
	var punches []Punch
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.Split(line, "\t")
		punches = append(punches, Punch{
			UID:          field(f, 0),
			Timestamp:    field(f, 1),
			Status:       field(f, 2),
			Verification: field(f, 3),
		})
	}
	return punches
}

func field(f []string, i int) string {
	if i < len(f) {
		return strings.TrimSpace(f[i])
	}
	return ""
}

// ToRecords turns punches into attendance records stamped with the peer
// address and serial. The timestamp text is kept verbatim for forwarding;
// RecordTime is parsed in loc with layout and stays zero when the text is
// missing or unreadable. Unreadable timestamps are reported but the line is
// still returned.
func ToRecords(punches []Punch, peer, serial, layout string, loc *time.Location) ([]model.AttendanceRecord, []error) {
	records := make([]model.AttendanceRecord, 0, len(punches))
	var errs []error
	for i, p := range punches {
		var at time.Time
		if p.Timestamp != "" {
			t, err := time.ParseInLocation(layout, p.Timestamp, loc)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: line %d: timestamp %q: %w", core.ErrParse, i+1, p.Timestamp, err))
			} else {
				at = t
			}
		}
		records = append(records, model.AttendanceRecord{
			DeviceUserID:       p.UID,
			RecordTime:         at,
			RawRecordTime:      p.Timestamp,
			AttendanceType:     p.Status,
			VerificationMethod: p.Verification,
			DeviceIdentifier:   peer,
			SerialNumber:       serial,
		})
	}
	return records, errs
}
