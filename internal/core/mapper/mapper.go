// Package mapper projects device attendance records onto the field names the
// HR endpoint expects.
package mapper

import (
	"fmt"
	"sort"
	"strings"

	"attendance.bridge/internal/core/model"
)

// Device-side field names a schema may reference.
const (
	FieldDeviceUserID       = "deviceUserId"
	FieldRecordTime         = "recordTime"
	FieldAttendanceType     = "attendanceType"
	FieldVerificationMethod = "verificationMethod"
	FieldSerialNumber       = "serialNumber"
	// FieldDeviceID is synthetic: it resolves to the identifier the bridge
	// attached at ingestion (device address or serial).
	FieldDeviceID = "deviceId"
)

var knownFields = map[string]bool{
	FieldDeviceUserID:       true,
	FieldRecordTime:         true,
	FieldAttendanceType:     true,
	FieldVerificationMethod: true,
	FieldSerialNumber:       true,
	FieldDeviceID:           true,
}

// Mapper applies an hrField -> deviceField schema.
type Mapper struct {
	schema     map[string]string
	hrFields   []string
	timeLayout string
}

// New validates schema and returns a Mapper rendering record times with timeLayout.
func New(schema map[string]string, timeLayout string) (*Mapper, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("field mapping is empty")
	}
	hrFields := make([]string, 0, len(schema))
	for hr, dev := range schema {
		if !knownFields[dev] {
			return nil, fmt.Errorf("unknown device field %q for %q", dev, hr)
		}
		hrFields = append(hrFields, hr)
	}
	sort.Strings(hrFields)

	return &Mapper{schema: schema, hrFields: hrFields, timeLayout: timeLayout}, nil
}

// Map builds the HR projection of r. Optional fields that are empty are left out.
func (m *Mapper) Map(r model.AttendanceRecord) model.MappedRecord {
	out := make(model.MappedRecord, len(m.schema))
	for _, hr := range m.hrFields {
		var value string
		switch m.schema[hr] {
		case FieldDeviceUserID:
			value = r.DeviceUserID
		case FieldRecordTime:
			if r.RawRecordTime != "" {
				value = r.RawRecordTime
			} else if !r.RecordTime.IsZero() {
				value = r.RecordTime.Format(m.timeLayout)
			}
		case FieldAttendanceType:
			value = r.AttendanceType
		case FieldVerificationMethod:
			value = r.VerificationMethod
		case FieldSerialNumber:
			value = r.SerialNumber
		case FieldDeviceID:
			value = r.DeviceIdentifier
		}
		if value != "" {
			out[hr] = value
		}
	}
	return out
}

// MapAll maps records preserving order.
func (m *Mapper) MapAll(records []model.AttendanceRecord) []model.MappedRecord {
	out := make([]model.MappedRecord, len(records))
	for i, r := range records {
		out[i] = m.Map(r)
	}
	return out
}

// ParseFieldMapping parses the env form "hrField=deviceField,hrField2=deviceField2".
func ParseFieldMapping(raw string) (map[string]string, error) {
	schema := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		hr, dev, ok := strings.Cut(pair, "=")
		hr, dev = strings.TrimSpace(hr), strings.TrimSpace(dev)
		if !ok || hr == "" || dev == "" {
			return nil, fmt.Errorf("invalid mapping entry %q", pair)
		}
		if !knownFields[dev] {
			return nil, fmt.Errorf("unknown device field %q for %q", dev, hr)
		}
		if _, dup := schema[hr]; dup {
			return nil, fmt.Errorf("duplicate HR field %q", hr)
		}
		schema[hr] = dev
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("field mapping is empty")
	}
	return schema, nil
}
