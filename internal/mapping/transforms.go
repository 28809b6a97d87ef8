package mapping

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"notionsync/internal/client/notion"
	"notionsync/internal/models"
)

// MappingError marks data-shape failures: a required property missing, a
// transform fed the wrong variant, a validation rule violated. These are
// rejected outright, never retried, and never trip the circuit breaker.
type MappingError struct {
	EntityType string
	Key        string
	Reason     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s/%s: %s", e.EntityType, e.Key, e.Reason)
}

func IsMappingError(err error) bool {
	var mapErr *MappingError
	return errors.As(err, &mapErr)
}

func rejectf(entityType, key, format string, args ...any) *MappingError {
	return &MappingError{EntityType: entityType, Key: key, Reason: fmt.Sprintf(format, args...)}
}

// applyTransform extracts a property value as the Go type its transform
// promises. Absent optional values come back as nil.
func applyTransform(transform string, prop notion.Property) (any, error) {
	switch transform {
	case models.TransformTitle, models.TransformRichText:
		return prop.PlainText(), nil
	case models.TransformNumber:
		if prop.Number == nil {
			return nil, nil
		}
		return int(prop.Number.IntPart()), nil
	case models.TransformDecimal:
		if prop.Number == nil {
			return nil, nil
		}
		return *prop.Number, nil
	case models.TransformSelect, models.TransformStatus:
		name := prop.SelectName()
		if name == "" {
			return nil, nil
		}
		return name, nil
	case models.TransformDateStart:
		if prop.Date == nil || prop.Date.Start == "" {
			return nil, nil
		}
		return parseDate(prop.Date.Start)
	case models.TransformDateEnd:
		if prop.Date == nil || prop.Date.End == "" {
			return nil, nil
		}
		return parseDate(prop.Date.End)
	case models.TransformCheckbox:
		if prop.Checkbox == nil {
			return false, nil
		}
		return *prop.Checkbox, nil
	case models.TransformEmail:
		if prop.Email == nil || *prop.Email == "" {
			return nil, nil
		}
		return *prop.Email, nil
	case models.TransformRelationIDs, models.TransformPeopleIDs:
		return prop.RefIDs(), nil
	}
	return nil, fmt.Errorf("unknown transform %q", transform)
}

func parseDate(s string) (any, error) {
	ts, err := notion.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// --- value coercion for field setters ---------------------------------------

func asString(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func asStringPtr(v any) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

func asTimePtr(v any) (*time.Time, bool) {
	if v == nil {
		return nil, true
	}
	ts, ok := v.(time.Time)
	if !ok {
		return nil, false
	}
	return &ts, true
}

func asDecimal(v any) (decimal.Decimal, bool) {
	if v == nil {
		return decimal.Zero, true
	}
	d, ok := v.(decimal.Decimal)
	return d, ok
}

func asDecimalPtr(v any) (*decimal.Decimal, bool) {
	if v == nil {
		return nil, true
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		return nil, false
	}
	return &d, true
}

func asStrings(v any) ([]string, bool) {
	if v == nil {
		return nil, true
	}
	list, ok := v.([]string)
	return list, ok
}

// asFirstString picks the first id when a relation feeds a single-ref column.
func asFirstString(v any) (*string, bool) {
	list, ok := asStrings(v)
	if !ok {
		return nil, false
	}
	if len(list) == 0 {
		return nil, true
	}
	first := list[0]
	return &first, true
}
