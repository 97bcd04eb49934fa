package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cart-service/internal/models"
)

// NormalizeAuthenticatedUserID turns the identity handed over by the
// authentication layer into a positive integer user id. Integral numbers and
// decimal digit strings are accepted; anything else is ErrInvalidUserID.
func NormalizeAuthenticatedUserID(v interface{}) (int64, error) {
	var id int64

	switch val := v.(type) {
	case int:
		id = int64(val)
	case int32:
		id = int64(val)
	case int64:
		id = val
	case uint32:
		id = int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return 0, invalidUserID(v)
		}
		id = int64(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val != math.Trunc(val) || val < 1 || val >= math.MaxInt64 {
			return 0, invalidUserID(v)
		}
		id = int64(val)
	case json.Number:
		parsed, err := strconv.ParseInt(val.String(), 10, 64)
		if err != nil {
			return 0, invalidUserID(v)
		}
		id = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" || strings.HasPrefix(s, "+") {
			return 0, invalidUserID(v)
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, invalidUserID(v)
		}
		id = parsed
	default:
		return 0, invalidUserID(v)
	}

	if id <= 0 {
		return 0, invalidUserID(v)
	}
	return id, nil
}

func invalidUserID(v interface{}) error {
	return fmt.Errorf("%w: expected a positive integer, got %v", models.ErrInvalidUserID, v)
}
